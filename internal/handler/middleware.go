package handler

import (
	"crypto/subtle"
	"net/http"
	"time"

	"riplimit/internal/model"
	"riplimit/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	HeaderRequestID     = "X-Request-ID"
	HeaderUserID        = "X-User-ID"
	HeaderUserRole      = "X-User-Role"
	HeaderInternalToken = "X-Internal-Token"

	requestIDKey = "request_id"
	callerKey    = "caller"
)

// RequestIDMiddleware 沿用网关传入的请求 ID，没有则生成
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// LoggerMiddleware 日志中间件
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if query := c.Request.URL.RawQuery; query != "" {
			path = path + "?" + query
		}

		c.Next()

		entry := log.WithFields(log.Fields{
			"status":     c.Writer.Status(),
			"latency":    time.Since(start).String(),
			"client_ip":  c.ClientIP(),
			"method":     c.Request.Method,
			"path":       path,
			"request_id": c.GetString(requestIDKey),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("[HTTP] 请求失败")
			return
		}
		entry.Info("[HTTP] 请求完成")
	}
}

// RecoveryMiddleware 防止 panic 导致服务崩溃
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.WithField("request_id", c.GetString(requestIDKey)).Errorf("[PANIC] %v", err)
				response.ServerError(c, "internal error")
			}
		}()
		c.Next()
	}
}

// CORSMiddleware 跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Request-ID, X-User-ID, X-User-Role")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// IdentityMiddleware 读取网关注入的用户身份，账本只信任不校验
func IdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader(HeaderUserID)
		if userID == "" {
			response.Error(c, http.StatusUnauthorized, response.CodeUnauthenticated, "missing "+HeaderUserID)
			return
		}

		role := model.Role(c.GetHeader(HeaderUserRole))
		if role == "" {
			role = model.RoleUser
		}
		if !role.Valid() {
			response.Error(c, http.StatusUnauthorized, response.CodeUnauthenticated, "unknown role "+string(role))
			return
		}

		c.Set(callerKey, model.Caller{UserID: userID, Role: role})
		c.Next()
	}
}

// InternalTokenMiddleware 校验内部服务共享令牌，未配置令牌时拒绝所有内部调用
func InternalTokenMiddleware(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(HeaderInternalToken)
		if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			response.Error(c, http.StatusForbidden, response.CodeForbidden, "invalid internal token")
			return
		}
		c.Next()
	}
}

// CallerFrom 取出 IdentityMiddleware 写入的调用方
func CallerFrom(c *gin.Context) model.Caller {
	if v, ok := c.Get(callerKey); ok {
		if caller, ok := v.(model.Caller); ok {
			return caller
		}
	}
	return model.Caller{}
}
