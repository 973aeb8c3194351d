package handler

import (
	"errors"
	"net/http"

	"riplimit/internal/model"
	"riplimit/pkg/response"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// writeError 把账本错误映射为 HTTP 状态码和错误码
func writeError(c *gin.Context, err error) {
	var insufficient *model.InsufficientBalanceError
	switch {
	case errors.As(err, &insufficient):
		response.ErrorWithData(c, http.StatusBadRequest, response.CodeInsufficientBalance, err.Error(), gin.H{
			"available": insufficient.Available,
			"requested": insufficient.Requested,
			"shortfall": insufficient.Shortfall(),
		})
	case errors.Is(err, model.ErrInsufficientBalance):
		response.Error(c, http.StatusBadRequest, response.CodeInsufficientBalance, err.Error())
	case errors.Is(err, model.ErrInvalidAmount):
		response.Error(c, http.StatusBadRequest, response.CodeInvalidAmount, err.Error())
	case errors.Is(err, model.ErrInvalidTransactionType):
		response.Error(c, http.StatusBadRequest, response.CodeInvalidType, err.Error())
	case errors.Is(err, model.ErrInvalidOutcome):
		response.Error(c, http.StatusBadRequest, response.CodeInvalidOutcome, err.Error())
	case errors.Is(err, model.ErrInvalidArgument):
		response.Error(c, http.StatusBadRequest, response.CodeInvalidArgument, err.Error())
	case errors.Is(err, model.ErrDuplicateHold):
		response.Error(c, http.StatusConflict, response.CodeDuplicateHold, err.Error())
	case errors.Is(err, model.ErrNoMatchingHold):
		response.Error(c, http.StatusNotFound, response.CodeNoMatchingHold, err.Error())
	case errors.Is(err, model.ErrUnauthorized):
		response.Error(c, http.StatusForbidden, response.CodeForbidden, err.Error())
	case errors.Is(err, model.ErrStoreUnavailable):
		log.WithField("request_id", c.GetString(requestIDKey)).Errorf("[HTTP] 存储不可用: %v", err)
		response.Error(c, http.StatusServiceUnavailable, response.CodeStoreUnavailable, "ledger temporarily unavailable, retry later")
	default:
		log.WithField("request_id", c.GetString(requestIDKey)).Errorf("[HTTP] 未知错误: %v", err)
		response.ServerError(c, "internal error")
	}
}
