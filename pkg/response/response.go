package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// 错误码，放在 error 文本之外便于调用方判断
const (
	CodeInvalidArgument     = "INVALID_ARGUMENT"
	CodeInvalidAmount       = "INVALID_AMOUNT"
	CodeInvalidType         = "INVALID_TRANSACTION_TYPE"
	CodeInvalidOutcome      = "INVALID_OUTCOME"
	CodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	CodeDuplicateHold       = "DUPLICATE_HOLD"
	CodeNoMatchingHold      = "NO_MATCHING_HOLD"
	CodeUnauthenticated     = "UNAUTHENTICATED"
	CodeForbidden           = "FORBIDDEN"
	CodeStoreUnavailable    = "STORE_UNAVAILABLE"
	CodeInternal            = "INTERNAL"
)

type Response struct {
	Success    bool        `json:"success"`
	Data       interface{} `json:"data,omitempty"`
	Error      string      `json:"error,omitempty"`
	Code       string      `json:"code,omitempty"`
	Pagination *Pagination `json:"pagination,omitempty"`
}

type Pagination struct {
	Page            int   `json:"page"`
	PageSize        int   `json:"pageSize"`
	TotalCount      int64 `json:"totalCount"`
	TotalPages      int   `json:"totalPages"`
	HasNextPage     bool  `json:"hasNextPage"`
	HasPreviousPage bool  `json:"hasPreviousPage"`
}

// NewPagination page 从 1 开始
func NewPagination(page, pageSize int, total int64) *Pagination {
	if page < 1 {
		page = 1
	}
	totalPages := 0
	if pageSize > 0 {
		totalPages = int((total + int64(pageSize) - 1) / int64(pageSize))
	}
	return &Pagination{
		Page:            page,
		PageSize:        pageSize,
		TotalCount:      total,
		TotalPages:      totalPages,
		HasNextPage:     page < totalPages,
		HasPreviousPage: page > 1,
	}
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    data,
	})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Success: true,
		Data:    data,
	})
}

func Page(c *gin.Context, data interface{}, pagination *Pagination) {
	c.JSON(http.StatusOK, Response{
		Success:    true,
		Data:       data,
		Pagination: pagination,
	})
}

func Error(c *gin.Context, status int, code, message string) {
	ErrorWithData(c, status, code, message, nil)
}

// ErrorWithData 失败时附带结构化信息，例如余额缺口
func ErrorWithData(c *gin.Context, status int, code, message string, data interface{}) {
	c.AbortWithStatusJSON(status, Response{
		Success: false,
		Data:    data,
		Error:   message,
		Code:    code,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, CodeInvalidArgument, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, http.StatusInternalServerError, CodeInternal, message)
}
