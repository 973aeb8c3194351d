package handler

import (
	"context"
	"math"
	"strconv"
	"time"

	"riplimit/internal/model"
	"riplimit/internal/service"
	"riplimit/pkg/response"

	"github.com/gin-gonic/gin"
)

// 处理器依赖的服务接口，由 internal/service 中的实现满足

type AccountService interface {
	GetBalance(ctx context.Context, userID string) (*service.Balance, error)
}

type MutatorService interface {
	Credit(ctx context.Context, userID string, amount int64, txType model.TransactionType, meta service.CreditMeta) (*model.Transaction, error)
	Adjust(ctx context.Context, caller model.Caller, userID string, delta int64, reason string) (*model.Transaction, error)
}

type HoldService interface {
	PlaceHold(ctx context.Context, userID, bidID, auctionID string, amount int64) (*model.Hold, error)
	ResolveHold(ctx context.Context, bidID string, outcome model.HoldOutcome) (*service.ResolveResult, error)
}

type HistoryService interface {
	List(ctx context.Context, userID string, filter service.ListFilter) (*service.TransactionPage, error)
}

type AdminService interface {
	GetSystemStats(ctx context.Context, caller model.Caller) (*service.SystemStats, error)
	GetAccountDetail(ctx context.Context, caller model.Caller, userID string) (*service.AccountDetail, error)
	AuditAccount(ctx context.Context, caller model.Caller, userID string) (*service.AuditResult, error)
	ListOpenHolds(ctx context.Context, caller model.Caller, olderThan time.Time, limit int) ([]*model.Hold, error)
}

// Handler 统一处理器
type Handler struct {
	accounts        AccountService
	mutator         MutatorService
	holds           HoldService
	history         HistoryService
	admin           AdminService
	defaultPageSize int
	maxPageSize     int
	now             func() time.Time
}

type Services struct {
	Accounts AccountService
	Mutator  MutatorService
	Holds    HoldService
	History  HistoryService
	Admin    AdminService
}

func NewHandler(s Services, defaultPageSize, maxPageSize int) *Handler {
	return &Handler{
		accounts:        s.Accounts,
		mutator:         s.Mutator,
		holds:           s.Holds,
		history:         s.History,
		admin:           s.Admin,
		defaultPageSize: defaultPageSize,
		maxPageSize:     maxPageSize,
		now:             time.Now,
	}
}

// ============================================================
// 内部接口：竞拍服务与支付服务调用
// ============================================================

type PlaceHoldRequest struct {
	UserID    string `json:"user_id" binding:"required"`
	BidID     string `json:"bid_id" binding:"required"`
	AuctionID string `json:"auction_id"`
	Amount    int64  `json:"amount"` // 非正数由服务层返回 INVALID_AMOUNT
}

// PlaceHold 出价冻结
// POST /internal/v1/holds
func (h *Handler) PlaceHold(c *gin.Context) {
	var req PlaceHoldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	hold, err := h.holds.PlaceHold(c.Request.Context(), req.UserID, req.BidID, req.AuctionID, req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Created(c, hold)
}

type ResolveHoldRequest struct {
	Outcome model.HoldOutcome `json:"outcome" binding:"required"`
}

// ResolveHold 按竞拍结果结算冻结，可重复调用
// POST /internal/v1/holds/:bid_id/resolve
func (h *Handler) ResolveHold(c *gin.Context) {
	var req ResolveHoldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	result, err := h.holds.ResolveHold(c.Request.Context(), c.Param("bid_id"), req.Outcome)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, result)
}

type PurchaseRequest struct {
	UserID     string `json:"user_id" binding:"required"`
	Amount     int64  `json:"amount"`
	PaymentRef string `json:"payment_ref" binding:"required"`
}

// Purchase 支付成功后入账，同一 payment_ref 只入账一次
// POST /internal/v1/purchases
func (h *Handler) Purchase(c *gin.Context) {
	var req PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	txn, err := h.mutator.Credit(c.Request.Context(), req.UserID, req.Amount, model.TransactionTypePurchase,
		service.CreditMeta{PaymentRef: req.PaymentRef})
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, txn)
}

// ============================================================
// 用户接口
// ============================================================

// GetBalance 查询当前用户余额
// GET /api/v1/account/balance
func (h *Handler) GetBalance(c *gin.Context) {
	caller := CallerFrom(c)
	balance, err := h.accounts.GetBalance(c.Request.Context(), caller.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, balance)
}

// ListTransactions 当前用户的流水，最新的在前
// GET /api/v1/account/transactions?type=bid_block&page=1&pageSize=20
func (h *Handler) ListTransactions(c *gin.Context) {
	page, pageSize, ok := h.pageParams(c)
	if !ok {
		return
	}

	result, err := h.history.List(c.Request.Context(), CallerFrom(c).UserID, service.ListFilter{
		Type:   model.TransactionType(c.Query("type")),
		Limit:  pageSize,
		Offset: (page - 1) * pageSize,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	response.Page(c, result.Transactions, response.NewPagination(page, result.Limit, result.Total))
}

// ============================================================
// 管理员接口
// ============================================================

// GetStats GET /api/v1/admin/stats
func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.admin.GetSystemStats(c.Request.Context(), CallerFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, stats)
}

// GetUserDetail GET /api/v1/admin/users/:user_id
func (h *Handler) GetUserDetail(c *gin.Context) {
	detail, err := h.admin.GetAccountDetail(c.Request.Context(), CallerFrom(c), c.Param("user_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, detail)
}

// AuditUser GET /api/v1/admin/users/:user_id/audit
func (h *Handler) AuditUser(c *gin.Context) {
	result, err := h.admin.AuditAccount(c.Request.Context(), CallerFrom(c), c.Param("user_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, result)
}

type AdjustRequest struct {
	Delta  int64  `json:"delta" binding:"required"`
	Reason string `json:"reason" binding:"required"`
}

// AdjustUser 管理员调账
// POST /api/v1/admin/users/:user_id/adjust
func (h *Handler) AdjustUser(c *gin.Context) {
	var req AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	txn, err := h.mutator.Adjust(c.Request.Context(), CallerFrom(c), c.Param("user_id"), req.Delta, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, txn)
}

// ListOpenHolds 超过 older_than 仍未结算的冻结
// GET /api/v1/admin/holds/open?older_than=24h&limit=50
func (h *Handler) ListOpenHolds(c *gin.Context) {
	olderThan := time.Duration(0)
	if raw := c.Query("older_than"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			response.ParamError(c, "older_than must be a non-negative duration such as 30m or 24h")
			return
		}
		olderThan = d
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil {
		response.ParamError(c, "limit must be an integer")
		return
	}

	holds, err := h.admin.ListOpenHolds(c.Request.Context(), CallerFrom(c), h.now().Add(-olderThan), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	if holds == nil {
		holds = []*model.Hold{}
	}
	response.Success(c, holds)
}

func (h *Handler) pageParams(c *gin.Context) (page, pageSize int, ok bool) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		response.ParamError(c, "page must be a positive integer")
		return 0, 0, false
	}
	pageSize, err = strconv.Atoi(c.DefaultQuery("pageSize", strconv.Itoa(h.defaultPageSize)))
	if err != nil || pageSize < 1 {
		response.ParamError(c, "pageSize must be a positive integer")
		return 0, 0, false
	}
	if pageSize > h.maxPageSize {
		pageSize = h.maxPageSize
	}
	// offset = (page-1)*pageSize 不能溢出
	if page-1 > math.MaxInt/pageSize {
		response.ParamError(c, "page is too large")
		return 0, 0, false
	}
	return page, pageSize, true
}
