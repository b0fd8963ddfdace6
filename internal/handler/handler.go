package handler

import (
	"errors"
	"strconv"

	"islandpay/internal/config"
	"islandpay/internal/notify"
	"islandpay/internal/repository"
	"islandpay/internal/service"
	"islandpay/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	balanceService  *service.BalanceService
	withdrawService *service.WithdrawService
	orderService    *service.OrderService
	shellService    *service.ShellService
}

// NewHandler 创建处理器实例
func NewHandler(db *gorm.DB, rdb *redis.Client, cfg *config.Config, notifier *notify.Notifier) *Handler {
	return &Handler{
		balanceService:  service.NewBalanceService(db, cfg),
		withdrawService: service.NewWithdrawService(db, rdb, cfg, notifier),
		orderService:    service.NewOrderService(db, cfg, notifier),
		shellService:    service.NewShellService(db, cfg, notifier),
	}
}

// ============================================================
// 钱包相关接口
// ============================================================

// GetBalance 查询钱包（不存在则懒创建）
// GET /api/v1/balance?user_id=xxx
func (h *Handler) GetBalance(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		response.ParamError(c, "user_id 参数不能为空")
		return
	}

	balance, err := h.balanceService.GetOrCreate(c.Request.Context(), userID)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, balance)
}

// WithdrawRequest 提现请求
type WithdrawRequest struct {
	UserID        string `json:"user_id" binding:"required"`
	AmountInCents int64  `json:"amount_in_cents" binding:"required,gt=0"`
}

// Withdraw 提现
// POST /api/v1/balance/withdraw
//
// 【关键点】超可提现余额和超单日上限返回不同的业务码，
// 客户端要区分展示；两者都不触发重试
func (h *Handler) Withdraw(c *gin.Context) {
	var req WithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	balance, err := h.withdrawService.CreateWithdraw(c.Request.Context(), req.UserID, req.AmountInCents)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrWithdrawLimit):
			response.BusinessError(c, response.CodeWithdrawLimit, err.Error())
		case errors.Is(err, service.ErrWithdrawDayLimit):
			response.BusinessError(c, response.CodeWithdrawDayLimit, err.Error())
		case errors.Is(err, service.ErrDuplicateRequest):
			response.BusinessError(c, response.CodeDuplicateRequest, err.Error())
		case errors.Is(err, repository.ErrBalanceFrozen):
			response.BusinessError(c, response.CodeBalanceFrozen, err.Error())
		case errors.Is(err, repository.ErrBalanceNotFound):
			response.BusinessError(c, response.CodeNotFound, err.Error())
		default:
			response.ServerError(c, err.Error())
		}
		return
	}

	response.Success(c, balance)
}

// ============================================================
// 订单相关接口
// ============================================================

// CreateOrderRequest 创建订单请求
type CreateOrderRequest struct {
	UserID       string `json:"user_id" binding:"required"`
	PayeeID      string `json:"payee_id"`
	FeeInCents   int64  `json:"fee_in_cents" binding:"required,gt=0"`
	ShellCount   int64  `json:"shell_count"`
	PropertyType string `json:"property_type" binding:"required"`
	PropertyID   string `json:"property_id"`
}

func (r *CreateOrderRequest) toService() *service.CreateOrderRequest {
	return &service.CreateOrderRequest{
		UserID:       r.UserID,
		PayeeID:      r.PayeeID,
		FeeInCents:   r.FeeInCents,
		ShellCount:   r.ShellCount,
		PropertyType: r.PropertyType,
		PropertyID:   r.PropertyID,
	}
}

// CreateWechatOrder 创建微信订单
// POST /api/v1/order/wechat/create
func (h *Handler) CreateWechatOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	order, err := h.orderService.CreateWechatOrder(c.Request.Context(), req.toService())
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, order)
}

// CreateAlipayOrder 创建支付宝订单
// POST /api/v1/order/alipay/create
func (h *Handler) CreateAlipayOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	order, err := h.orderService.CreateAlipayOrder(c.Request.Context(), req.toService())
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, order)
}

// IosVerifyRequest 苹果内购票据提交
type IosVerifyRequest struct {
	CreateOrderRequest
	Receipt       string `json:"receipt" binding:"required"`
	TransactionID string `json:"transaction_id" binding:"required"`
}

// SubmitIosReceipt 提交苹果内购票据
// POST /api/v1/order/ios/verify
func (h *Handler) SubmitIosReceipt(c *gin.Context) {
	var req IosVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	order, err := h.orderService.SubmitIosReceipt(c.Request.Context(), req.CreateOrderRequest.toService(), req.Receipt, req.TransactionID)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, order)
}

// GatewayNotifyRequest 网关回调（已由网关适配层验签并解析）
type GatewayNotifyRequest struct {
	TradeNumber string `json:"trade_number" binding:"required"`
	State       string `json:"state" binding:"required"`
}

// notifyHandler 处理某条通道的网关回调
//
// 【关键点】回调必须幂等：重复/乱序投递统一返回成功，
// 否则网关会无限重试
func (h *Handler) notifyHandler(rail string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req GatewayNotifyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.ParamError(c, "参数错误: "+err.Error())
			return
		}

		order, err := h.orderService.HandleGatewayCallback(c.Request.Context(), rail, req.TradeNumber, req.State)
		if err != nil {
			if errors.Is(err, repository.ErrOrderNotFound) {
				response.BusinessError(c, response.CodeOrderNotFound, err.Error())
				return
			}
			if errors.Is(err, repository.ErrOrderStateInvalid) {
				response.BusinessError(c, response.CodeOrderStateInvalid, err.Error())
				return
			}
			response.ServerError(c, err.Error())
			return
		}

		response.Success(c, gin.H{
			"order_no": order.OrderNo,
			"state":    order.State,
		})
	}
}

// ConfirmIosPayment 苹果票据服务端复核通过回调
// POST /api/v1/order/ios/confirm
func (h *Handler) ConfirmIosPayment(c *gin.Context) {
	var req struct {
		OrderNo string `json:"order_no" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.orderService.ConfirmIosPayment(c.Request.Context(), req.OrderNo); err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{"message": "已确认"})
}

// GetOrder 查询订单详情
// GET /api/v1/order/detail?rail=wechat&order_no=xxx
func (h *Handler) GetOrder(c *gin.Context) {
	rail := c.Query("rail")
	orderNo := c.Query("order_no")
	if rail == "" || orderNo == "" {
		response.ParamError(c, "rail 和 order_no 参数不能为空")
		return
	}

	order, err := h.orderService.GetOrder(c.Request.Context(), rail, orderNo)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			response.BusinessError(c, response.CodeOrderNotFound, err.Error())
			return
		}
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, order)
}

// ListOrders 查询用户订单列表
// GET /api/v1/order/list?rail=wechat&user_id=xxx&page=1&page_size=10
func (h *Handler) ListOrders(c *gin.Context) {
	rail := c.Query("rail")
	userID := c.Query("user_id")
	if rail == "" || userID == "" {
		response.ParamError(c, "rail 和 user_id 参数不能为空")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	orders, total, err := h.orderService.ListUserOrders(c.Request.Context(), rail, userID, page, pageSize)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"list":      orders,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ListPayments 查询创作者的入账流水列表
// GET /api/v1/payment/list?payee_id=xxx&page=1&page_size=10
func (h *Handler) ListPayments(c *gin.Context) {
	payeeID := c.Query("payee_id")
	if payeeID == "" {
		response.ParamError(c, "payee_id 参数不能为空")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	payments, total, err := h.orderService.ListPayeePayments(c.Request.Context(), payeeID, page, pageSize)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"list":      payments,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ============================================================
// 贝壳消费接口
// ============================================================

// SubscribeMembershipRequest 会员订阅请求
type SubscribeMembershipRequest struct {
	UserID       string `json:"user_id" binding:"required"`
	IslandID     string `json:"island_id" binding:"required"`
	PayeeID      string `json:"payee_id" binding:"required"`
	MembershipID string `json:"membership_id" binding:"required"`
	ShellPrice   int64  `json:"shell_price" binding:"required,gt=0"`
	DurationDays int    `json:"duration_days" binding:"required,gt=0"`
}

// SubscribeMembership 贝壳订阅岛屿会员
// POST /api/v1/island/member
func (h *Handler) SubscribeMembership(c *gin.Context) {
	var req SubscribeMembershipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	payment, err := h.shellService.SubscribeMembership(c.Request.Context(),
		req.UserID, req.IslandID, req.PayeeID, req.MembershipID, req.ShellPrice, req.DurationDays)
	if err != nil {
		h.shellError(c, err)
		return
	}

	response.Success(c, payment)
}

// SponsorRequest 赞助请求
type SponsorRequest struct {
	UserID     string `json:"user_id" binding:"required"`
	IslandID   string `json:"island_id" binding:"required"`
	PayeeID    string `json:"payee_id" binding:"required"`
	GiftShells int64  `json:"gift_shells" binding:"required,gt=0"`
}

// Sponsor 贝壳赞助岛主
// POST /api/v1/island/sponsor
func (h *Handler) Sponsor(c *gin.Context) {
	var req SponsorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	payment, err := h.shellService.Sponsor(c.Request.Context(), req.UserID, req.IslandID, req.PayeeID, req.GiftShells)
	if err != nil {
		h.shellError(c, err)
		return
	}

	response.Success(c, payment)
}

// UnlockFeedRequest 动态解锁请求
type UnlockFeedRequest struct {
	UserID     string `json:"user_id" binding:"required"`
	FeedID     string `json:"feed_id" binding:"required"`
	AuthorID   string `json:"author_id" binding:"required"`
	ShellPrice int64  `json:"shell_price" binding:"required,gt=0"`
}

// UnlockFeed 贝壳解锁付费动态
// POST /api/v1/feed/unlock
func (h *Handler) UnlockFeed(c *gin.Context) {
	var req UnlockFeedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	payment, err := h.shellService.UnlockFeed(c.Request.Context(), req.UserID, req.FeedID, req.AuthorID, req.ShellPrice)
	if err != nil {
		h.shellError(c, err)
		return
	}

	response.Success(c, payment)
}

func (h *Handler) shellError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrShellNotEnough):
		response.BusinessError(c, response.CodeShellNotEnough, err.Error())
	case errors.Is(err, service.ErrAlreadyUnlocked):
		response.BusinessError(c, response.CodeAlreadyUnlocked, err.Error())
	case errors.Is(err, repository.ErrBalanceNotFound):
		response.BusinessError(c, response.CodeNotFound, err.Error())
	default:
		response.ServerError(c, err.Error())
	}
}
