package handler

import (
	"islandpay/internal/repository"

	"github.com/gin-gonic/gin"
)

// SetupRouter 注册所有路由
func SetupRouter(h *Handler) *gin.Engine {
	r := gin.New()

	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(RecoveryMiddleware())
	r.Use(CORSMiddleware())

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")
	{
		// 钱包
		balance := v1.Group("/balance")
		{
			balance.GET("", h.GetBalance)
			balance.POST("/withdraw", h.Withdraw)
		}

		// 订单与网关回调
		order := v1.Group("/order")
		{
			order.POST("/wechat/create", h.CreateWechatOrder)
			order.POST("/wechat/notify", h.notifyHandler(repository.RailWechat))
			order.POST("/alipay/create", h.CreateAlipayOrder)
			order.POST("/alipay/notify", h.notifyHandler(repository.RailAlipay))
			order.POST("/ios/verify", h.SubmitIosReceipt)
			order.POST("/ios/notify", h.notifyHandler(repository.RailIos))
			order.POST("/ios/confirm", h.ConfirmIosPayment)
			order.GET("/detail", h.GetOrder)
			order.GET("/list", h.ListOrders)
		}

		// 流水
		payment := v1.Group("/payment")
		{
			payment.GET("/list", h.ListPayments)
		}

		// 贝壳消费
		island := v1.Group("/island")
		{
			island.POST("/member", h.SubscribeMembership)
			island.POST("/sponsor", h.Sponsor)
		}
		v1.POST("/feed/unlock", h.UnlockFeed)
	}

	return r
}
