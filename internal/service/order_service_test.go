package service

import (
	"context"
	"testing"
	"time"

	"islandpay/internal/model"
	"islandpay/internal/repository"

	"gorm.io/gorm"
)

func newOrderService(t *testing.T) (*OrderService, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	return NewOrderService(db, newTestConfig(), nil), db
}

func countPayments(t *testing.T, db *gorm.DB, orderNo string) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&model.Payment{}).Where("order_id = ?", orderNo).Count(&n).Error; err != nil {
		t.Fatalf("统计流水失败: %v", err)
	}
	return n
}

func loadPayment(t *testing.T, db *gorm.DB, orderNo string) *model.Payment {
	t.Helper()
	var p model.Payment
	if err := db.Where("order_id = ?", orderNo).First(&p).Error; err != nil {
		t.Fatalf("读取流水失败: %v", err)
	}
	return &p
}

func TestCreateOrderValidation(t *testing.T) {
	svc, _ := newOrderService(t)
	ctx := context.Background()

	if _, err := svc.CreateWechatOrder(ctx, &CreateOrderRequest{UserID: "u1", FeeInCents: 0, PropertyType: model.PropertyTypeShell}); err == nil {
		t.Error("零金额订单应被拒绝")
	}

	// 内容购买必须带收款方
	if _, err := svc.CreateWechatOrder(ctx, &CreateOrderRequest{UserID: "u1", FeeInCents: 100, PropertyType: model.PropertyTypeFeed}); err == nil {
		t.Error("无收款方的内容订单应被拒绝")
	}

	order, err := svc.CreateWechatOrder(ctx, &CreateOrderRequest{UserID: "u1", FeeInCents: 100, ShellCount: 10, PropertyType: model.PropertyTypeShell})
	if err != nil {
		t.Fatalf("创建订单: %v", err)
	}
	if order.State != model.OrderStateNotPay {
		t.Errorf("新订单应为 NOTPAY: %s", order.State)
	}
	if order.OrderNo == "" || order.TradeNumber == "" {
		t.Error("订单号/交易号未生成")
	}
}

// 重复 SUCCESS 回调：订单状态只迁移一次，流水恰好一条
func TestDuplicateSuccessCallback(t *testing.T) {
	svc, db := newOrderService(t)
	ctx := context.Background()

	seedBalance(t, db, &model.Balance{UserID: "creator", WithdrawPercent: 70})

	order, err := svc.CreateWechatOrder(ctx, &CreateOrderRequest{
		UserID: "fan", PayeeID: "creator", FeeInCents: 990,
		PropertyType: model.PropertyTypeMembership, PropertyID: "m1",
	})
	if err != nil {
		t.Fatalf("创建订单: %v", err)
	}

	for i := 0; i < 3; i++ {
		got, err := svc.HandleGatewayCallback(ctx, repository.RailWechat, order.TradeNumber, model.OrderStateSuccess)
		if err != nil {
			t.Fatalf("第 %d 次回调: %v", i+1, err)
		}
		if got.State != model.OrderStateSuccess {
			t.Fatalf("订单状态: %s", got.State)
		}
	}

	if n := countPayments(t, db, order.OrderNo); n != 1 {
		t.Fatalf("重复回调产生了 %d 条流水", n)
	}

	p := loadPayment(t, db, order.OrderNo)
	if p.State != model.PaymentStateOpen {
		t.Errorf("微信流水回调即确认，应为 OPEN: %s", p.State)
	}
	if p.Type != model.PaymentTypeMembership {
		t.Errorf("流水类型错误: %s", p.Type)
	}
	if p.WithdrawPercent != 70 {
		t.Errorf("分成比例应快照收款方当前值 70: %d", p.WithdrawPercent)
	}
	if p.AmountInCents != 990 {
		t.Errorf("流水金额错误: %d", p.AmountInCents)
	}

	wantEarliest := time.Now().AddDate(0, 0, 6).UnixMilli()
	if p.ValidAfter < wantEarliest {
		t.Errorf("成熟期应为支付后约 7 天: validAfter=%d", p.ValidAfter)
	}
}

// 乱序终态回调：已 REFUNDED 的订单收到迟到的 SUCCESS，空操作
func TestOutOfOrderTerminalCallback(t *testing.T) {
	svc, _ := newOrderService(t)
	ctx := context.Background()

	order, err := svc.CreateAlipayOrder(ctx, &CreateOrderRequest{
		UserID: "fan", PayeeID: "creator", FeeInCents: 500,
		PropertyType: model.PropertyTypeSupport, PropertyID: "island1",
	})
	if err != nil {
		t.Fatalf("创建订单: %v", err)
	}

	if _, err := svc.HandleGatewayCallback(ctx, repository.RailAlipay, order.TradeNumber, model.OrderStateSuccess); err != nil {
		t.Fatalf("SUCCESS 回调: %v", err)
	}
	if _, err := svc.HandleGatewayCallback(ctx, repository.RailAlipay, order.TradeNumber, model.OrderStateRefunded); err != nil {
		t.Fatalf("REFUNDED 回调: %v", err)
	}

	// 迟到的 SUCCESS
	got, err := svc.HandleGatewayCallback(ctx, repository.RailAlipay, order.TradeNumber, model.OrderStateSuccess)
	if err != nil {
		t.Fatalf("迟到回调不应报错: %v", err)
	}
	if got.State != model.OrderStateRefunded {
		t.Errorf("迟到的 SUCCESS 不应回退终态: %s", got.State)
	}
}

// 退款：订单推进到 REFUNDED，未结算的流水关闭，不入账
func TestRefundClosesUnsettledPayment(t *testing.T) {
	svc, db := newOrderService(t)
	ctx := context.Background()

	order, err := svc.CreateWechatOrder(ctx, &CreateOrderRequest{
		UserID: "fan", PayeeID: "creator", FeeInCents: 500,
		PropertyType: model.PropertyTypeSupport, PropertyID: "island1",
	})
	if err != nil {
		t.Fatalf("创建订单: %v", err)
	}

	if _, err := svc.HandleGatewayCallback(ctx, repository.RailWechat, order.TradeNumber, model.OrderStateSuccess); err != nil {
		t.Fatalf("SUCCESS 回调: %v", err)
	}

	// REFUNDED 直达，中间补 REFUNDING 一跳
	got, err := svc.HandleGatewayCallback(ctx, repository.RailWechat, order.TradeNumber, model.OrderStateRefunded)
	if err != nil {
		t.Fatalf("REFUNDED 回调: %v", err)
	}
	if got.State != model.OrderStateRefunded {
		t.Errorf("订单状态: %s", got.State)
	}

	if p := loadPayment(t, db, order.OrderNo); p.State != model.PaymentStateClosed {
		t.Errorf("退款后流水应关闭: %s", p.State)
	}
}

// SUCCESS 前撤销：没有流水可关，订单直接 REVOKED
func TestRevokeBeforeSuccess(t *testing.T) {
	svc, db := newOrderService(t)
	ctx := context.Background()

	order, err := svc.CreateWechatOrder(ctx, &CreateOrderRequest{
		UserID: "fan", PayeeID: "creator", FeeInCents: 500,
		PropertyType: model.PropertyTypeSupport, PropertyID: "island1",
	})
	if err != nil {
		t.Fatalf("创建订单: %v", err)
	}

	got, err := svc.HandleGatewayCallback(ctx, repository.RailWechat, order.TradeNumber, model.OrderStateRevoked)
	if err != nil {
		t.Fatalf("REVOKED 回调: %v", err)
	}
	if got.State != model.OrderStateRevoked {
		t.Errorf("订单状态: %s", got.State)
	}
	if n := countPayments(t, db, order.OrderNo); n != 0 {
		t.Errorf("撤销的订单不应有流水: %d", n)
	}
}

// 无法解析的网关状态落 UNKNOWN，等人工介入
func TestUnparsableStateFallsToUnknown(t *testing.T) {
	svc, _ := newOrderService(t)
	ctx := context.Background()

	order, err := svc.CreateWechatOrder(ctx, &CreateOrderRequest{
		UserID: "fan", FeeInCents: 500, ShellCount: 50, PropertyType: model.PropertyTypeShell,
	})
	if err != nil {
		t.Fatalf("创建订单: %v", err)
	}

	got, err := svc.HandleGatewayCallback(ctx, repository.RailWechat, order.TradeNumber, "GATEWAY_GIBBERISH")
	if err != nil {
		t.Fatalf("回调: %v", err)
	}
	if got.State != model.OrderStateUnknown {
		t.Errorf("应落 UNKNOWN: %s", got.State)
	}
}

// 贝壳充值订单支付成功：买家贝壳同事务到账
func TestShellPurchaseCreditsBuyer(t *testing.T) {
	svc, db := newOrderService(t)
	ctx := context.Background()

	order, err := svc.CreateWechatOrder(ctx, &CreateOrderRequest{
		UserID: "fan", FeeInCents: 600, ShellCount: 60, PropertyType: model.PropertyTypeShell,
	})
	if err != nil {
		t.Fatalf("创建订单: %v", err)
	}

	if _, err := svc.HandleGatewayCallback(ctx, repository.RailWechat, order.TradeNumber, model.OrderStateSuccess); err != nil {
		t.Fatalf("SUCCESS 回调: %v", err)
	}

	// 买家钱包在回调路径懒创建并到账
	b := loadBalance(t, db, "fan")
	if b.BalanceInShells != 60 {
		t.Errorf("贝壳未到账: %d", b.BalanceInShells)
	}
	if b.BalanceInCents != 0 {
		t.Errorf("充值不应产生现金余额: %d", b.BalanceInCents)
	}
}

// 苹果通道：回调成功后流水 PENDING，票据复核通过才 OPEN
func TestIosPaymentPendingUntilConfirmed(t *testing.T) {
	svc, db := newOrderService(t)
	ctx := context.Background()

	order, err := svc.SubmitIosReceipt(ctx, &CreateOrderRequest{
		UserID: "fan", FeeInCents: 3000, ShellCount: 300, PropertyType: model.PropertyTypeShell,
	}, "base64-receipt", "txn-001")
	if err != nil {
		t.Fatalf("提交票据: %v", err)
	}
	if order.State != model.OrderStateUserPaying {
		t.Errorf("苹果订单初始应为 USERPAYING: %s", order.State)
	}

	if _, err := svc.HandleGatewayCallback(ctx, repository.RailIos, order.TradeNumber, model.OrderStateSuccess); err != nil {
		t.Fatalf("SUCCESS 回调: %v", err)
	}

	if p := loadPayment(t, db, order.OrderNo); p.State != model.PaymentStatePending {
		t.Fatalf("苹果流水复核前应为 PENDING: %s", p.State)
	}

	if err := svc.ConfirmIosPayment(ctx, order.OrderNo); err != nil {
		t.Fatalf("ConfirmIosPayment: %v", err)
	}
	if p := loadPayment(t, db, order.OrderNo); p.State != model.PaymentStateOpen {
		t.Errorf("复核通过后应为 OPEN: %s", p.State)
	}

	// 重复确认是空操作
	if err := svc.ConfirmIosPayment(ctx, order.OrderNo); err != nil {
		t.Errorf("重复确认不应报错: %v", err)
	}
}

// 收款方没有钱包时，派生流水用默认分成比例
func TestPercentFallsBackToDefault(t *testing.T) {
	svc, db := newOrderService(t)
	ctx := context.Background()

	order, err := svc.CreateWechatOrder(ctx, &CreateOrderRequest{
		UserID: "fan", PayeeID: "newcomer", FeeInCents: 1000,
		PropertyType: model.PropertyTypeSupport, PropertyID: "island1",
	})
	if err != nil {
		t.Fatalf("创建订单: %v", err)
	}

	if _, err := svc.HandleGatewayCallback(ctx, repository.RailWechat, order.TradeNumber, model.OrderStateSuccess); err != nil {
		t.Fatalf("SUCCESS 回调: %v", err)
	}

	if p := loadPayment(t, db, order.OrderNo); p.WithdrawPercent != 88 {
		t.Errorf("应回落默认分成 88: %d", p.WithdrawPercent)
	}
}
