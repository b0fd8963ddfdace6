package model

import "testing"

func TestCanOrderTransition(t *testing.T) {
	cases := []struct {
		from, to string
		want     bool
	}{
		{OrderStateNotPay, OrderStateSuccess, true},
		{OrderStateNotPay, OrderStateUserPaying, true},
		{OrderStateUserPaying, OrderStateSuccess, true},
		{OrderStateSuccess, OrderStateRefunding, true},
		{OrderStateRefunding, OrderStateRefunded, true},
		{OrderStateSuccess, OrderStateRevoked, true},

		// 终态不回退
		{OrderStateSuccess, OrderStateNotPay, false},
		{OrderStateRefunded, OrderStateSuccess, false},
		{OrderStateClosed, OrderStateSuccess, false},
		// SUCCESS 不能直接跳 REFUNDED，要经过 REFUNDING
		{OrderStateSuccess, OrderStateRefunded, false},
	}

	for _, c := range cases {
		if got := CanOrderTransition(c.from, c.to); got != c.want {
			t.Errorf("CanOrderTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestIsLaterTerminal(t *testing.T) {
	cases := []struct {
		current, target string
		want            bool
	}{
		// REFUNDED 晚于 SUCCESS：迟到的 SUCCESS 回调无害
		{OrderStateRefunded, OrderStateSuccess, true},
		{OrderStateRevoked, OrderStateSuccess, true},
		{OrderStateSuccess, OrderStateSuccess, true},
		// 反向不成立
		{OrderStateSuccess, OrderStateRefunded, false},
		// 非终态不参与比较
		{OrderStateUserPaying, OrderStateSuccess, false},
		{OrderStateRefunded, OrderStateUserPaying, false},
	}

	for _, c := range cases {
		if got := IsLaterTerminal(c.current, c.target); got != c.want {
			t.Errorf("IsLaterTerminal(%s, %s) = %v, want %v", c.current, c.target, got, c.want)
		}
	}
}

func TestIsOrderTerminal(t *testing.T) {
	for _, s := range []string{OrderStateSuccess, OrderStateClosed, OrderStatePayError, OrderStateRevoked, OrderStateRefunded} {
		if !IsOrderTerminal(s) {
			t.Errorf("%s 应为终态", s)
		}
	}
	for _, s := range []string{OrderStateNotPay, OrderStateUserPaying, OrderStateRefunding, OrderStateUnknown} {
		if IsOrderTerminal(s) {
			t.Errorf("%s 不应为终态", s)
		}
	}
}
