package eligibility

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	connectdomain "github.com/rytkhs/event-pay-sub012/internal/connect/domain"
	eventdomain "github.com/rytkhs/event-pay-sub012/internal/event/domain"
	payoutdomain "github.com/rytkhs/event-pay-sub012/internal/payout/domain"
)

func mustNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

func eligibleInput(t *testing.T) Input {
	t.Helper()
	node := mustNode(t)
	now := time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC)
	return Input{
		Event: eventdomain.Event{
			ID:          node.Generate(),
			OrganizerID: node.Generate(),
			Title:       "spring meetup",
			Fee:         1000,
			EventDate:   now.AddDate(0, 0, -10),
		},
		Account: &connectdomain.ConnectAccount{
			OrganizerID:     node.Generate(),
			StripeAccountID: "acct_123",
			ChargesEnabled:  true,
			PayoutsEnabled:  true,
		},
		Sales: payoutdomain.AggregatedSales{GrossSales: 10000},
		Now:   now,
	}
}

func assertReasons(t *testing.T, got payoutdomain.Eligibility, want ...string) {
	t.Helper()
	if got.Eligible {
		t.Fatalf("expected ineligible, got eligible")
	}
	if len(got.Reasons) != len(want) {
		t.Fatalf("reasons = %v, want %v", got.Reasons, want)
	}
	for i, reason := range want {
		if got.Reasons[i] != reason {
			t.Fatalf("reasons = %v, want %v", got.Reasons, want)
		}
	}
}

func TestCheckEligibleComputesAmounts(t *testing.T) {
	v := New(DefaultConfig())
	in := eligibleInput(t)

	got := v.Check(in)
	if !got.Eligible {
		t.Fatalf("expected eligible, reasons = %v", got.Reasons)
	}
	if got.GrossSales != 10000 {
		t.Fatalf("gross = %d, want 10000", got.GrossSales)
	}
	if got.PlatformFee != 1000 {
		t.Fatalf("fee = %d, want 1000", got.PlatformFee)
	}
	if got.NetAmount != 9000 {
		t.Fatalf("net = %d, want 9000", got.NetAmount)
	}
}

func TestCheckRefundsReduceNet(t *testing.T) {
	v := New(DefaultConfig())
	in := eligibleInput(t)
	in.Sales = payoutdomain.AggregatedSales{
		GrossSales:     10000,
		RefundCount:    2,
		RefundedAmount: 2000,
	}

	got := v.Check(in)
	if !got.Eligible {
		t.Fatalf("expected eligible, reasons = %v", got.Reasons)
	}
	if got.PlatformFee != 800 {
		t.Fatalf("fee = %d, want 800", got.PlatformFee)
	}
	if got.NetAmount != 7200 {
		t.Fatalf("net = %d, want 7200", got.NetAmount)
	}
}

func TestCheckEventNotEnded(t *testing.T) {
	v := New(DefaultConfig())
	in := eligibleInput(t)
	in.Event.EventDate = in.Now.AddDate(0, 0, 1)

	assertReasons(t, v.Check(in), payoutdomain.ReasonEventNotEnded)
}

func TestCheckGracePeriodBoundary(t *testing.T) {
	v := New(DefaultConfig())

	in := eligibleInput(t)
	in.Event.EventDate = in.Now.AddDate(0, 0, -5).Add(time.Second)
	assertReasons(t, v.Check(in), payoutdomain.ReasonGracePeriodActive)

	// Exactly five days after the event the window closes.
	in.Event.EventDate = in.Now.AddDate(0, 0, -5)
	if got := v.Check(in); !got.Eligible {
		t.Fatalf("expected eligible at grace boundary, reasons = %v", got.Reasons)
	}
}

func TestCheckCanceledEvent(t *testing.T) {
	v := New(DefaultConfig())
	in := eligibleInput(t)
	canceledAt := in.Now.AddDate(0, 0, -20)
	in.Event.CanceledAt = &canceledAt

	assertReasons(t, v.Check(in), payoutdomain.ReasonEventCanceled)
}

func TestCheckNoSales(t *testing.T) {
	v := New(DefaultConfig())
	in := eligibleInput(t)
	in.Sales = payoutdomain.AggregatedSales{}

	assertReasons(t, v.Check(in), payoutdomain.ReasonNoSales)
}

func TestCheckFullyRefundedCountsAsNoSales(t *testing.T) {
	v := New(DefaultConfig())
	in := eligibleInput(t)
	in.Sales = payoutdomain.AggregatedSales{
		GrossSales:     5000,
		RefundCount:    5,
		RefundedAmount: 5000,
	}

	assertReasons(t, v.Check(in), payoutdomain.ReasonNoSales)
}

func TestCheckBelowMinimumAmount(t *testing.T) {
	v := New(Config{MinimumPayoutAmount: 500})
	in := eligibleInput(t)
	// Net after fee lands at 450, below the 500 floor.
	in.Sales = payoutdomain.AggregatedSales{GrossSales: 500}

	assertReasons(t, v.Check(in), payoutdomain.ReasonBelowMinimumAmount)
}

func TestCheckConnectAccountMissing(t *testing.T) {
	v := New(DefaultConfig())
	in := eligibleInput(t)
	in.Account = nil

	assertReasons(t, v.Check(in), payoutdomain.ReasonConnectAccountMissing)
}

func TestCheckPayoutsDisabled(t *testing.T) {
	v := New(DefaultConfig())
	in := eligibleInput(t)
	in.Account.PayoutsEnabled = false

	assertReasons(t, v.Check(in), payoutdomain.ReasonPayoutsDisabled)
}

func TestCheckExistingPayoutBlocks(t *testing.T) {
	v := New(DefaultConfig())
	node := mustNode(t)

	for _, status := range []payoutdomain.PayoutStatus{
		payoutdomain.PayoutStatusPending,
		payoutdomain.PayoutStatusProcessing,
		payoutdomain.PayoutStatusCompleted,
	} {
		in := eligibleInput(t)
		in.ExistingPayout = &payoutdomain.Payout{ID: node.Generate(), Status: status}
		assertReasons(t, v.Check(in), payoutdomain.ReasonPayoutAlreadyExists)
	}
}

func TestCheckFailedPayoutDoesNotBlock(t *testing.T) {
	v := New(DefaultConfig())
	node := mustNode(t)
	in := eligibleInput(t)
	in.ExistingPayout = &payoutdomain.Payout{ID: node.Generate(), Status: payoutdomain.PayoutStatusFailed}

	if got := v.Check(in); !got.Eligible {
		t.Fatalf("expected eligible after failed payout, reasons = %v", got.Reasons)
	}
}

func TestCheckCollectsAllReasons(t *testing.T) {
	v := New(DefaultConfig())
	in := eligibleInput(t)
	in.Event.EventDate = in.Now.AddDate(0, 0, 1)
	in.Sales = payoutdomain.AggregatedSales{}
	in.Account = nil

	got := v.Check(in)
	if got.Eligible {
		t.Fatalf("expected ineligible")
	}
	if len(got.Reasons) != 3 {
		t.Fatalf("reasons = %v, want 3 entries", got.Reasons)
	}
}

func TestMinimumQualifyingSales(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		want int64
	}{
		{"defaults", DefaultConfig(), 111},
		{"higher minimum", Config{MinimumPayoutAmount: 500, PlatformFeeBasisPoints: 1000}, 555},
		{"no minimum", Config{MinimumPayoutAmount: 1, PlatformFeeBasisPoints: 1000}, 1},
		{"confiscatory fee", Config{MinimumPayoutAmount: 100, PlatformFeeBasisPoints: 10000}, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.cfg.MinimumQualifyingSales(); got != tc.want {
				t.Fatalf("minimum qualifying sales = %d, want %d", got, tc.want)
			}
		})
	}
}

// Sales at the threshold must actually pass Check; one unit below must not.
func TestMinimumQualifyingSalesMatchesCheck(t *testing.T) {
	cfg := DefaultConfig()
	v := New(cfg)
	threshold := cfg.MinimumQualifyingSales()

	in := eligibleInput(t)
	in.Sales = payoutdomain.AggregatedSales{GrossSales: threshold}
	if got := v.Check(in); !got.Eligible {
		t.Fatalf("sales %d should be eligible, reasons = %v", threshold, got.Reasons)
	}

	in.Sales = payoutdomain.AggregatedSales{GrossSales: threshold - 1}
	if got := v.Check(in); got.Eligible {
		t.Fatalf("sales %d should be below minimum", threshold-1)
	}
}
