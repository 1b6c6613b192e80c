package eligibility

import (
	"time"

	connectdomain "github.com/rytkhs/event-pay-sub012/internal/connect/domain"
	eventdomain "github.com/rytkhs/event-pay-sub012/internal/event/domain"
	payoutdomain "github.com/rytkhs/event-pay-sub012/internal/payout/domain"
)

// Config mirrors the payout knobs the validator needs. Amounts are minor
// currency units.
type Config struct {
	GracePeriodDays        int
	MinimumPayoutAmount    int64
	PlatformFeeBasisPoints int64
}

func DefaultConfig() Config {
	return Config{
		GracePeriodDays:        5,
		MinimumPayoutAmount:    100,
		PlatformFeeBasisPoints: 1000,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.GracePeriodDays <= 0 {
		c.GracePeriodDays = defaults.GracePeriodDays
	}
	if c.MinimumPayoutAmount <= 0 {
		c.MinimumPayoutAmount = defaults.MinimumPayoutAmount
	}
	if c.PlatformFeeBasisPoints <= 0 {
		c.PlatformFeeBasisPoints = defaults.PlatformFeeBasisPoints
	}
	return c
}

// MinimumQualifyingSales returns the smallest sales total, net of refunds,
// whose post-fee amount still clears the minimum payout. The batch query
// uses it so zero-sales and sub-minimum events never occupy candidate
// slots they can only ever be skipped from.
func (c Config) MinimumQualifyingSales() int64 {
	c = c.withDefaults()
	keep := 10000 - c.PlatformFeeBasisPoints
	if keep <= 0 || c.MinimumPayoutAmount <= 1 {
		return 1
	}
	// Smallest s with s - s*bp/10000 >= minimum, under integer division.
	return (c.MinimumPayoutAmount-1)*10000/keep + 1
}

// Input is everything the validator may look at. It never reads storage.
type Input struct {
	Event          eventdomain.Event
	Account        *connectdomain.ConnectAccount
	Sales          payoutdomain.AggregatedSales
	ExistingPayout *payoutdomain.Payout
	Now            time.Time
}

type Validator struct {
	cfg Config
}

func New(cfg Config) Validator {
	return Validator{cfg: cfg.withDefaults()}
}

// Check decides payout eligibility. It is a pure function over its input:
// failing a rule appends a reason instead of returning an error, so the
// batch path can skip silently while the manual path surfaces the reasons.
func (v Validator) Check(in Input) payoutdomain.Eligibility {
	now := in.Now.UTC()
	fee := in.Sales.Net() * v.cfg.PlatformFeeBasisPoints / 10000
	result := payoutdomain.Eligibility{
		GrossSales:  in.Sales.GrossSales,
		RefundedAmt: in.Sales.RefundedAmount,
		PlatformFee: fee,
		NetAmount:   in.Sales.Net() - fee,
	}

	if in.Event.Canceled() {
		result.Reasons = append(result.Reasons, payoutdomain.ReasonEventCanceled)
	}
	if in.Event.EventDate.After(now) {
		result.Reasons = append(result.Reasons, payoutdomain.ReasonEventNotEnded)
	} else {
		graceEnd := in.Event.EventDate.AddDate(0, 0, v.cfg.GracePeriodDays)
		if graceEnd.After(now) {
			result.Reasons = append(result.Reasons, payoutdomain.ReasonGracePeriodActive)
		}
	}

	if in.Sales.Net() <= 0 {
		result.Reasons = append(result.Reasons, payoutdomain.ReasonNoSales)
	} else if result.NetAmount < v.cfg.MinimumPayoutAmount {
		result.Reasons = append(result.Reasons, payoutdomain.ReasonBelowMinimumAmount)
	}

	switch {
	case in.Account == nil:
		result.Reasons = append(result.Reasons, payoutdomain.ReasonConnectAccountMissing)
	case !in.Account.PayoutsEnabled:
		result.Reasons = append(result.Reasons, payoutdomain.ReasonPayoutsDisabled)
	}

	if in.ExistingPayout != nil && in.ExistingPayout.Status != payoutdomain.PayoutStatusFailed {
		result.Reasons = append(result.Reasons, payoutdomain.ReasonPayoutAlreadyExists)
	}

	result.Eligible = len(result.Reasons) == 0
	return result
}
