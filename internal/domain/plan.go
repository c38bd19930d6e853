package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BillingMethod is how an invoice's amount was arrived at.
type BillingMethod string

const (
	BillingOneTime      BillingMethod = "one-time"
	BillingSubscription BillingMethod = "subscription"
	BillingUsageBased   BillingMethod = "usage-based"
	BillingCustom       BillingMethod = "custom"
)

// Valid reports whether m is a known billing method.
func (m BillingMethod) Valid() bool {
	switch m {
	case BillingOneTime, BillingSubscription, BillingUsageBased, BillingCustom:
		return true
	}
	return false
}

// OrDefault returns m, or one-time when m is unset.
func (m BillingMethod) OrDefault() BillingMethod {
	if m == "" {
		return BillingOneTime
	}
	return m
}

// BillingCycle is how often a subscription plan is billed.
type BillingCycle string

const (
	CycleMonthly   BillingCycle = "monthly"
	CycleQuarterly BillingCycle = "quarterly"
	CycleYearly    BillingCycle = "yearly"
)

// Plan-related domain errors.
var (
	ErrPlanNotFound  = &Error{Code: ENOTFOUND, Message: "Plan not found"}
	ErrDuplicatePlan = &Error{Code: ECONFLICT, Message: "A plan with this name already exists"}
)

// Plan is a subscription offering in an account's catalog.
type Plan struct {
	ID          string
	AccountID   string
	Name        string
	Description string
	Price       decimal.Decimal
	Cycle       BillingCycle
	Features    []string
	CreatedAt   time.Time
}

// CreatePlanParams contains parameters for adding a plan to the catalog.
type CreatePlanParams struct {
	AccountID   string          `json:"account_id" validate:"required"`
	Name        string          `json:"name" validate:"required,max=100"`
	Description string          `json:"description" validate:"max=1000"`
	Price       decimal.Decimal `json:"price"`
	Cycle       BillingCycle    `json:"billing_cycle" validate:"required,oneof=monthly quarterly yearly"`
	Features    []string        `json:"features" validate:"max=50,dive,required,max=200"`
}
