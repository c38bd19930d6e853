package domain

import (
	"time"
)

// =============================================================================
// CUSTOMER DOMAIN TYPES
// =============================================================================

// Customer-related domain errors.
var (
	ErrCustomerNotFound     = &Error{Code: ENOTFOUND, Message: "Customer not found"}
	ErrBankLinkMissing      = &Error{Code: EINVALID, Message: "Customer has no linked bank account"}
	ErrBankLinkUnverified   = &Error{Code: EINVALID, Message: "Customer bank account is not verified"}
	ErrBankLinkAlreadyValid = &Error{Code: ECONFLICT, Message: "Customer bank account already verified"}
)

// Customer is a billed party owned by an issuing account.
type Customer struct {
	ID        string
	AccountID string
	Name      string
	Email     string
	Phone     string
	Address   string
	Active    bool

	// BankLink is nil until a bank account has been linked.
	BankLink *BankLink

	// ProviderCustomerID is the card processor's customer id, once created.
	ProviderCustomerID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// BankLink is a bank account linked through the bank aggregator.
type BankLink struct {
	// EncryptedToken is the aggregator access token sealed with the
	// application key. The plain token never reaches storage.
	EncryptedToken string
	AccountID      string
	Mask           string
	Name           string

	// VerificationRef identifies the pending micro-deposit verification at the
	// payment provider.
	VerificationRef string
	Verified        bool
	VerifiedAt      *time.Time
}

// CanChargeBankAccount reports whether a bank transfer may be initiated for c.
func (c *Customer) CanChargeBankAccount() bool {
	return c.Active && c.BankLink != nil && c.BankLink.Verified && c.BankLink.EncryptedToken != ""
}

// CreateCustomerParams contains parameters for creating a customer.
type CreateCustomerParams struct {
	AccountID string `json:"account_id" validate:"required"`
	Name      string `json:"name" validate:"required,max=200"`
	Email     string `json:"email" validate:"required,email"`
	Phone     string `json:"phone" validate:"max=40"`
	Address   string `json:"address" validate:"max=500"`
}

// LinkedAccount is what the bank aggregator returns after a successful link.
type LinkedAccount struct {
	AccessToken string
	AccountID   string
	Mask        string
	Name        string
}
