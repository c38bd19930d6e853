package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/dukerupert/invoicer/internal/billing"
	"github.com/dukerupert/invoicer/internal/domain"
	"github.com/dukerupert/invoicer/internal/telemetry"
)

// DefaultDeactivationReason is recorded on invoices cancelled by a deactivation
// that gave no reason.
const DefaultDeactivationReason = "customer deactivated"

// TokenSealer seals bank aggregator access tokens before they are stored.
type TokenSealer interface {
	SealToken(customerID, token string) (string, error)
	OpenToken(customerID, sealed string) (string, error)
}

// CustomerService manages customers, their deactivation and their linked bank
// accounts.
type CustomerService struct {
	store     domain.Store
	lifecycle *LifecycleManager
	provider  billing.PaymentProvider
	linker    billing.BankLinker
	sealer    TokenSealer
	metrics   *telemetry.BusinessMetrics
	logger    *slog.Logger
	clock     func() time.Time
	validate  *validator.Validate
}

// NewCustomerService creates a CustomerService. Cascades run through lifecycle.
func NewCustomerService(
	store domain.Store,
	lifecycle *LifecycleManager,
	provider billing.PaymentProvider,
	linker billing.BankLinker,
	sealer TokenSealer,
	metrics *telemetry.BusinessMetrics,
	logger *slog.Logger,
) *CustomerService {
	return &CustomerService{
		store:     store,
		lifecycle: lifecycle,
		provider:  provider,
		linker:    linker,
		sealer:    sealer,
		metrics:   metrics,
		logger:    logger.With("service", "customers"),
		clock:     lifecycle.config.Clock,
		validate:  newValidator(),
	}
}

// Create adds an active customer.
func (s *CustomerService) Create(ctx context.Context, params domain.CreateCustomerParams) (*domain.Customer, error) {
	const op = "customer.create"

	params.Email = strings.TrimSpace(params.Email)
	params.Name = strings.TrimSpace(params.Name)
	if err := validateStruct(s.validate, op, params); err != nil {
		return nil, err
	}

	now := s.clock()
	c := &domain.Customer{
		ID:        uuid.NewString(),
		AccountID: params.AccountID,
		Name:      params.Name,
		Email:     params.Email,
		Phone:     params.Phone,
		Address:   params.Address,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.store.InTx(ctx, func(tx domain.Tx) error {
		return tx.CreateCustomer(ctx, c)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("customer created", "customer_id", c.ID, "account_id", c.AccountID)
	return c, nil
}

// Get returns the customer with id.
func (s *CustomerService) Get(ctx context.Context, id string) (*domain.Customer, error) {
	return s.store.GetCustomer(ctx, id)
}

// Deactivate marks the customer inactive and cancels all of its open
// invoices in the same transaction. It returns how many invoices were
// cancelled. If any cancellation fails nothing is changed.
func (s *CustomerService) Deactivate(ctx context.Context, id, reason string) (int, error) {
	const op = "customer.deactivate"
	if reason == "" {
		reason = DefaultDeactivationReason
	}
	now := s.clock()

	var cancelled []domain.Invoice
	err := s.store.InTx(ctx, func(tx domain.Tx) error {
		c, err := tx.LockCustomer(ctx, id)
		if err != nil {
			return err
		}

		if c.Active {
			c.Active = false
			c.UpdatedAt = now
			if err := tx.UpdateCustomer(ctx, c); err != nil {
				return err
			}
		}

		cancelled, err = s.lifecycle.cancelOpen(ctx, tx, op, id, reason, now)
		return err
	})
	if errors.Is(err, domain.ErrCustomerNotFound) {
		return 0, err
	}
	if err != nil {
		s.logger.Error("deactivation rolled back", "customer_id", id, "error", err)
		failure := domain.CascadeFailure(op, id, err)
		telemetry.CaptureError(ctx, failure, map[string]string{"customer_id": id}, map[string]any{"reason": reason})
		return 0, failure
	}

	s.lifecycle.afterCancelled(ctx, cancelled, now)
	s.metrics.Deactivated(len(cancelled))
	s.logger.Info("customer deactivated",
		"customer_id", id,
		"reason", reason,
		"invoices_cancelled", len(cancelled),
	)
	return len(cancelled), nil
}

// CreateLinkToken starts a bank link session for an active customer.
func (s *CustomerService) CreateLinkToken(ctx context.Context, id string) (string, error) {
	const op = "customer.link_token"

	c, err := s.store.GetCustomer(ctx, id)
	if err != nil {
		return "", err
	}
	if !c.Active {
		return "", domain.ErrCustomerInactive
	}

	token, err := s.linker.CreateLinkToken(ctx, id)
	if err != nil {
		s.logger.Warn("link token creation failed", "customer_id", id, "error", err)
		return "", domain.WrapError(err, domain.EUNAVAILABLE, op, "Bank link could not be started")
	}
	return token, nil
}

// LinkBankAccount exchanges a bank aggregator public token and stores the
// first linked account, unverified, with its access token sealed.
// verificationRef identifies the micro-deposit verification started at the
// payment provider for this account.
func (s *CustomerService) LinkBankAccount(ctx context.Context, id, publicToken, verificationRef string) (*domain.Customer, error) {
	const op = "customer.link_bank"

	if strings.TrimSpace(publicToken) == "" {
		return nil, domain.NewValidationError(op, "public_token", "is required")
	}
	if strings.TrimSpace(verificationRef) == "" {
		return nil, domain.NewValidationError(op, "verification_ref", "is required")
	}

	// Fail before calling the aggregator when the customer cannot be linked.
	current, err := s.store.GetCustomer(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.Active {
		return nil, domain.ErrCustomerInactive
	}

	linked, err := s.linker.LinkAccount(ctx, publicToken)
	if err != nil {
		s.logger.Warn("bank link failed", "customer_id", id, "error", err)
		return nil, domain.WrapError(err, domain.EUNAVAILABLE, op, "Bank account could not be linked")
	}

	sealed, err := s.sealer.SealToken(id, linked.AccessToken)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to seal bank access token")
	}

	now := s.clock()
	var c *domain.Customer
	err = s.store.InTx(ctx, func(tx domain.Tx) error {
		var err error
		c, err = tx.LockCustomer(ctx, id)
		if err != nil {
			return err
		}
		if !c.Active {
			return domain.ErrCustomerInactive
		}

		c.BankLink = &domain.BankLink{
			EncryptedToken:  sealed,
			AccountID:       linked.AccountID,
			Mask:            linked.Mask,
			Name:            linked.Name,
			VerificationRef: verificationRef,
		}
		c.UpdatedAt = now
		return tx.UpdateCustomer(ctx, c)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("bank account linked",
		"customer_id", id,
		"bank_account_id", linked.AccountID,
		"mask", linked.Mask,
	)
	return c, nil
}

// VerifyBankAccount confirms the micro-deposit amounts, in cents, for the
// customer's linked account.
func (s *CustomerService) VerifyBankAccount(ctx context.Context, id string, amounts []int64) (*domain.Customer, error) {
	const op = "customer.verify_bank"

	if len(amounts) != 2 {
		return nil, domain.NewValidationError(op, "amounts", "must contain exactly two micro-deposit amounts")
	}

	current, err := s.store.GetCustomer(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case current.BankLink == nil:
		return nil, domain.ErrBankLinkMissing
	case current.BankLink.Verified:
		return nil, domain.ErrBankLinkAlreadyValid
	case current.BankLink.VerificationRef == "":
		return nil, domain.Invalid(op, "bank account has no pending verification")
	}

	if err := s.provider.VerifyAmounts(ctx, current.BankLink.VerificationRef, amounts); err != nil {
		if errors.Is(err, billing.ErrVerificationFailed) {
			return nil, domain.WrapError(err, domain.EINVALID, op, "Micro-deposit amounts do not match")
		}
		return nil, domain.WrapError(err, domain.EUNAVAILABLE, op, "Bank account could not be verified")
	}

	now := s.clock()
	var c *domain.Customer
	err = s.store.InTx(ctx, func(tx domain.Tx) error {
		var err error
		c, err = tx.LockCustomer(ctx, id)
		if err != nil {
			return err
		}
		// The link may have been replaced while the provider was checking.
		if c.BankLink == nil || c.BankLink.VerificationRef != current.BankLink.VerificationRef {
			return domain.Conflict(op, "bank link changed during verification")
		}
		c.BankLink.Verified = true
		c.BankLink.VerifiedAt = &now
		c.UpdatedAt = now
		return tx.UpdateCustomer(ctx, c)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("bank account verified", "customer_id", id)
	return c, nil
}

// EnsureProviderCustomer creates the payment provider customer for a customer
// whose bank account is linked and verified, with that account attached as its
// payment source. It is a no-op once created.
func (s *CustomerService) EnsureProviderCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	const op = "customer.ensure_provider"

	current, err := s.store.GetCustomer(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.ProviderCustomerID != "" {
		return current, nil
	}
	if !current.CanChargeBankAccount() {
		switch {
		case !current.Active:
			return nil, domain.ErrCustomerInactive
		case current.BankLink == nil:
			return nil, domain.ErrBankLinkMissing
		default:
			return nil, domain.ErrBankLinkUnverified
		}
	}

	accessToken, err := s.sealer.OpenToken(current.ID, current.BankLink.EncryptedToken)
	if err != nil {
		return nil, domain.Internal(err, op, "stored bank access token cannot be opened")
	}

	bankToken, err := s.linker.CreateProcessorToken(ctx, accessToken, current.BankLink.AccountID)
	if err != nil {
		s.logger.Warn("processor token creation failed", "customer_id", id, "error", err)
		return nil, domain.WrapError(err, domain.EUNAVAILABLE, op, "Bank account could not be shared with the payment provider")
	}

	pc, err := s.provider.CreateCustomer(ctx, billing.CreateCustomerParams{
		Email: current.Email,
		Name:  current.Name,
		Phone: current.Phone,
		Metadata: map[string]string{
			"customer_id": current.ID,
			"account_id":  current.AccountID,
		},
		BankAccountToken: bankToken,
		IdempotencyKey:   "customer-" + current.ID,
	})
	if err != nil {
		return nil, domain.WrapError(err, domain.EUNAVAILABLE, op, "Payment provider customer could not be created")
	}

	now := s.clock()
	var c *domain.Customer
	err = s.store.InTx(ctx, func(tx domain.Tx) error {
		var err error
		c, err = tx.LockCustomer(ctx, id)
		if err != nil {
			return err
		}
		c.ProviderCustomerID = pc.ID
		c.UpdatedAt = now
		return tx.UpdateCustomer(ctx, c)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment provider customer created", "customer_id", id, "provider_customer_id", pc.ID)
	return c, nil
}
