package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dukerupert/invoicer/internal/domain"
)

const customerColumns = `id, account_id, name, email, phone, address, active,
	bank_token, bank_account_id, bank_mask, bank_name, bank_verification_ref,
	bank_verified, bank_verified_at, provider_customer_id, created_at, updated_at`

func scanCustomer(row scanner) (*domain.Customer, error) {
	var (
		c                                  domain.Customer
		bankToken, bankAccountID, bankMask *string
		bankName, bankVerificationRef      *string
		providerID                         *string
		bankVerified                       bool
		bankVerifiedAt                     *time.Time
	)

	err := row.Scan(
		&c.ID, &c.AccountID, &c.Name, &c.Email, &c.Phone, &c.Address, &c.Active,
		&bankToken, &bankAccountID, &bankMask, &bankName, &bankVerificationRef,
		&bankVerified, &bankVerifiedAt, &providerID, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.ProviderCustomerID = deref(providerID)
	if bankToken != nil {
		c.BankLink = &domain.BankLink{
			EncryptedToken:  *bankToken,
			AccountID:       deref(bankAccountID),
			Mask:            deref(bankMask),
			Name:            deref(bankName),
			VerificationRef: deref(bankVerificationRef),
			Verified:        bankVerified,
			VerifiedAt:      bankVerifiedAt,
		}
	}
	return &c, nil
}

func getCustomer(ctx context.Context, q querier, query, id string) (*domain.Customer, error) {
	c, err := scanCustomer(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrCustomerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get customer %s: %w", id, err)
	}
	return c, nil
}

// bankArgs flattens an optional bank link into column values.
func bankArgs(link *domain.BankLink) []any {
	if link == nil {
		return []any{nil, nil, nil, nil, nil, false, nil}
	}
	return []any{
		link.EncryptedToken, optional(link.AccountID), optional(link.Mask), optional(link.Name),
		optional(link.VerificationRef), link.Verified, link.VerifiedAt,
	}
}

// GetCustomer returns the customer with id.
func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	return getCustomer(ctx, s.pool, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id)
}

func (t *tx) CreateCustomer(ctx context.Context, c *domain.Customer) error {
	args := []any{c.ID, c.AccountID, c.Name, c.Email, c.Phone, c.Address, c.Active}
	args = append(args, bankArgs(c.BankLink)...)
	args = append(args, optional(c.ProviderCustomerID), c.CreatedAt, c.UpdatedAt)

	_, err := t.q.Exec(ctx,
		`INSERT INTO customers (`+customerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		args...,
	)
	if isUniqueViolation(err) {
		return domain.Conflict("customer.create", "customer already exists")
	}
	if err != nil {
		return fmt.Errorf("failed to insert customer %s: %w", c.ID, err)
	}
	return nil
}

// LockCustomer reads the customer and holds its row lock until the transaction ends.
func (t *tx) LockCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	return getCustomer(ctx, t.q, `SELECT `+customerColumns+` FROM customers WHERE id = $1 FOR UPDATE`, id)
}

func (t *tx) UpdateCustomer(ctx context.Context, c *domain.Customer) error {
	args := []any{c.Name, c.Email, c.Phone, c.Address, c.Active}
	args = append(args, bankArgs(c.BankLink)...)
	args = append(args, optional(c.ProviderCustomerID), c.UpdatedAt, c.ID)

	tag, err := t.q.Exec(ctx,
		`UPDATE customers SET name = $1, email = $2, phone = $3, address = $4, active = $5,
			bank_token = $6, bank_account_id = $7, bank_mask = $8, bank_name = $9,
			bank_verification_ref = $10, bank_verified = $11, bank_verified_at = $12,
			provider_customer_id = $13, updated_at = $14
		WHERE id = $15`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("failed to update customer %s: %w", c.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCustomerNotFound
	}
	return nil
}
