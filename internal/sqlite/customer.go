package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dukerupert/invoicer/internal/domain"
)

const customerColumns = `id, account_id, name, email, phone, address, active,
	bank_token, bank_account_id, bank_mask, bank_name, bank_verification_ref,
	bank_verified, bank_verified_at, provider_customer_id, created_at, updated_at`

func scanCustomer(row scanner) (*domain.Customer, error) {
	var (
		c                                  domain.Customer
		active, bankVerified               int
		bankToken, bankAccountID, bankMask sql.NullString
		bankName, bankVerificationRef      sql.NullString
		bankVerifiedAt, providerID         sql.NullString
		createdAt, updatedAt               string
	)

	err := row.Scan(
		&c.ID, &c.AccountID, &c.Name, &c.Email, &c.Phone, &c.Address, &active,
		&bankToken, &bankAccountID, &bankMask, &bankName, &bankVerificationRef,
		&bankVerified, &bankVerifiedAt, &providerID, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Active = active == 1
	c.ProviderCustomerID = providerID.String

	if bankToken.Valid {
		link := &domain.BankLink{
			EncryptedToken:  bankToken.String,
			AccountID:       bankAccountID.String,
			Mask:            bankMask.String,
			Name:            bankName.String,
			VerificationRef: bankVerificationRef.String,
			Verified:        bankVerified == 1,
		}
		if link.VerifiedAt, err = parseNullTime(bankVerifiedAt); err != nil {
			return nil, err
		}
		c.BankLink = link
	}

	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	return &c, nil
}

func getCustomer(ctx context.Context, q querier, id string) (*domain.Customer, error) {
	row := q.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = ?`, id)
	c, err := scanCustomer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrCustomerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get customer %s: %w", id, err)
	}
	return c, nil
}

// bankColumns flattens an optional bank link into column values.
func bankColumns(link *domain.BankLink) []any {
	if link == nil {
		return []any{nil, nil, nil, nil, nil, 0, nil}
	}
	return []any{
		link.EncryptedToken, nullString(link.AccountID), nullString(link.Mask), nullString(link.Name),
		nullString(link.VerificationRef), boolInt(link.Verified), nullTime(link.VerifiedAt),
	}
}

// GetCustomer returns the customer with id.
func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	return getCustomer(ctx, s.db, id)
}

func (t *tx) CreateCustomer(ctx context.Context, c *domain.Customer) error {
	args := []any{c.ID, c.AccountID, c.Name, c.Email, c.Phone, c.Address, boolInt(c.Active)}
	args = append(args, bankColumns(c.BankLink)...)
	args = append(args, nullString(c.ProviderCustomerID), formatTime(c.CreatedAt), formatTime(c.UpdatedAt))

	_, err := t.q.ExecContext(ctx,
		`INSERT INTO customers (`+customerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("failed to insert customer %s: %w", c.ID, err)
	}
	return nil
}

func (t *tx) LockCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	return getCustomer(ctx, t.q, id)
}

func (t *tx) UpdateCustomer(ctx context.Context, c *domain.Customer) error {
	args := []any{c.Name, c.Email, c.Phone, c.Address, boolInt(c.Active)}
	args = append(args, bankColumns(c.BankLink)...)
	args = append(args, nullString(c.ProviderCustomerID), formatTime(c.UpdatedAt), c.ID)

	res, err := t.q.ExecContext(ctx,
		`UPDATE customers SET name = ?, email = ?, phone = ?, address = ?, active = ?,
			bank_token = ?, bank_account_id = ?, bank_mask = ?, bank_name = ?,
			bank_verification_ref = ?, bank_verified = ?, bank_verified_at = ?,
			provider_customer_id = ?, updated_at = ?
		WHERE id = ?`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("failed to update customer %s: %w", c.ID, err)
	}
	if ok, err := rowsAffected(res); err != nil {
		return err
	} else if !ok {
		return domain.ErrCustomerNotFound
	}
	return nil
}
