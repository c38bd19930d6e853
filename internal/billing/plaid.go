package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/plaid/plaid-go/v20/plaid"

	"github.com/dukerupert/invoicer/internal/domain"
)

// PlaidConfig contains configuration for the Plaid bank linker.
type PlaidConfig struct {
	ClientID string
	Secret   string

	// Environment is "sandbox", "production" or a full base URL.
	Environment string

	// ClientName is shown to customers in the Link flow.
	ClientName string
}

// Validate checks that required configuration is present.
func (c *PlaidConfig) Validate() error {
	if c.ClientID == "" {
		return errors.New("plaid: client id is required")
	}
	if c.Secret == "" {
		return errors.New("plaid: secret is required")
	}
	return nil
}

func (c *PlaidConfig) environment() plaid.Environment {
	switch strings.ToLower(c.Environment) {
	case "", "sandbox":
		return plaid.Sandbox
	case "production":
		return plaid.Production
	default:
		return plaid.Environment(c.Environment)
	}
}

// PlaidLinker implements BankLinker with Plaid Link, Auth and the Stripe
// processor integration.
type PlaidLinker struct {
	client     *plaid.APIClient
	clientName string
	logger     *slog.Logger
}

var _ BankLinker = (*PlaidLinker)(nil)

// NewPlaidLinker creates a Plaid API client for config.
func NewPlaidLinker(config PlaidConfig, logger *slog.Logger) (*PlaidLinker, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	cfg := plaid.NewConfiguration()
	cfg.AddDefaultHeader("PLAID-CLIENT-ID", config.ClientID)
	cfg.AddDefaultHeader("PLAID-SECRET", config.Secret)
	cfg.UseEnvironment(config.environment())

	clientName := config.ClientName
	if clientName == "" {
		clientName = "Invoicer"
	}

	return &PlaidLinker{
		client:     plaid.NewAPIClient(cfg),
		clientName: clientName,
		logger:     logger,
	}, nil
}

// CreateLinkToken creates a Link token for the Auth product, keyed to the
// customer so Plaid can recognize returning users.
func (p *PlaidLinker) CreateLinkToken(ctx context.Context, customerID string) (string, error) {
	var req plaid.LinkTokenCreateRequest
	req.SetClientName(p.clientName)
	req.SetLanguage("en")
	req.SetCountryCodes([]plaid.CountryCode{plaid.COUNTRYCODE_US})
	req.SetUser(*plaid.NewLinkTokenCreateRequestUser(customerID))
	req.SetProducts([]plaid.Products{plaid.PRODUCTS_AUTH})

	resp, _, err := p.client.PlaidApi.LinkTokenCreate(ctx).
		LinkTokenCreateRequest(req).
		Execute()
	if err != nil {
		return "", fmt.Errorf("failed to create link token: %w", plaidError(err))
	}
	return resp.GetLinkToken(), nil
}

// LinkAccount exchanges the public token for an access token and reads the
// item's first bank account.
func (p *PlaidLinker) LinkAccount(ctx context.Context, publicToken string) (*domain.LinkedAccount, error) {
	exchange, _, err := p.client.PlaidApi.ItemPublicTokenExchange(ctx).
		ItemPublicTokenExchangeRequest(*plaid.NewItemPublicTokenExchangeRequest(publicToken)).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to exchange public token: %w", plaidError(err))
	}
	accessToken := exchange.GetAccessToken()

	auth, _, err := p.client.PlaidApi.AuthGet(ctx).
		AuthGetRequest(*plaid.NewAuthGetRequest(accessToken)).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to read bank accounts: %w", plaidError(err))
	}

	accounts := auth.GetAccounts()
	if len(accounts) == 0 {
		return nil, ErrNoBankAccounts
	}
	account := accounts[0]

	p.logger.Info("bank account linked",
		"item_id", exchange.GetItemId(),
		"accounts", len(accounts),
	)

	return &domain.LinkedAccount{
		AccessToken: accessToken,
		AccountID:   account.GetAccountId(),
		Mask:        account.GetMask(),
		Name:        account.GetName(),
	}, nil
}

// CreateProcessorToken creates a Stripe bank account token for accountID, so
// the account can be attached to a Stripe customer without its numbers ever
// passing through this service.
func (p *PlaidLinker) CreateProcessorToken(ctx context.Context, accessToken, accountID string) (string, error) {
	resp, _, err := p.client.PlaidApi.ProcessorStripeBankAccountTokenCreate(ctx).
		ProcessorStripeBankAccountTokenCreateRequest(*plaid.NewProcessorStripeBankAccountTokenCreateRequest(accessToken, accountID)).
		Execute()
	if err != nil {
		return "", fmt.Errorf("failed to create stripe bank account token: %w", plaidError(err))
	}
	return resp.GetStripeBankAccountToken(), nil
}
