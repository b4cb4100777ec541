package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hupe1980/underwriter/core"
	"github.com/hupe1980/underwriter/logging"
)

const maxBodyBytes = 1 << 20

// Options configures a Client.
type Options struct {
	// BaseURL of the provider API, e.g. http://localhost:3233.
	BaseURL string

	// Timeout bounds a single request. Defaults to 10s.
	Timeout time.Duration

	// BankPath and DocumentsPath locate the bank and document sources.
	BankPath      string
	DocumentsPath string

	// HTTPClient overrides the underlying client.
	HTTPClient *http.Client

	Logger logging.Logger
}

// Client talks to the provider API over HTTP.
type Client struct {
	baseURL       string
	bankPath      string
	documentsPath string
	httpClient    *http.Client
	logger        logging.Logger
}

// NewClient creates a Client.
func NewClient(optFns ...func(o *Options)) *Client {
	opts := Options{
		BaseURL:       "http://localhost:3233",
		Timeout:       10 * time.Second,
		BankPath:      "/bank",
		DocumentsPath: "/documents",
		Logger:        logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	return &Client{
		baseURL:       strings.TrimRight(opts.BaseURL, "/"),
		bankPath:      opts.BankPath,
		documentsPath: opts.DocumentsPath,
		httpClient:    httpClient,
		logger:        opts.Logger,
	}
}

// FetchBankAccount returns the applicant's bank-account record.
func (c *Client) FetchBankAccount(ctx context.Context, applicantID string) (core.BankAccount, error) {
	var acct core.BankAccount
	if err := c.get(ctx, "bank", c.bankPath, applicantID, &acct); err != nil {
		return core.BankAccount{}, err
	}

	return acct, nil
}

type documentsResponse struct {
	Documents []core.Document `json:"documents"`
}

// FetchDocuments returns the applicant's supporting documents.
func (c *Client) FetchDocuments(ctx context.Context, applicantID string) ([]core.Document, error) {
	var resp documentsResponse
	if err := c.get(ctx, "documents", c.documentsPath, applicantID, &resp); err != nil {
		return nil, err
	}

	if resp.Documents == nil {
		resp.Documents = []core.Document{}
	}

	return resp.Documents, nil
}

// Bureau returns a credit bureau served by this client at path. name is
// recorded as the report's provider.
func (c *Client) Bureau(name, path string) *Bureau {
	return &Bureau{client: c, name: name, path: path}
}

type availability struct {
	Available *bool `json:"available"`
}

func (c *Client) get(ctx context.Context, source, path, applicantID string, out any) error {
	u := c.baseURL + path + "?" + url.Values{"applicant_id": {applicantID}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("%s: %w: %v", source, core.ErrPermanent, err)
	}

	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		c.logger.Debug("Provider request failed", "source", source, "error", err)

		return fmt.Errorf("%s: %w: request failed", source, core.ErrTransient)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%s: %w: reading response", source, core.ErrTransient)
	}

	if err := classify(source, resp.StatusCode, body); err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: %w: undecodable response", source, core.ErrPermanent)
	}

	return nil
}

func classify(source string, status int, body []byte) error {
	if unavailable(body) {
		return fmt.Errorf("%s: %w (status %d)", source, core.ErrProviderUnavailable, status)
	}

	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status >= 500:
		return fmt.Errorf("%s: %w: status %d", source, core.ErrTransient, status)
	case status == http.StatusNotFound:
		return fmt.Errorf("%s: %w: applicant not found", source, core.ErrPermanent)
	default:
		return fmt.Errorf("%s: %w: status %d", source, core.ErrPermanent, status)
	}
}

func unavailable(body []byte) bool {
	var a availability
	if err := json.Unmarshal(body, &a); err != nil {
		return false
	}

	return a.Available != nil && !*a.Available
}

// Bureau is a credit bureau reached through a Client.
type Bureau struct {
	client *Client
	name   string
	path   string
}

// Name returns the bureau name recorded on its reports.
func (b *Bureau) Name() string { return b.name }

type creditResponse struct {
	Score json.Number `json:"score"`
}

// FetchCreditReport fetches and validates a credit report. The score must lie
// in the bureau range; the risk tier is derived from it.
func (b *Bureau) FetchCreditReport(ctx context.Context, applicantID string) (core.CreditReport, error) {
	var resp creditResponse
	if err := b.client.get(ctx, b.name, b.path, applicantID, &resp); err != nil {
		return core.CreditReport{}, err
	}

	return reportFromScore(b.name, resp.Score)
}

func reportFromScore(name string, raw json.Number) (core.CreditReport, error) {
	f, err := raw.Float64()
	if err != nil {
		return core.CreditReport{}, fmt.Errorf("%s: %w: missing credit score", name, core.ErrPermanent)
	}

	score := int(f)
	if float64(score) != f || !core.ValidScore(score) {
		return core.CreditReport{}, fmt.Errorf("%s: %w: invalid credit score %v", name, core.ErrPermanent, raw)
	}

	return core.CreditReport{
		Provider:  name,
		Score:     score,
		RiskTier:  core.RiskTierForScore(score),
		Available: true,
	}, nil
}

// IsUnavailable reports whether err is an explicit unavailability answer.
func IsUnavailable(err error) bool {
	return errors.Is(err, core.ErrProviderUnavailable)
}
