package bankdata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Client talks to a GoCardless-style bank account data API. It manages the
// short-lived access token transparently; all calls are plain
// request/response with explicit value types.
type Client struct {
	baseURL    string
	secretID   string
	secretKey  string
	httpClient *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// APIError is a non-2xx response from the provider.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bankdata: provider returned %d: %s", e.StatusCode, e.Body)
}

// NewClient creates a provider client. baseURL is the API root, e.g.
// "https://bankaccountdata.gocardless.com/api/v2".
func NewClient(baseURL, secretID, secretKey string) *Client {
	return &Client{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		secretID:  secretID,
		secretKey: secretKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type tokenResponse struct {
	Access        string `json:"access"`
	AccessExpires int    `json:"access_expires"`
}

// ensureToken fetches a fresh access token when none is held or the current
// one is near expiry.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Until(c.tokenExpiry) > time.Minute {
		return c.accessToken, nil
	}

	body, err := json.Marshal(map[string]string{
		"secret_id":  c.secretID,
		"secret_key": c.secretKey,
	})
	if err != nil {
		return "", fmt.Errorf("bankdata: marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/token/new/", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("bankdata: build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("bankdata: token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", &APIError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("bankdata: decode token response: %w", err)
	}

	c.accessToken = tok.Access
	c.tokenExpiry = time.Now().Add(time.Duration(tok.AccessExpires) * time.Second)
	return c.accessToken, nil
}

// do performs one authenticated JSON call and decodes the response into out.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload, out any) error {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return err
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("bankdata: marshal request body: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("bankdata: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("bankdata: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &APIError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("bankdata: decode %s %s response: %w", method, path, err)
		}
	}
	return nil
}

// ListInstitutions returns the banks available for linking in a country.
func (c *Client) ListInstitutions(ctx context.Context, country string) ([]Institution, error) {
	var institutions []Institution
	q := url.Values{"country": {country}}
	if err := c.do(ctx, http.MethodGet, "/institutions/", q, nil, &institutions); err != nil {
		return nil, err
	}
	return institutions, nil
}

// CreateRequisition opens a new linking session. reference identifies the
// user initiating the link and comes back on the redirect.
func (c *Client) CreateRequisition(ctx context.Context, institutionID, redirectURL, reference string) (Requisition, error) {
	payload := map[string]string{
		"institution_id": institutionID,
		"redirect":       redirectURL,
		"reference":      reference,
	}
	var req Requisition
	if err := c.do(ctx, http.MethodPost, "/requisitions/", nil, payload, &req); err != nil {
		return Requisition{}, err
	}
	return req, nil
}

// GetRequisition returns the current state of a linking session, including
// the linked account ids once the user has completed the consent flow.
func (c *Client) GetRequisition(ctx context.Context, requisitionID string) (Requisition, error) {
	var req Requisition
	if err := c.do(ctx, http.MethodGet, "/requisitions/"+requisitionID+"/", nil, nil, &req); err != nil {
		return Requisition{}, err
	}
	return req, nil
}

// GetAccountMetadata fetches the provider's top-level account record.
func (c *Client) GetAccountMetadata(ctx context.Context, accountID string) (AccountMetadata, error) {
	var meta AccountMetadata
	if err := c.do(ctx, http.MethodGet, "/accounts/"+accountID+"/", nil, nil, &meta); err != nil {
		return AccountMetadata{}, err
	}
	return meta, nil
}

type detailsResponse struct {
	Account AccountDetails `json:"account"`
}

// GetAccountDetails fetches the account detail record (currency et al).
func (c *Client) GetAccountDetails(ctx context.Context, accountID string) (AccountDetails, error) {
	var resp detailsResponse
	if err := c.do(ctx, http.MethodGet, "/accounts/"+accountID+"/details/", nil, nil, &resp); err != nil {
		return AccountDetails{}, err
	}
	return resp.Account, nil
}

type balancesResponse struct {
	Balances []Balance `json:"balances"`
}

// GetAccountBalances fetches the current balances for an account.
func (c *Client) GetAccountBalances(ctx context.Context, accountID string) ([]Balance, error) {
	var resp balancesResponse
	if err := c.do(ctx, http.MethodGet, "/accounts/"+accountID+"/balances/", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Balances, nil
}

type transactionsResponse struct {
	Transactions TransactionFeed `json:"transactions"`
}

// GetAccountTransactions fetches the transaction feed for [dateFrom, dateTo]
// (inclusive, YYYY-MM-DD). The provider may return records outside the
// requested range; callers filter defensively.
func (c *Client) GetAccountTransactions(ctx context.Context, accountID string, dateFrom, dateTo time.Time) (TransactionFeed, error) {
	q := url.Values{
		"date_from": {dateFrom.Format("2006-01-02")},
		"date_to":   {dateTo.Format("2006-01-02")},
	}
	var resp transactionsResponse
	if err := c.do(ctx, http.MethodGet, "/accounts/"+accountID+"/transactions/", q, nil, &resp); err != nil {
		return TransactionFeed{}, err
	}
	return resp.Transactions, nil
}
