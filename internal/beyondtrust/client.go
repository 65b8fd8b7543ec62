// Package beyondtrust implements the authenticated HTTP client for the
// BeyondTrust Password Safe API: managed-account and Secrets Safe
// listing, the checkout request lifecycle, and credential reads.
//
// The client is constructed once per refresh run so that rotated keys
// and certificates take effect without a restart.
package beyondtrust

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"

	"github.com/turkcell/bt-go-lib/internal/config"
	"github.com/turkcell/bt-go-lib/internal/logging"
)

const (
	requestDurationMinutes = 5
	requestReason          = "AutoFetch"
	checkinReason          = "Done"
)

// ManagedAccount is one row of the ManagedAccounts listing.
type ManagedAccount struct {
	SystemID    int    `json:"SystemId"`
	SystemName  string `json:"SystemName"`
	AccountID   int    `json:"AccountId"`
	AccountName string `json:"AccountName"`
}

// SafeSecret is one row of the Secrets Safe listing.
type SafeSecret struct {
	Folder     string `json:"Folder"`
	Title      string `json:"Title"`
	Username   string `json:"Username"`
	Account    string `json:"Account"`
	Password   string `json:"Password"`
	SecretType string `json:"SecretType"`
}

// Client talks to one Password Safe instance. Safe for concurrent use.
type Client struct {
	http    *http.Client
	baseURL string
	cred    Credential
	logger  *logging.Logger
}

// NewClient builds a client from options: normalized base URL, the
// configured trust policy, a cookie jar for the SignAppin session, and
// the auth strategy selected by the effective auth mode. The proxy is
// bypassed; the API lives on the internal network.
func NewClient(opts config.Options, logger *logging.Logger) (*Client, error) {
	baseURL := strings.TrimSpace(opts.APIURL)
	if baseURL == "" {
		baseURL = "https://localhost/"
	}
	baseURL = strings.TrimRight(baseURL, "/") + "/"

	tlsConfig, err := opts.TrustConfig().TLSConfig(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build trust policy: %w", err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	httpClient := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: tlsConfig,
			Proxy:           nil,
		},
		Jar:     jar,
		Timeout: opts.RequestTimeout,
	}

	var cred Credential
	switch opts.EffectiveAuthMode() {
	case config.AuthModeOAuth:
		cred = NewOAuthCredential(baseURL, opts.ClientID, opts.ClientSecret, httpClient)
	default:
		cred = NewAPIKeyCredential(opts.APIKey, opts.RunAsUser)
	}

	return &Client{
		http:    httpClient,
		baseURL: baseURL,
		cred:    cred,
		logger:  logger,
	}, nil
}

// NewClientWithCredential builds a client against baseURL with an
// explicit credential and HTTP client, for tests.
func NewClientWithCredential(baseURL string, cred Credential, httpClient *http.Client, logger *logging.Logger) *Client {
	return &Client{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/") + "/",
		cred:    cred,
		logger:  logger,
	}
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	auth, err := c.cred.AuthorizationHeader(ctx)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", auth)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// SignAppin warms the server session. Failure only means the session
// cookie is cold; every call carries the auth header independently, so
// callers treat this as best-effort.
func (c *Client) SignAppin(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodPost, "Auth/SignAppin", map[string]string{})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return &APIError{Op: "signappin", StatusCode: resp.StatusCode}
	}
	return nil
}

// ManagedAccounts lists every managed account visible to the caller.
func (c *Client) ManagedAccounts(ctx context.Context) ([]ManagedAccount, error) {
	resp, err := c.do(ctx, http.MethodGet, "ManagedAccounts", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, &APIError{Op: "list-accounts", StatusCode: resp.StatusCode, Message: string(msg)}
	}
	var accounts []ManagedAccount
	if err := json.NewDecoder(resp.Body).Decode(&accounts); err != nil {
		return nil, fmt.Errorf("failed to decode managed accounts: %w", err)
	}
	return accounts, nil
}

// SafeSecrets lists the Secrets Safe entries under one folder path.
func (c *Client) SafeSecrets(ctx context.Context, path string) ([]SafeSecret, error) {
	resp, err := c.do(ctx, http.MethodGet, "Secrets-Safe/Secrets?Path="+url.QueryEscape(strings.TrimSpace(path)), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, &APIError{Op: "list-safe", StatusCode: resp.StatusCode, Message: string(msg)}
	}
	var items []SafeSecret
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("failed to decode safe secrets: %w", err)
	}
	return items, nil
}

// CreateRequest opens a checkout request for one managed account and
// returns the request id. A 409 returns ErrRequestConflict: another
// request is already open and must be found via FindOpenRequest.
func (c *Client) CreateRequest(ctx context.Context, systemID, accountID int) (string, error) {
	body := map[string]interface{}{
		"systemId":        systemID,
		"accountId":       accountID,
		"durationMinutes": requestDurationMinutes,
		"reason":          requestReason,
	}
	resp, err := c.do(ctx, http.MethodPost, "Requests", body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", fmt.Errorf("failed to read request id: %w", err)
		}
		return ParseRequestID(string(raw)), nil
	case resp.StatusCode == http.StatusConflict:
		io.Copy(io.Discard, resp.Body)
		return "", ErrRequestConflict
	default:
		msg, _ := io.ReadAll(resp.Body)
		return "", &APIError{Op: "request", StatusCode: resp.StatusCode, Message: string(msg)}
	}
}

// FindOpenRequest scans the open-requests listing for an entry matching
// the system and account ids. Field names are matched case-insensitively
// to tolerate SystemID/systemId naming variants. An empty id with a nil
// error means no matching request exists.
func (c *Client) FindOpenRequest(ctx context.Context, systemID, accountID int) (string, error) {
	resp, err := c.do(ctx, http.MethodGet, "Requests", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return "", &APIError{Op: "list-requests", StatusCode: resp.StatusCode, Message: string(msg)}
	}
	var records []map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return "", fmt.Errorf("failed to decode open requests: %w", err)
	}
	for _, record := range records {
		s, ok := intField(record, "SystemID")
		if !ok || s != systemID {
			continue
		}
		a, ok := intField(record, "AccountID")
		if !ok || a != accountID {
			continue
		}
		if id, ok := stringField(record, "RequestID"); ok {
			c.logger.Debug("found existing request id %s for system %d account %d", id, systemID, accountID)
			return id, nil
		}
	}
	return "", nil
}

// Credential reads the credential payload for a granted request. The
// body is returned raw; value normalization happens in the checkout
// protocol.
func (c *Client) Credential(ctx context.Context, requestID string) (string, error) {
	resp, err := c.do(ctx, http.MethodGet, "Credentials/"+url.PathEscape(requestID), nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return "", &APIError{Op: "credential", StatusCode: resp.StatusCode, Message: string(msg)}
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read credential: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

// CheckinRequest releases a granted request.
func (c *Client) CheckinRequest(ctx context.Context, requestID string) error {
	resp, err := c.do(ctx, http.MethodPut, "Requests/"+url.PathEscape(requestID)+"/Checkin", map[string]string{"reason": checkinReason})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return &APIError{Op: "checkin", StatusCode: resp.StatusCode}
	}
	return nil
}

// ParseRequestID extracts a request id from a response body that may be
// a bare quoted string or a one-field {"RequestID": ...} object.
func ParseRequestID(body string) string {
	replacer := strings.NewReplacer("{", "", "}", "", `"`, "", "RequestID", "", "RequestId", "", ":", "")
	return strings.TrimSpace(replacer.Replace(body))
}

func intField(record map[string]interface{}, name string) (int, bool) {
	for key, value := range record {
		if !strings.EqualFold(key, name) {
			continue
		}
		switch v := value.(type) {
		case float64:
			return int(v), true
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				return n, true
			}
		}
		return 0, false
	}
	return 0, false
}

func stringField(record map[string]interface{}, name string) (string, bool) {
	for key, value := range record {
		if !strings.EqualFold(key, name) {
			continue
		}
		switch v := value.(type) {
		case string:
			return v, true
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), true
		}
		return "", false
	}
	return "", false
}
