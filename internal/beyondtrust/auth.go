package beyondtrust

import (
	"context"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	bterrors "github.com/turkcell/bt-go-lib/internal/errors"
)

// Credential produces the current Authorization header value. Both
// strategies are safe for concurrent use by in-flight requests.
type Credential interface {
	AuthorizationHeader(ctx context.Context) (string, error)
}

// apiKeyCredential holds the static PS-Auth header built once at
// construction from the composite key string.
type apiKeyCredential struct {
	header string
}

// NewAPIKeyCredential parses a composite API key of the form
// "key=<K>;runas=<U>;" and builds the PS-Auth header. A bare key with
// no "key=" prefix is accepted, field names are case-insensitive, and
// a leading "PS-Auth" marker is tolerated. runAsUser is a fallback for
// keys that carry no runas field.
func NewAPIKeyCredential(rawKey, runAsUser string) Credential {
	key, runas := parseCompositeKey(rawKey, runAsUser)
	header := "PS-Auth key=" + key + ";"
	if runas != "" {
		header += " runas=" + runas + ";"
	}
	return apiKeyCredential{header: header}
}

func (c apiKeyCredential) AuthorizationHeader(_ context.Context) (string, error) {
	return c.header, nil
}

func parseCompositeKey(raw, runAsUser string) (key, runas string) {
	runas = runAsUser
	cleaned := strings.TrimSpace(stripCaseInsensitive(raw, "PS-Auth"))
	for _, part := range strings.Split(cleaned, ";") {
		part = strings.TrimSpace(part)
		lower := strings.ToLower(part)
		switch {
		case strings.HasPrefix(lower, "key="):
			key = part[4:]
		case strings.HasPrefix(lower, "runas="):
			runas = part[6:]
		case key == "" && part != "":
			key = part
		}
	}
	return key, runas
}

func stripCaseInsensitive(s, marker string) string {
	idx := strings.Index(strings.ToLower(s), strings.ToLower(marker))
	if idx < 0 {
		return s
	}
	return s[:idx] + s[idx+len(marker):]
}

// oauthCredential exchanges client credentials for bearer tokens. The
// token source caches the token and refreshes it before expiry.
type oauthCredential struct {
	source oauth2.TokenSource
}

// NewOAuthCredential builds a client-credentials bearer strategy against
// the Password Safe token endpoint. The supplied HTTP client carries the
// transport's TLS trust policy into the token exchange.
func NewOAuthCredential(baseURL, clientID, clientSecret string, httpClient *http.Client) Credential {
	cfg := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     baseURL + "Auth/Connect/Token",
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)
	return oauthCredential{source: cfg.TokenSource(ctx)}
}

func (c oauthCredential) AuthorizationHeader(_ context.Context) (string, error) {
	tok, err := c.source.Token()
	if err != nil {
		return "", bterrors.AuthError{Mode: "oauth", Err: err}
	}
	return "Bearer " + tok.AccessToken, nil
}
