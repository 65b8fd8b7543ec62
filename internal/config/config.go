// Package config binds engine options from environment variables
// (BEYONDTRUST_* names), an optional YAML file, and an optional OS
// keyring lookup for the API key.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/zalando/go-keyring"
	"gopkg.in/yaml.v3"

	bterrors "github.com/turkcell/bt-go-lib/internal/errors"
	"github.com/turkcell/bt-go-lib/internal/trust"
)

// AuthMode selects the authentication strategy for the transport.
type AuthMode string

const (
	// AuthModeAPIKey sends a composite PS-Auth key header.
	AuthModeAPIKey AuthMode = "apikey"
	// AuthModeOAuth exchanges client credentials for a bearer token.
	AuthModeOAuth AuthMode = "oauth"
)

// Defaults for optional settings.
const (
	DefaultRefreshInterval = 30 * time.Minute
	DefaultConcurrency     = 5
	DefaultPollAttempts    = 5
	DefaultRequestTimeout  = 30 * time.Second
	// KeyringAccount is the account name used for keyring lookups.
	KeyringAccount = "api-key"
)

// Options is the immutable configuration snapshot for one engine
// instance. Changing options means constructing a new engine.
type Options struct {
	Enabled bool   `yaml:"enabled"`
	APIURL  string `yaml:"api_url"`

	// AuthMode is derived from the credential material when empty:
	// oauth when a client id is present, apikey otherwise.
	AuthMode     AuthMode `yaml:"auth_mode"`
	APIKey       string   `yaml:"api_key"`
	RunAsUser    string   `yaml:"runas_user"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`

	IgnoreSSLErrors    bool   `yaml:"ignore_ssl_errors"`
	CertificateContent string `yaml:"certificate_content"`
	StrictTrust        bool   `yaml:"strict_trust"`

	RefreshInterval time.Duration `yaml:"refresh_interval"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	Concurrency     int           `yaml:"concurrency"`
	PollAttempts    int           `yaml:"poll_attempts"`

	// ManagedAccounts lists "system.account" selectors, matched
	// case-insensitively against the listing. Ignored when
	// AllManagedAccounts is set.
	ManagedAccounts    []string `yaml:"managed_accounts"`
	AllManagedAccounts bool     `yaml:"all_managed_accounts"`
	SafePaths          []string `yaml:"safe_paths"`

	// KeyringService enables an OS keyring lookup for the API key when
	// the key is not configured directly.
	KeyringService string `yaml:"keyring_service"`
}

// Default returns options with every optional setting at its default.
func Default() Options {
	return Options{
		Enabled:         true,
		RefreshInterval: DefaultRefreshInterval,
		RequestTimeout:  DefaultRequestTimeout,
		Concurrency:     DefaultConcurrency,
		PollAttempts:    DefaultPollAttempts,
	}
}

// FromEnv binds options from BEYONDTRUST_* environment variables.
func FromEnv() (Options, error) {
	o := Default()
	var err error

	if o.Enabled, err = envBool("BEYONDTRUST_ENABLED", o.Enabled); err != nil {
		return o, err
	}
	o.APIURL = os.Getenv("BEYONDTRUST_API_URL")
	o.APIKey = os.Getenv("BEYONDTRUST_API_KEY")
	o.RunAsUser = os.Getenv("BEYONDTRUST_RUNAS_USER")
	o.ClientID = os.Getenv("BEYONDTRUST_CLIENT_ID")
	o.ClientSecret = os.Getenv("BEYONDTRUST_CLIENT_SECRET")
	o.CertificateContent = os.Getenv("BEYONDTRUST_CERTIFICATE_CONTENT")
	o.KeyringService = os.Getenv("BEYONDTRUST_KEYRING_SERVICE")

	useAppUser, err := envBool("BEYONDTRUST_USE_APP_USER", false)
	if err != nil {
		return o, err
	}
	if useAppUser {
		o.AuthMode = AuthModeOAuth
	}
	if o.IgnoreSSLErrors, err = envBool("BEYONDTRUST_IGNORE_SSL_ERRORS", false); err != nil {
		return o, err
	}
	if o.StrictTrust, err = envBool("BEYONDTRUST_STRICT_TRUST", false); err != nil {
		return o, err
	}
	if o.AllManagedAccounts, err = envBool("BEYONDTRUST_ALL_MANAGED_ACCOUNTS_ENABLED", false); err != nil {
		return o, err
	}
	if raw := os.Getenv("BEYONDTRUST_REFRESH_INTERVAL"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil {
			return o, bterrors.ConfigError{
				Field:   "BEYONDTRUST_REFRESH_INTERVAL",
				Value:   raw,
				Message: "expected a whole number of seconds",
			}
		}
		o.RefreshInterval = time.Duration(secs) * time.Second
	}
	o.ManagedAccounts = SplitList(os.Getenv("BEYONDTRUST_MANAGED_ACCOUNTS"))
	o.SafePaths = SplitList(os.Getenv("BEYONDTRUST_SECRET_SAFE_PATHS"))

	return o, nil
}

// LoadFile reads options from a YAML file. Unset optional fields keep
// their defaults.
func LoadFile(path string) (Options, error) {
	o := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return o, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &o); err != nil {
		return o, bterrors.ConfigError{
			Field:      "config",
			Value:      path,
			Message:    "invalid YAML: " + err.Error(),
			Suggestion: "Check for indentation errors and missing quotes",
		}
	}
	return o, nil
}

// ResolveAPIKey fills the API key from the OS keyring when it is not
// configured directly and a keyring service name is set.
func (o *Options) ResolveAPIKey() error {
	if o.APIKey != "" || o.KeyringService == "" {
		return nil
	}
	key, err := keyring.Get(o.KeyringService, KeyringAccount)
	if err != nil {
		return bterrors.ConfigError{
			Field:      "keyring_service",
			Value:      o.KeyringService,
			Message:    "keyring lookup failed: " + err.Error(),
			Suggestion: fmt.Sprintf("Store the key with: keyring set %s %s", o.KeyringService, KeyringAccount),
		}
	}
	o.APIKey = key
	return nil
}

// EffectiveAuthMode derives the auth mode when it was not set directly.
func (o Options) EffectiveAuthMode() AuthMode {
	if o.AuthMode != "" {
		return o.AuthMode
	}
	if o.ClientID != "" {
		return AuthModeOAuth
	}
	return AuthModeAPIKey
}

// TrustConfig maps the TLS options onto a trust policy.
func (o Options) TrustConfig() trust.Config {
	switch {
	case o.IgnoreSSLErrors:
		return trust.Config{Policy: trust.PolicyIgnoreAll}
	case strings.TrimSpace(o.CertificateContent) != "":
		return trust.Config{
			Policy: trust.PolicyPinned,
			Bundle: []byte(o.CertificateContent),
			Strict: o.StrictTrust,
		}
	default:
		return trust.Config{Policy: trust.PolicyDefault}
	}
}

// Validate checks that an enabled engine has a usable configuration.
// A missing API key in apikey mode is not a validation error: the
// engine stays idle with a warning in that case.
func (o Options) Validate() error {
	if !o.Enabled {
		return nil
	}
	if strings.TrimSpace(o.APIURL) == "" {
		return bterrors.ConfigError{
			Field:      "api_url",
			Message:    "API URL is required when the engine is enabled",
			Suggestion: "Set BEYONDTRUST_API_URL to the Password Safe API base URL",
		}
	}
	u, err := url.Parse(o.APIURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return bterrors.ConfigError{
			Field:   "api_url",
			Value:   o.APIURL,
			Message: "not an absolute URL",
		}
	}
	if o.EffectiveAuthMode() == AuthModeOAuth && (o.ClientID == "" || o.ClientSecret == "") {
		return bterrors.ConfigError{
			Field:      "client_id",
			Message:    "OAuth mode requires both client id and client secret",
			Suggestion: "Set BEYONDTRUST_CLIENT_ID and BEYONDTRUST_CLIENT_SECRET",
		}
	}
	if o.RefreshInterval < 0 {
		return bterrors.ConfigError{
			Field:   "refresh_interval",
			Value:   o.RefreshInterval,
			Message: "must not be negative",
		}
	}
	return nil
}

// SplitList splits a semicolon- or comma-delimited selector list,
// dropping empty items.
func SplitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, item := range strings.FieldsFunc(raw, func(r rune) bool {
		return r == ';' || r == ','
	}) {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func envBool(name string, def bool) (bool, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def, bterrors.ConfigError{
			Field:   name,
			Value:   raw,
			Message: "expected true or false",
		}
	}
	return v, nil
}
