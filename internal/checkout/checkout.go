// Package checkout implements the credential checkout protocol for one
// managed account: open a request, resolve conflicts against the
// open-requests listing, poll for the credential with linear backoff,
// and release the request best-effort. Failures fall back to the
// fail-safe cache and never propagate to the caller.
package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/turkcell/bt-go-lib/internal/beyondtrust"
	"github.com/turkcell/bt-go-lib/internal/cache"
	"github.com/turkcell/bt-go-lib/internal/health"
	"github.com/turkcell/bt-go-lib/internal/logging"
	"github.com/turkcell/bt-go-lib/pkg/secretsource"
)

// Failure reasons surfaced in the ERROR_<reason> sentinel when a target
// has never been cached.
const (
	ReasonReqIDNotFound = "REQ_ID_NOT_FOUND"
	ReasonCredFail      = "CRED_FAIL"
	ReasonException     = "EXCEPTION"
)

// Client is the slice of the Password Safe API the protocol consumes.
// *beyondtrust.Client satisfies it.
type Client interface {
	CreateRequest(ctx context.Context, systemID, accountID int) (string, error)
	FindOpenRequest(ctx context.Context, systemID, accountID int) (string, error)
	Credential(ctx context.Context, requestID string) (string, error)
	CheckinRequest(ctx context.Context, requestID string) error
}

// Target identifies one managed account to check out.
type Target struct {
	SystemID    int
	SystemName  string
	AccountID   int
	AccountName string
}

// CacheKey returns the fail-safe cache key for the target.
func (t Target) CacheKey() string {
	return secretsource.AccountKey(t.SystemName, t.AccountName)
}

// Config tunes the protocol. Zero values select the defaults.
type Config struct {
	// Attempts is the number of credential polls (default 5).
	Attempts int
	// BackoffUnit scales the linear backoff: poll attempt i waits
	// i units before the next attempt (default 1s).
	BackoffUnit time.Duration
	// CleanupContext bounds fire-and-forget check-in calls. Pass the
	// engine's lifetime context so shutdown aborts them cleanly.
	CleanupContext context.Context
	// CheckinTimeout caps one check-in call (default 15s).
	CheckinTimeout time.Duration
}

// Protocol runs checkouts against one client and one fail-safe cache.
type Protocol struct {
	client         Client
	failsafe       *cache.FailSafe
	logger         *logging.Logger
	attempts       int
	backoffUnit    time.Duration
	cleanupCtx     context.Context
	checkinTimeout time.Duration
}

// New creates a protocol instance.
func New(client Client, failsafe *cache.FailSafe, logger *logging.Logger, cfg Config) *Protocol {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 5
	}
	if cfg.BackoffUnit <= 0 {
		cfg.BackoffUnit = time.Second
	}
	if cfg.CleanupContext == nil {
		cfg.CleanupContext = context.Background()
	}
	if cfg.CheckinTimeout <= 0 {
		cfg.CheckinTimeout = 15 * time.Second
	}
	return &Protocol{
		client:         client,
		failsafe:       failsafe,
		logger:         logger,
		attempts:       cfg.Attempts,
		backoffUnit:    cfg.BackoffUnit,
		cleanupCtx:     cfg.CleanupContext,
		checkinTimeout: cfg.CheckinTimeout,
	}
}

// Fetch runs the checkout protocol for one target and always returns a
// value: the live credential on success, the cached value on failure,
// or the ERROR_<reason> sentinel when nothing was ever cached. The new
// value overwrites the cache entry on success.
func (p *Protocol) Fetch(ctx context.Context, target Target) string {
	key := target.CacheKey()
	requestID := ""
	defer func() {
		if requestID != "" && isNumeric(requestID) {
			p.checkin(requestID)
		}
	}()

	requestID, err := p.client.CreateRequest(ctx, target.SystemID, target.AccountID)
	switch {
	case errors.Is(err, beyondtrust.ErrRequestConflict):
		requestID, err = p.client.FindOpenRequest(ctx, target.SystemID, target.AccountID)
		if err != nil {
			p.logger.Warn("failed to list open requests for %s.%s: %v", target.SystemName, target.AccountName, err)
			requestID = ""
		}
	case err != nil:
		// An HTTP rejection means no request id was granted; only
		// transport-level failures count as exceptions.
		var apiErr *beyondtrust.APIError
		if !errors.As(err, &apiErr) {
			p.logger.Warn("checkout request failed for %s.%s: %v", target.SystemName, target.AccountName, err)
			return p.fallback(key, ReasonException)
		}
		p.logger.Warn("checkout request rejected for %s.%s: %v", target.SystemName, target.AccountName, err)
		requestID = ""
	}
	if strings.TrimSpace(requestID) == "" {
		return p.fallback(key, ReasonReqIDNotFound)
	}

	raw, polled := p.poll(ctx, requestID)
	if !polled {
		if ctx.Err() != nil {
			return p.fallback(key, ReasonException)
		}
		return p.fallback(key, ReasonCredFail)
	}

	value := CleanCredential(raw)
	p.failsafe.Put(key, value)
	return value
}

// poll reads the credential with up to p.attempts tries; attempt i is
// followed by a wait of i backoff units.
func (p *Protocol) poll(ctx context.Context, requestID string) (string, bool) {
	for i := 1; i <= p.attempts; i++ {
		raw, err := p.client.Credential(ctx, requestID)
		if err == nil {
			return raw, true
		}
		p.logger.Debug("credential poll %d/%d for request %s failed: %v", i, p.attempts, requestID, err)
		if i == p.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", false
		case <-time.After(time.Duration(i) * p.backoffUnit):
		}
	}
	return "", false
}

func (p *Protocol) fallback(key, reason string) string {
	health.RecordCheckoutFailure(reason)
	if value, ok := p.failsafe.Get(key); ok {
		p.logger.Warn("live retrieval failed for %s (%s), serving cached value", key, reason)
		return value
	}
	p.logger.Warn("live retrieval failed for %s (%s), no cached value", key, reason)
	return "ERROR_" + reason
}

// checkin releases the request without blocking the checkout path. The
// call is bound to the engine's cleanup context so shutdown aborts it.
func (p *Protocol) checkin(requestID string) {
	go func() {
		ctx, cancel := context.WithTimeout(p.cleanupCtx, p.checkinTimeout)
		defer cancel()
		if err := p.client.CheckinRequest(ctx, requestID); err != nil {
			p.logger.Debug("check-in of request %s failed: %v", requestID, err)
		}
	}()
}

// CleanCredential normalizes a raw credential payload: surrounding
// quotes are stripped, and an object payload yields its Credential or
// Password field, checked in that order with exact casing. Anything
// else is returned unchanged.
func CleanCredential(raw string) string {
	value := strings.TrimSpace(raw)
	if len(value) >= 2 && strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`) {
		value = value[1 : len(value)-1]
	}
	if !strings.HasPrefix(value, "{") {
		return value
	}
	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(value), &fields); err != nil {
		return value
	}
	if v, ok := fields["Credential"]; ok {
		return asString(v)
	}
	if v, ok := fields["Password"]; ok {
		return asString(v)
	}
	return value
}

func asString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
