package checkout_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turkcell/bt-go-lib/internal/beyondtrust"
	"github.com/turkcell/bt-go-lib/internal/cache"
	"github.com/turkcell/bt-go-lib/internal/checkout"
	"github.com/turkcell/bt-go-lib/internal/logging"
	"github.com/turkcell/bt-go-lib/tests/fakes"
)

var testTarget = checkout.Target{SystemID: 1, SystemName: "S1", AccountID: 2, AccountName: "A1"}

func fastConfig() checkout.Config {
	return checkout.Config{Attempts: 2, BackoffUnit: time.Millisecond, CheckinTimeout: time.Second}
}

func TestFetchSuccessCachesCredential(t *testing.T) {
	t.Parallel()

	client := fakes.NewFakePasswordSafeClient()
	client.RequestID = "REQ-1"
	client.Credentials["REQ-1"] = `"Pass1"`

	failsafe := cache.New()
	protocol := checkout.New(client, failsafe, logging.Discard(), fastConfig())

	value := protocol.Fetch(context.Background(), testTarget)
	assert.Equal(t, "Pass1", value)

	cached, ok := failsafe.Get("acc.S1.A1")
	require.True(t, ok)
	assert.Equal(t, "Pass1", cached)
}

func TestFetchConflictResolvesOpenRequest(t *testing.T) {
	t.Parallel()

	client := fakes.NewFakePasswordSafeClient()
	client.CreateRequestErr = beyondtrust.ErrRequestConflict
	client.OpenSystemID = 1
	client.OpenAccountID = 2
	client.OpenRequestID = "555"
	client.Credentials["555"] = `"ConflictPass"`

	protocol := checkout.New(client, cache.New(), logging.Discard(), fastConfig())

	value := protocol.Fetch(context.Background(), testTarget)
	assert.Equal(t, "ConflictPass", value)

	select {
	case id := <-client.CheckedIn():
		assert.Equal(t, "555", id)
	case <-time.After(time.Second):
		t.Fatal("expected the numeric request to be checked in")
	}
}

func TestFetchConflictWithNoOpenRequest(t *testing.T) {
	t.Parallel()

	client := fakes.NewFakePasswordSafeClient()
	client.CreateRequestErr = beyondtrust.ErrRequestConflict
	client.OpenSystemID = 9
	client.OpenAccountID = 9

	protocol := checkout.New(client, cache.New(), logging.Discard(), fastConfig())

	value := protocol.Fetch(context.Background(), testTarget)
	assert.Equal(t, "ERROR_REQ_ID_NOT_FOUND", value)
}

func TestFetchFallsBackToCacheOnFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		setup  func(*fakes.FakePasswordSafeClient)
		reason string
	}{
		{
			name: "transport_error",
			setup: func(f *fakes.FakePasswordSafeClient) {
				f.CreateRequestErr = errors.New("connection reset")
			},
			reason: "EXCEPTION",
		},
		{
			name: "request_rejected_by_server",
			setup: func(f *fakes.FakePasswordSafeClient) {
				f.CreateRequestErr = &beyondtrust.APIError{Op: "request", StatusCode: 500, Message: "boom"}
			},
			reason: "REQ_ID_NOT_FOUND",
		},
		{
			name: "empty_request_id",
			setup: func(f *fakes.FakePasswordSafeClient) {
				f.RequestID = ""
			},
			reason: "REQ_ID_NOT_FOUND",
		},
		{
			name: "credential_never_granted",
			setup: func(f *fakes.FakePasswordSafeClient) {
				f.RequestID = "REQ-1"
				f.CredentialErr = errors.New("not yet approved")
			},
			reason: "CRED_FAIL",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client := fakes.NewFakePasswordSafeClient()
			tt.setup(client)

			t.Run("without_cache", func(t *testing.T) {
				protocol := checkout.New(client, cache.New(), logging.Discard(), fastConfig())
				value := protocol.Fetch(context.Background(), testTarget)
				assert.Equal(t, "ERROR_"+tt.reason, value)
			})

			t.Run("with_cache", func(t *testing.T) {
				failsafe := cache.New()
				failsafe.Put("acc.S1.A1", "old-pass")
				protocol := checkout.New(client, failsafe, logging.Discard(), fastConfig())
				value := protocol.Fetch(context.Background(), testTarget)
				assert.Equal(t, "old-pass", value)
			})
		})
	}
}

func TestFetchRetriesCredentialPolls(t *testing.T) {
	t.Parallel()

	client := fakes.NewFakePasswordSafeClient()
	client.RequestID = "REQ-1"
	client.CredentialErr = errors.New("pending")

	protocol := checkout.New(client, cache.New(), logging.Discard(), checkout.Config{
		Attempts:    3,
		BackoffUnit: time.Millisecond,
	})
	protocol.Fetch(context.Background(), testTarget)

	polls := 0
	for _, call := range client.Calls() {
		if call == "credential:REQ-1" {
			polls++
		}
	}
	assert.Equal(t, 3, polls)
}

func TestFetchCancelledContextStopsPolling(t *testing.T) {
	t.Parallel()

	client := fakes.NewFakePasswordSafeClient()
	client.RequestID = "REQ-1"
	client.CredentialErr = errors.New("pending")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	protocol := checkout.New(client, cache.New(), logging.Discard(), checkout.Config{
		Attempts:    5,
		BackoffUnit: time.Minute,
	})
	value := protocol.Fetch(ctx, testTarget)
	assert.Equal(t, "ERROR_EXCEPTION", value)
}

func TestCheckinOnlyForNumericRequestIDs(t *testing.T) {
	t.Parallel()

	t.Run("numeric_id_is_checked_in", func(t *testing.T) {
		t.Parallel()
		client := fakes.NewFakePasswordSafeClient()
		client.RequestID = "123"
		client.Credentials["123"] = `"p"`

		protocol := checkout.New(client, cache.New(), logging.Discard(), fastConfig())
		protocol.Fetch(context.Background(), testTarget)

		select {
		case id := <-client.CheckedIn():
			assert.Equal(t, "123", id)
		case <-time.After(time.Second):
			t.Fatal("expected a check-in call")
		}
	})

	t.Run("guid_id_is_not_checked_in", func(t *testing.T) {
		t.Parallel()
		client := fakes.NewFakePasswordSafeClient()
		client.RequestID = "b3c8e7a0-1f2d"
		client.Credentials["b3c8e7a0-1f2d"] = `"p"`

		protocol := checkout.New(client, cache.New(), logging.Discard(), fastConfig())
		protocol.Fetch(context.Background(), testTarget)

		select {
		case id := <-client.CheckedIn():
			t.Fatalf("unexpected check-in of request %s", id)
		case <-time.After(50 * time.Millisecond):
		}
	})
}

func TestCleanCredential(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "plain", raw: "Pass1", want: "Pass1"},
		{name: "quoted", raw: `"Pass1"`, want: "Pass1"},
		{name: "quoted_with_whitespace", raw: "  \"Pass1\"\n", want: "Pass1"},
		{name: "object_credential_field", raw: `{"Credential": "FromCred"}`, want: "FromCred"},
		{name: "object_password_field", raw: `{"Password": "FromPass"}`, want: "FromPass"},
		{name: "credential_wins_over_password", raw: `{"Credential": "a", "Password": "b"}`, want: "a"},
		{name: "lowercase_fields_ignored", raw: `{"password": "x"}`, want: `{"password": "x"}`},
		{name: "quoted_object", raw: `"{\"Password\": \"y\"}"`, want: `{\"Password\": \"y\"}`},
		{name: "malformed_object", raw: `{not-json`, want: `{not-json`},
		{name: "numeric_field", raw: `{"Password": 42}`, want: "42"},
		{name: "empty", raw: "", want: ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, checkout.CleanCredential(tt.raw))
		})
	}
}
