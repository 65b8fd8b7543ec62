// Package fakes provides in-memory stand-ins for the Password Safe API
// client, shared by the checkout, fetch, and engine tests.
package fakes

import (
	"context"
	"fmt"
	"sync"

	"github.com/turkcell/bt-go-lib/internal/beyondtrust"
)

// FakePasswordSafeClient implements the listing and checkout slices of
// the Password Safe API. Data fields configure the happy path; *Err
// fields and *Fn overrides inject failures.
type FakePasswordSafeClient struct {
	mu sync.Mutex

	Accounts    []beyondtrust.ManagedAccount
	AccountsErr error

	Safes   map[string][]beyondtrust.SafeSecret
	SafeErr map[string]error

	SignAppinErr error

	// RequestID is returned by CreateRequest unless CreateRequestFn or
	// CreateRequestErr is set.
	RequestID        string
	CreateRequestErr error
	CreateRequestFn  func(systemID, accountID int) (string, error)

	// OpenRequestID is returned by FindOpenRequest for matching ids.
	OpenRequestID      string
	OpenSystemID       int
	OpenAccountID      int
	FindOpenRequestErr error

	// Credentials maps request id to the raw credential body.
	Credentials   map[string]string
	CredentialErr error

	CheckinErr error

	calls        []string
	checkinCalls []string
	checkedIn    chan string
}

// NewFakePasswordSafeClient creates an empty fake.
func NewFakePasswordSafeClient() *FakePasswordSafeClient {
	return &FakePasswordSafeClient{
		Safes:       make(map[string][]beyondtrust.SafeSecret),
		SafeErr:     make(map[string]error),
		Credentials: make(map[string]string),
		checkedIn:   make(chan string, 16),
	}
}

func (f *FakePasswordSafeClient) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

// Calls returns the operations invoked so far, in order.
func (f *FakePasswordSafeClient) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// CheckinCalls returns the request ids checked in so far.
func (f *FakePasswordSafeClient) CheckinCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.checkinCalls...)
}

// CheckedIn receives one request id per check-in call, for synchronizing
// with the fire-and-forget goroutine.
func (f *FakePasswordSafeClient) CheckedIn() <-chan string {
	return f.checkedIn
}

func (f *FakePasswordSafeClient) SignAppin(_ context.Context) error {
	f.record("signappin")
	return f.SignAppinErr
}

func (f *FakePasswordSafeClient) ManagedAccounts(_ context.Context) ([]beyondtrust.ManagedAccount, error) {
	f.record("list-accounts")
	if f.AccountsErr != nil {
		return nil, f.AccountsErr
	}
	return f.Accounts, nil
}

func (f *FakePasswordSafeClient) SafeSecrets(_ context.Context, path string) ([]beyondtrust.SafeSecret, error) {
	f.record("list-safe:" + path)
	if err := f.SafeErr[path]; err != nil {
		return nil, err
	}
	return f.Safes[path], nil
}

func (f *FakePasswordSafeClient) CreateRequest(_ context.Context, systemID, accountID int) (string, error) {
	f.record(fmt.Sprintf("request:%d.%d", systemID, accountID))
	if f.CreateRequestFn != nil {
		return f.CreateRequestFn(systemID, accountID)
	}
	if f.CreateRequestErr != nil {
		return "", f.CreateRequestErr
	}
	return f.RequestID, nil
}

func (f *FakePasswordSafeClient) FindOpenRequest(_ context.Context, systemID, accountID int) (string, error) {
	f.record(fmt.Sprintf("list-requests:%d.%d", systemID, accountID))
	if f.FindOpenRequestErr != nil {
		return "", f.FindOpenRequestErr
	}
	if systemID == f.OpenSystemID && accountID == f.OpenAccountID {
		return f.OpenRequestID, nil
	}
	return "", nil
}

func (f *FakePasswordSafeClient) Credential(_ context.Context, requestID string) (string, error) {
	f.record("credential:" + requestID)
	if f.CredentialErr != nil {
		return "", f.CredentialErr
	}
	if raw, ok := f.Credentials[requestID]; ok {
		return raw, nil
	}
	return "", fmt.Errorf("no credential staged for request %s", requestID)
}

func (f *FakePasswordSafeClient) CheckinRequest(_ context.Context, requestID string) error {
	f.mu.Lock()
	f.checkinCalls = append(f.checkinCalls, requestID)
	f.mu.Unlock()
	select {
	case f.checkedIn <- requestID:
	default:
	}
	return f.CheckinErr
}
