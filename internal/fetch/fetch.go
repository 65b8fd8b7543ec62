// Package fetch discovers which secrets to retrieve and fans out
// credential checkouts under a bounded concurrency cap. Managed-account
// and Secrets Safe pipelines run concurrently and merge into one result
// map handed to the refresh engine.
package fetch

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/turkcell/bt-go-lib/internal/beyondtrust"
	"github.com/turkcell/bt-go-lib/internal/cache"
	"github.com/turkcell/bt-go-lib/internal/checkout"
	"github.com/turkcell/bt-go-lib/internal/config"
	"github.com/turkcell/bt-go-lib/internal/logging"
	"github.com/turkcell/bt-go-lib/pkg/secretsource"
)

// Client is the listing slice of the Password Safe API.
// *beyondtrust.Client satisfies it.
type Client interface {
	SignAppin(ctx context.Context) error
	ManagedAccounts(ctx context.Context) ([]beyondtrust.ManagedAccount, error)
	SafeSecrets(ctx context.Context, path string) ([]beyondtrust.SafeSecret, error)
}

// CredentialFetcher runs the checkout protocol for one target.
// *checkout.Protocol satisfies it.
type CredentialFetcher interface {
	Fetch(ctx context.Context, target checkout.Target) string
}

// Fetcher runs one discovery-and-retrieval cycle.
type Fetcher struct {
	client      Client
	protocol    CredentialFetcher
	failsafe    *cache.FailSafe
	logger      *logging.Logger
	selectors   []string
	allAccounts bool
	safePaths   []string
	concurrency int
}

// New creates a fetcher for one refresh run.
func New(client Client, protocol CredentialFetcher, failsafe *cache.FailSafe, logger *logging.Logger, opts config.Options) *Fetcher {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = config.DefaultConcurrency
	}
	return &Fetcher{
		client:      client,
		protocol:    protocol,
		failsafe:    failsafe,
		logger:      logger,
		selectors:   opts.ManagedAccounts,
		allAccounts: opts.AllManagedAccounts,
		safePaths:   opts.SafePaths,
		concurrency: concurrency,
	}
}

// FetchAll runs both pipelines and merges their results. Per-target and
// per-path failures are isolated; a failing managed-accounts listing
// fails the whole run so the engine keeps the previous snapshot.
func (f *Fetcher) FetchAll(ctx context.Context) (map[string]string, error) {
	// Session warm-up is best-effort; every call carries its own auth.
	if err := f.client.SignAppin(ctx); err != nil {
		f.logger.Debug("session sign-in skipped: %v", err)
	}

	result := make(map[string]string)
	var mu sync.Mutex

	var wg sync.WaitGroup
	var accountsErr error
	if f.allAccounts || len(f.selectors) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			accountsErr = f.managedAccounts(ctx, result, &mu)
		}()
	}
	if len(f.safePaths) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.safeSecrets(ctx, result, &mu)
		}()
	}
	wg.Wait()

	if accountsErr != nil {
		return nil, accountsErr
	}
	return result, nil
}

func (f *Fetcher) managedAccounts(ctx context.Context, result map[string]string, mu *sync.Mutex) error {
	accounts, err := f.client.ManagedAccounts(ctx)
	if err != nil {
		return fmt.Errorf("failed to list managed accounts: %w", err)
	}
	targets := f.filterAccounts(accounts)
	f.logger.Debug("checking out %d of %d managed accounts", len(targets), len(accounts))

	var wg sync.WaitGroup
	sem := make(chan struct{}, f.concurrency)
	for _, account := range targets {
		wg.Add(1)
		go func(acc beyondtrust.ManagedAccount) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			target := checkout.Target{
				SystemID:    acc.SystemID,
				SystemName:  acc.SystemName,
				AccountID:   acc.AccountID,
				AccountName: acc.AccountName,
			}
			value := f.protocol.Fetch(ctx, target)

			key := secretsource.KeyPrefix + target.CacheKey()
			mu.Lock()
			result[key] = value
			mu.Unlock()
		}(account)
	}
	wg.Wait()
	return nil
}

// filterAccounts keeps accounts matching the configured
// "system.account" selectors, compared case-insensitively. The
// all-accounts flag disables filtering entirely.
func (f *Fetcher) filterAccounts(all []beyondtrust.ManagedAccount) []beyondtrust.ManagedAccount {
	if f.allAccounts {
		return all
	}
	wanted := make(map[string]struct{}, len(f.selectors))
	for _, selector := range f.selectors {
		idx := strings.LastIndex(selector, ".")
		if idx <= 0 {
			f.logger.Warn("ignoring malformed account selector %q, expected system.account", selector)
			continue
		}
		system := strings.TrimSpace(selector[:idx])
		account := strings.TrimSpace(selector[idx+1:])
		wanted[strings.ToLower(system+"."+account)] = struct{}{}
	}
	var filtered []beyondtrust.ManagedAccount
	for _, acc := range all {
		key := strings.ToLower(strings.TrimSpace(acc.SystemName) + "." + strings.TrimSpace(acc.AccountName))
		if _, ok := wanted[key]; ok {
			filtered = append(filtered, acc)
		}
	}
	return filtered
}

// safeSecrets retrieves Secrets Safe entries path by path. One failing
// path never aborts the others.
func (f *Fetcher) safeSecrets(ctx context.Context, result map[string]string, mu *sync.Mutex) {
	for _, path := range f.safePaths {
		items, err := f.client.SafeSecrets(ctx, path)
		if err != nil {
			f.logger.Warn("skipping safe path %q: %v", path, err)
			continue
		}
		for _, item := range items {
			folder := strings.TrimSpace(item.Folder)
			if folder == "" {
				folder = strings.TrimSpace(path)
			}
			title := strings.TrimSpace(item.Title)
			if title == "" {
				title = "Untitled"
			}
			cacheKey := secretsource.SafeKey(folder, title)
			baseKey := secretsource.KeyPrefix + cacheKey

			mu.Lock()
			result[baseKey+".password"] = item.Password
			if item.Username != "" || item.Account != "" {
				username := item.Username
				if username == "" {
					username = item.Account
				}
				result[baseKey+".username"] = username
			}
			mu.Unlock()

			f.failsafe.Put(cacheKey, item.Password)
		}
	}
}
