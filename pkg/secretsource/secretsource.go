// Package secretsource defines the public contract for the BeyondTrust
// secret engine: the immutable Snapshot published after each refresh and
// the key naming scheme shared by the snapshot and the fail-safe cache.
//
// # Key naming
//
// Secrets are addressed by flat, case-insensitive keys:
//
//	acc.<system>.<account>          managed account password
//	safe.<folder>.<title>           Secrets Safe entry (base key)
//
// Published snapshot keys carry the "bt." prefix and, for safe entries,
// a ".password" or ".username" suffix:
//
//	bt.acc.PRODDB01.svc_app
//	bt.safe.Vault1.DB.password
//	bt.safe.Vault1.DB.username
//
// Normalization (trim + case fold) is applied identically on write and
// read so that lookups never miss on casing or stray whitespace.
package secretsource

import "strings"

// KeyPrefix is prepended to every key published in a Snapshot.
const KeyPrefix = "bt."

// Normalize folds a key for case-insensitive storage and lookup.
// It is idempotent: Normalize(Normalize(k)) == Normalize(k).
func Normalize(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// AccountKey builds the cache key for a managed account.
func AccountKey(system, account string) string {
	return "acc." + strings.TrimSpace(system) + "." + strings.TrimSpace(account)
}

// SafeKey builds the cache key for a Secrets Safe entry.
func SafeKey(folder, title string) string {
	return "safe." + strings.TrimSpace(folder) + "." + strings.TrimSpace(title)
}

type entry struct {
	key   string
	value string
}

// Snapshot is an immutable, case-insensitive mapping from published key
// to secret value. A Snapshot is never mutated after construction; the
// engine replaces the whole snapshot on each successful refresh.
type Snapshot struct {
	entries map[string]entry
}

// NewSnapshot builds a snapshot from a result map. Original key casing
// is preserved for enumeration while lookups are case-insensitive.
func NewSnapshot(values map[string]string) *Snapshot {
	s := &Snapshot{entries: make(map[string]entry, len(values))}
	for k, v := range values {
		s.entries[Normalize(k)] = entry{key: strings.TrimSpace(k), value: v}
	}
	return s
}

// Empty returns a snapshot with no entries.
func Empty() *Snapshot {
	return &Snapshot{entries: map[string]entry{}}
}

// Get looks up a value by key, ignoring case and surrounding whitespace.
func (s *Snapshot) Get(key string) (string, bool) {
	e, ok := s.entries[Normalize(key)]
	if !ok {
		return "", false
	}
	return e.value, true
}

// Keys returns the published keys in their original casing.
func (s *Snapshot) Keys() []string {
	keys := make([]string, 0, len(s.entries))
	for _, e := range s.entries {
		keys = append(keys, e.key)
	}
	return keys
}

// Len reports the number of entries.
func (s *Snapshot) Len() int {
	return len(s.entries)
}
