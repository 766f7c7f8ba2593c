// Copyright (C) 2025 ThermaSense Labs (engineering@thermasense.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package admission authenticates API credentials and enforces per-caller
// rate limits.
//
// # Description
//
// Callers present an opaque API key. The key is hashed with SHA-256 and
// resolved to a Credential carrying a permission set. Lookups go through
// a small TTL cache that stores both hits and misses, so a burst of
// requests with a bad key cannot hammer the credential store.
//
// Rate limiting is a sliding window per credential, backed by Redis when
// available and an in-memory window otherwise (ratelimit.go).
package admission

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrUnauthenticated means the API key is missing, unknown, or disabled.
	ErrUnauthenticated = errors.New("invalid or missing API key")

	// ErrForbidden means the credential lacks the required permission.
	ErrForbidden = errors.New("credential lacks required permission")

	// ErrRateLimited means the caller exhausted its request window.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// =============================================================================
// Credentials
// =============================================================================

// Permission names an operation class a credential may use.
type Permission string

const (
	// PermRead covers status, result, and model queries.
	PermRead Permission = "read"

	// PermWrite covers scoring, batch submission, and cancellation.
	PermWrite Permission = "write"

	// PermAdmin implies every other permission.
	PermAdmin Permission = "admin"
)

// Credential is a resolved API key.
type Credential struct {
	// Name identifies the credential for logs and rate-limit keys; never
	// the raw key.
	Name string

	// Hash is the hex SHA-256 of the raw key.
	Hash string

	// Permissions lists what the credential may do.
	Permissions []Permission

	// RateLimitPerMinute overrides the deployment default when set. An
	// explicit zero blocks every request; nil uses the default.
	RateLimitPerMinute *int

	// Disabled credentials fail authentication without being removed.
	Disabled bool

	// ExpiresAt disables the credential after this instant. Zero means
	// never.
	ExpiresAt time.Time
}

// expired reports whether the credential is past its expiry.
func (c *Credential) expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// Allows reports whether the credential grants p. Admin implies all.
func (c *Credential) Allows(p Permission) bool {
	for _, have := range c.Permissions {
		if have == PermAdmin || have == p {
			return true
		}
	}
	return false
}

// HashKey computes the hex SHA-256 of a raw API key. Raw keys are never
// stored or logged.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// =============================================================================
// Credential Store
// =============================================================================

// Store resolves a key hash to a credential.
type Store interface {
	// Lookup returns the credential for hash, or nil when unknown.
	Lookup(ctx context.Context, hash string) (*Credential, error)
}

// StaticStore is an in-memory Store built from configuration.
type StaticStore struct {
	byHash map[string]*Credential
}

// NewStaticStore indexes credentials by hash.
func NewStaticStore(creds []Credential) *StaticStore {
	s := &StaticStore{byHash: make(map[string]*Credential, len(creds))}
	for i := range creds {
		c := creds[i]
		s.byHash[c.Hash] = &c
	}
	return s
}

// NewStaticStoreFromKeys hashes raw keys and grants each the given
// permissions. Convenience for single-key deployments.
func NewStaticStoreFromKeys(keys map[string][]Permission) *StaticStore {
	creds := make([]Credential, 0, len(keys))
	i := 0
	for key, perms := range keys {
		i++
		creds = append(creds, Credential{
			Name:        "key-" + HashKey(key)[:8],
			Hash:        HashKey(key),
			Permissions: perms,
		})
	}
	return NewStaticStore(creds)
}

// Lookup implements Store.
func (s *StaticStore) Lookup(_ context.Context, hash string) (*Credential, error) {
	return s.byHash[hash], nil
}

// =============================================================================
// Authenticator
// =============================================================================

const (
	// cacheTTL bounds how long a lookup result (hit or miss) is reused.
	cacheTTL = 5 * time.Minute

	// cacheMaxEntries caps the lookup cache; least recently used entries
	// are evicted past this.
	cacheMaxEntries = 1024
)

// cacheEntry caches one lookup result. cred is nil for a negative entry.
type cacheEntry struct {
	cred       *Credential
	expires    time.Time
	lastAccess time.Time
}

// Authenticator resolves API keys through a TTL cache in front of a Store.
//
// # Thread Safety
//
// Safe for concurrent use.
type Authenticator struct {
	store  Store
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]*cacheEntry
}

// NewAuthenticator builds an Authenticator over store.
func NewAuthenticator(store Store, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		store:  store,
		logger: logger,
		cache:  make(map[string]*cacheEntry),
	}
}

// Authenticate resolves a raw API key.
//
// # Outputs
//
//   - *Credential: The resolved credential.
//   - error: ErrUnauthenticated for missing, unknown, disabled, or
//     expired keys;
//     store errors pass through.
func (a *Authenticator) Authenticate(ctx context.Context, apiKey string) (*Credential, error) {
	if apiKey == "" {
		return nil, ErrUnauthenticated
	}
	hash := HashKey(apiKey)
	now := time.Now()

	a.mu.Lock()
	if e, ok := a.cache[hash]; ok && now.Before(e.expires) {
		e.lastAccess = now
		cred := e.cred
		a.mu.Unlock()
		if cred == nil || cred.Disabled || cred.expired(now) {
			return nil, ErrUnauthenticated
		}
		return cred, nil
	}
	a.mu.Unlock()

	cred, err := a.store.Lookup(ctx, hash)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.cache[hash] = &cacheEntry{cred: cred, expires: now.Add(cacheTTL), lastAccess: now}
	a.evictLocked()
	a.mu.Unlock()

	if cred == nil || cred.Disabled || cred.expired(now) {
		a.logger.Warn("authentication rejected", slog.String("key_hash", hash[:8]))
		return nil, ErrUnauthenticated
	}
	return cred, nil
}

// Authorize checks a credential for a permission.
func (a *Authenticator) Authorize(cred *Credential, p Permission) error {
	if cred == nil {
		return ErrUnauthenticated
	}
	if !cred.Allows(p) {
		a.logger.Warn("permission denied",
			slog.String("credential", cred.Name),
			slog.String("permission", string(p)))
		return ErrForbidden
	}
	return nil
}

// Invalidate drops a cached lookup, forcing the next Authenticate to hit
// the store. Used after credential rotation.
func (a *Authenticator) Invalidate(apiKey string) {
	a.mu.Lock()
	delete(a.cache, HashKey(apiKey))
	a.mu.Unlock()
}

// evictLocked drops least recently used cache entries past the cap.
// Caller holds a.mu.
func (a *Authenticator) evictLocked() {
	for len(a.cache) > cacheMaxEntries {
		var oldest string
		var oldestAt time.Time
		for hash, e := range a.cache {
			if oldest == "" || e.lastAccess.Before(oldestAt) {
				oldest = hash
				oldestAt = e.lastAccess
			}
		}
		delete(a.cache, oldest)
	}
}
