// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package account maps display names to stable identities and holds the
// credentials checked by /login and /register.
package account

import (
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authgate/internal/gate"
)

// Account is one user account.
type Account struct {
	ID           gate.Identity
	Name         string
	PasswordHash string // empty until registered
	Position     gate.Position
	CreatedAt    time.Time

	lockout lockoutState
}

// Registered reports whether the account has a password.
func (a *Account) Registered() bool {
	return a.PasswordHash != ""
}

// Registry is an in-memory account registry. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byID   map[gate.Identity]*Account
	byName map[string]gate.Identity // lower-cased name → ID
	hasher *Hasher
	spawn  gate.Position
	now    func() time.Time
}

// NewRegistry creates an empty registry. New accounts start at spawn.
func NewRegistry(hasher *Hasher, spawn gate.Position) *Registry {
	if hasher == nil {
		hasher = NewHasher()
	}
	return &Registry{
		byID:   make(map[gate.Identity]*Account),
		byName: make(map[string]gate.Identity),
		hasher: hasher,
		spawn:  spawn,
		now:    time.Now,
	}
}

func copyAccount(a *Account) *Account {
	c := *a
	return &c
}

// Resolve returns the account for name, creating an unregistered one with a
// fresh identity on first sight. Names are case-insensitive.
func (r *Registry) Resolve(name string) *Account {
	key := strings.ToLower(name)

	r.mu.RLock()
	id, ok := r.byName[key]
	if ok {
		a := copyAccount(r.byID[id])
		r.mu.RUnlock()
		return a
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	// Another connection may have created it meanwhile.
	if id, ok := r.byName[key]; ok {
		return copyAccount(r.byID[id])
	}
	a := &Account{
		ID:        ulid.Make(),
		Name:      name,
		Position:  r.spawn,
		CreatedAt: r.now(),
	}
	r.byID[a.ID] = a
	r.byName[key] = a.ID
	return copyAccount(a)
}

// Get returns a copy of the account with id.
func (r *Registry) Get(id gate.Identity) (*Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.byID[id]
	if !ok {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With("id", id.String()).Errorf("account not found")
	}
	return copyAccount(a), nil
}

// Register sets the password of an unregistered account.
func (r *Registry) Register(id gate.Identity, password string) error {
	hash, err := r.hasher.Hash(password)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byID[id]
	if !ok {
		return oops.Code("ACCOUNT_NOT_FOUND").With("id", id.String()).Errorf("account not found")
	}
	if a.Registered() {
		return oops.Code("ACCOUNT_ALREADY_REGISTERED").With("id", id.String()).Errorf("account is already registered")
	}
	a.PasswordHash = hash
	return nil
}

// Login checks password against the account's hash. After
// LockoutThreshold consecutive failures the account refuses logins for
// LockoutDuration.
func (r *Registry) Login(id gate.Identity, password string) error {
	r.mu.RLock()
	a, ok := r.byID[id]
	var hash string
	var locked bool
	var remaining time.Duration
	if ok {
		hash = a.PasswordHash
		locked, remaining = a.lockout.locked(r.now())
	}
	r.mu.RUnlock()

	if !ok {
		return oops.Code("ACCOUNT_NOT_FOUND").With("id", id.String()).Errorf("account not found")
	}
	if hash == "" {
		return oops.Code("ACCOUNT_NOT_REGISTERED").With("id", id.String()).Errorf("account is not registered")
	}
	if locked {
		return oops.Code("ACCOUNT_LOCKED").
			With("id", id.String()).
			With("remaining", remaining.Round(time.Second).String()).
			Hint("wait for the lockout to expire").
			Errorf("account is locked")
	}

	match, err := r.hasher.Verify(password, hash)
	if err != nil {
		return oops.With("id", id.String()).Wrap(err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !match {
		if a.lockout.fail(r.now()) {
			return oops.Code("ACCOUNT_LOCKED").
				With("id", id.String()).
				With("remaining", LockoutDuration.String()).
				Hint("wait for the lockout to expire").
				Errorf("too many failed logins")
		}
		return oops.Code("ACCOUNT_BAD_PASSWORD").With("id", id.String()).Errorf("wrong password")
	}
	a.lockout.reset()
	return nil
}

// SetPosition records the account's last known position.
func (r *Registry) SetPosition(id gate.Identity, pos gate.Position) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.byID[id]; ok {
		a.Position = pos
	}
}

// Spawn returns the world spawn position.
func (r *Registry) Spawn() gate.Position {
	return r.spawn
}
