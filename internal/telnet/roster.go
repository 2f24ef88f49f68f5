// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package telnet

import (
	"strings"
	"sync"

	"github.com/holomush/authgate/internal/gate"
)

// roster tracks joined connections by display name. Names compare
// case-insensitively, as account resolution does.
type roster struct {
	mu     sync.RWMutex
	byName map[string]*connection
}

func newRoster() *roster {
	return &roster{byName: make(map[string]*connection)}
}

// connectedLocked lists the joined identities for admission. A name that
// differs from name only in case is reported as name. r.mu must be held.
func (r *roster) connectedLocked(name string) []gate.ConnectedIdentity {
	out := make([]gate.ConnectedIdentity, 0, len(r.byName))
	for _, c := range r.byName {
		n := c.name
		if strings.EqualFold(n, name) {
			n = name
		}
		out = append(out, gate.ConnectedIdentity{Name: n, Exempt: c.exempt})
	}
	return out
}

// admit runs check against the joined identities and, if it passes,
// registers c under its name, all under one lock so concurrent joins under
// the same name see each other. A rejection from check is returned as is.
// If another connection holds the name it is returned and c is not
// registered; the caller takes it over and calls admit again.
func (r *roster) admit(c *connection, check func([]gate.ConnectedIdentity) *gate.Rejection) (*connection, *gate.Rejection) {
	key := strings.ToLower(c.name)

	r.mu.Lock()
	defer r.mu.Unlock()
	if rej := check(r.connectedLocked(c.name)); rej != nil {
		return nil, rej
	}
	if prev, ok := r.byName[key]; ok && prev != c {
		return prev, nil
	}
	r.byName[key] = c
	return nil, nil
}

// release removes c if it still holds its name.
func (r *roster) release(c *connection) {
	key := strings.ToLower(c.name)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byName[key] == c {
		delete(r.byName, key)
	}
}

// each calls fn for every joined connection. fn must not touch the roster.
func (r *roster) each(fn func(*connection)) {
	r.mu.RLock()
	conns := make([]*connection, 0, len(r.byName))
	for _, c := range r.byName {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	for _, c := range conns {
		fn(c)
	}
}

func (r *roster) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}
