// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package gate

import (
	"sync"
	"testing"
)

// recordedEffects captures every effect requested of it.
type recordedEffects struct {
	mu         sync.Mutex
	safeguards []Safeguards
	notices    []Notice
	faked      []Position
	fakedAs    []string
	relocated  []Position
	teleports  int
}

func (r *recordedEffects) ApplySafeguards(_ Identity, s Safeguards) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.safeguards = append(r.safeguards, s)
}

func (r *recordedEffects) Notify(_ Identity, n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *recordedEffects) FakeWorldState(_ Identity, pos Position, material string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.faked = append(r.faked, pos)
	r.fakedAs = append(r.fakedAs, material)
}

func (r *recordedEffects) Relocate(_ Identity, pos Position) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.relocated = append(r.relocated, pos)
}

func (r *recordedEffects) TeleportToSpawn(Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.teleports++
}

// policyWith compiles the default spec after applying mutate.
func policyWith(t *testing.T, mutate func(*PolicySpec)) *Policy {
	t.Helper()
	spec := DefaultPolicySpec()
	if mutate != nil {
		mutate(&spec)
	}
	p, err := Compile(spec)
	if err != nil {
		t.Fatalf("compile policy: %v", err)
	}
	return p
}
