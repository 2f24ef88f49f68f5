// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package gate

import (
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestActionGate_FailClosedByDefault(t *testing.T) {
	g := NewActionGate(NewMemoryStore(), nil)
	p := DefaultPolicy()
	id := ulid.Make()

	for _, c := range Categories() {
		t.Run(string(c), func(t *testing.T) {
			d := g.Check(p, c, id)
			assert.False(t, d.Allowed)
			if c == CategoryMovement {
				assert.Equal(t, NoticeNone, d.Notice, "movement is denied silently")
			} else {
				assert.Equal(t, NoticeNotAuthenticated, d.Notice)
			}
		})
	}
}

func TestActionGate_ToggleAllowsOnlyItsCategory(t *testing.T) {
	toggles := map[Category]func(*PolicySpec){
		CategoryCommunication:  func(s *PolicySpec) { s.AllowChat = true },
		CategoryMovement:       func(s *PolicySpec) { s.AllowMovement = true },
		CategoryBlockUse:       func(s *PolicySpec) { s.AllowBlockUse = true },
		CategoryBlockPunch:     func(s *PolicySpec) { s.AllowBlockPunch = true },
		CategoryItemUse:        func(s *PolicySpec) { s.AllowItemUse = true },
		CategoryItemDrop:       func(s *PolicySpec) { s.AllowItemDrop = true },
		CategoryItemMove:       func(s *PolicySpec) { s.AllowItemMoving = true },
		CategoryEntityPunch:    func(s *PolicySpec) { s.AllowEntityPunch = true },
		CategoryEntityInteract: func(s *PolicySpec) { s.AllowEntityInteract = true },
	}
	g := NewActionGate(NewMemoryStore(), nil)
	id := ulid.Make()

	for enabled, mutate := range toggles {
		t.Run(string(enabled), func(t *testing.T) {
			p := policyWith(t, mutate)
			for _, c := range Categories() {
				assert.Equal(t, c == enabled, g.Check(p, c, id).Allowed, "category %s", c)
			}
		})
	}
}

func TestActionGate_LiveIdentityIsAllowed(t *testing.T) {
	s := NewMemoryStore()
	g := NewActionGate(s, nil)
	p := DefaultPolicy()
	id := ulid.Make()
	s.SetLiveAuthenticated(id, true)

	for _, c := range Categories() {
		assert.Equal(t, Decision{Allowed: true}, g.Check(p, c, id), c)
	}
	assert.True(t, g.CheckChat(p, id, "/give diamond").Allowed)
}

func TestActionGate_ExemptIdentityIsAllowed(t *testing.T) {
	s := NewMemoryStore()
	g := NewActionGate(s, nil)
	id := ulid.Make()
	s.Update(id, func(e *Entry) {
		e.Connected = true
		e.Exempt = true
	})

	assert.True(t, g.Check(DefaultPolicy(), CategoryBlockPunch, id).Allowed)
}

func TestActionGate_UnknownCategoryIsDenied(t *testing.T) {
	s := NewMemoryStore()
	g := NewActionGate(s, nil)
	p := policyWith(t, func(s *PolicySpec) {
		s.AllowChat = true
		s.AllowMovement = true
	})

	d := g.Check(p, Category("teleport"), ulid.Make())
	assert.False(t, d.Allowed)
	assert.Equal(t, NoticeNotAuthenticated, d.Notice)
}

func TestActionGate_CheckChat(t *testing.T) {
	tests := []struct {
		name      string
		allowChat bool
		message   string
		want      Decision
	}{
		{"login passes through", false, "/login secret", Decision{Allowed: true}},
		{"register passes through", false, "/register secret secret", Decision{Allowed: true}},
		{"other command denied", false, "/give diamond", Decision{Notice: NoticeNotAuthenticated}},
		{"plain chat denied", false, "hello", Decision{Notice: NoticeNotAuthenticated}},
		{"plain chat allowed by toggle", true, "hello", Decision{Allowed: true}},
		{"command denied even with chat allowed", true, "/give diamond", Decision{Notice: NoticeNotAuthenticated}},
		{"login passes with chat allowed", true, "/login secret", Decision{Allowed: true}},
	}

	g := NewActionGate(NewMemoryStore(), nil)
	id := ulid.Make()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := policyWith(t, func(s *PolicySpec) { s.AllowChat = tt.allowChat })
			assert.Equal(t, tt.want, g.CheckChat(p, id, tt.message))
		})
	}
}

func TestActionGate_RecordsDecisions(t *testing.T) {
	g := NewActionGate(NewMemoryStore(), nil)
	counter := ActionDecisions.WithLabelValues(string(CategoryItemDrop), ResultDeny)
	before := testutil.ToFloat64(counter)

	g.Check(DefaultPolicy(), CategoryItemDrop, ulid.Make())

	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestActionGate_UnknownCategoriesShareOneLabel(t *testing.T) {
	g := NewActionGate(NewMemoryStore(), nil)
	unknown := ActionDecisions.WithLabelValues(unknownCategoryLabel, ResultDeny)
	before := testutil.ToFloat64(unknown)
	series := testutil.CollectAndCount(ActionDecisions)

	for _, c := range []Category{"teleport", "fly", "x-forwarded"} {
		g.Check(DefaultPolicy(), c, ulid.Make())
	}

	assert.Equal(t, before+3, testutil.ToFloat64(unknown))
	assert.Equal(t, series, testutil.CollectAndCount(ActionDecisions), "unknown categories must not add series")
}
