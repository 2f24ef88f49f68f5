// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package gate

import (
	"log/slog"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/samber/oops"
)

// Engine is the surface the event layer calls: admission, join, leave,
// action checks and explicit (de)authentication. It is safe for concurrent
// use from any number of connection goroutines.
type Engine struct {
	policy atomic.Pointer[Policy]
	store  Store
	join   *JoinFlow
	leave  *LeaveFlow
	gate   *ActionGate
	logger *slog.Logger
}

// NewEngine creates an Engine over store using policy.
// Returns an error if policy or store is nil.
func NewEngine(policy *Policy, store Store, logger *slog.Logger) (*Engine, error) {
	if policy == nil {
		return nil, oops.In("gate").Code("ENGINE_POLICY_REQUIRED").Errorf("policy is required")
	}
	if store == nil {
		return nil, oops.In("gate").Code("ENGINE_STORE_REQUIRED").Errorf("store is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	e := &Engine{
		store:  store,
		join:   NewJoinFlow(store, logger),
		leave:  NewLeaveFlow(store, logger),
		gate:   NewActionGate(store, logger),
		logger: logger,
	}
	e.policy.Store(policy)
	return e, nil
}

// Policy returns the policy currently in force.
func (e *Engine) Policy() *Policy {
	return e.policy.Load()
}

// SetPolicy replaces the policy. Decisions already in flight finish with
// the policy they started with. A nil policy is ignored.
func (e *Engine) SetPolicy(p *Policy) {
	if p == nil {
		return
	}
	e.policy.Store(p)
	e.logger.Info("gate policy replaced")
}

// Store returns the underlying auth state store.
func (e *Engine) Store() Store {
	return e.store
}

// CheckJoinAdmission runs pre-join admission for name against the
// currently connected identities. Returns nil when the join may proceed.
func (e *Engine) CheckJoinAdmission(name string, connected []ConnectedIdentity) *Rejection {
	return e.join.CheckAdmission(e.Policy(), name, connected)
}

// OnJoin runs the join flow.
func (e *Engine) OnJoin(req JoinRequest, fx Effects) JoinResult {
	return e.join.OnJoin(e.Policy(), req, fx)
}

// OnLeave runs the leave flow. Returns true when a resumable window was armed.
func (e *Engine) OnLeave(id Identity, now time.Time) bool {
	return e.leave.OnLeave(e.Policy(), id, now)
}

// CheckAction asks the action gate about an action of category.
func (e *Engine) CheckAction(category Category, id Identity) Decision {
	return e.gate.Check(e.Policy(), category, id)
}

// CheckChat asks the action gate about a chat message or command.
func (e *Engine) CheckChat(id Identity, message string) Decision {
	return e.gate.CheckChat(e.Policy(), id, message)
}

// IsAuthenticated reports whether id is live-authenticated or exempt.
func (e *Engine) IsAuthenticated(id Identity) bool {
	return e.gate.authenticated(id)
}

// Authenticate marks a connected identity live-authenticated after its
// credentials were accepted, and lifts the safeguards applied at join.
// Returns whether the identity had been rescued from a hazard (so the
// caller can show the real world state again) and whether it was connected
// at all; a disconnected identity is left untouched.
func (e *Engine) Authenticate(id Identity, fx Effects) (wasInPortal, ok bool) {
	if fx == nil {
		fx = NopEffects{}
	}
	e.store.Update(id, func(en *Entry) {
		if !en.Connected {
			return
		}
		ok = true
		en.Live = true
		if en.Record != nil {
			wasInPortal = en.Record.WasInPortal
			en.Record.WasInPortal = false
		}
	})
	if !ok {
		e.logger.Warn("authenticate called for disconnected identity", "identity", id.String())
		return false, false
	}
	fx.ApplySafeguards(id, Safeguards{})
	e.logger.Info("identity authenticated", "identity", id.String())
	return wasInPortal, true
}

// Deauthenticate clears the live flag of a connected identity and starts
// a fresh, non-resumable record from origin. Environment flags are reset
// and the join safeguards are applied again.
func (e *Engine) Deauthenticate(id Identity, origin netip.Addr, fx Effects) {
	if fx == nil {
		fx = NopEffects{}
	}
	spec := e.Policy().Spec()

	var connected bool
	e.store.Update(id, func(en *Entry) {
		connected = en.Connected
		en.Live = false
		en.Record = &SessionRecord{LastOrigin: origin}
	})
	e.logger.Info("identity deauthenticated", "identity", id.String())

	if !connected {
		return
	}
	fx.ApplySafeguards(id, Safeguards{Invulnerable: spec.Invulnerable, Invisible: spec.Invisible})
	fx.Notify(id, NoticeNotAuthenticated)
}
