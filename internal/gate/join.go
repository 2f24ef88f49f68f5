// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package gate

import (
	"fmt"
	"log/slog"
	"net/netip"
	"time"
)

// ConnectedIdentity describes an identity that is already connected, as
// seen by pre-join admission.
type ConnectedIdentity struct {
	Name   string
	Exempt bool
}

// RejectionReason classifies a pre-join rejection.
type RejectionReason string

// Rejection reasons.
const (
	RejectDuplicateName RejectionReason = "duplicate_name"
	RejectInvalidName   RejectionReason = "invalid_name"
)

// Rejection explains why a connection attempt was refused.
type Rejection struct {
	Reason RejectionReason
	// Name is the display name that was refused.
	Name string
	// Pattern is the username pattern, set for RejectInvalidName.
	Pattern string
}

// Message returns a default English description of the rejection.
func (r *Rejection) Message() string {
	switch r.Reason {
	case RejectDuplicateName:
		return fmt.Sprintf("Player %s is already online.", r.Name)
	case RejectInvalidName:
		return fmt.Sprintf("Invalid username characters! Allowed: %s", r.Pattern)
	default:
		return "Connection refused."
	}
}

// JoinOutcome is the terminal state of a join.
type JoinOutcome int

// Join outcomes.
const (
	// JoinUnauthenticated means the identity must log in.
	JoinUnauthenticated JoinOutcome = iota
	// JoinResumed means a prior session was resumed without credentials.
	JoinResumed
	// JoinTrusted means the identity is exempt from authentication.
	JoinTrusted
)

// String returns the outcome name.
func (o JoinOutcome) String() string {
	switch o {
	case JoinUnauthenticated:
		return "unauthenticated"
	case JoinResumed:
		return "resumed"
	case JoinTrusted:
		return "trusted"
	default:
		return "unknown"
	}
}

// JoinRequest carries everything the join flow needs about a connecting
// identity.
type JoinRequest struct {
	Identity Identity
	// Name is the display name; it decides exemption.
	Name     string
	Origin   netip.Addr
	Position Position
	Now      time.Time
}

// JoinResult reports what the join flow decided.
type JoinResult struct {
	Outcome JoinOutcome
	// Rescued is true when the identity was pulled out of a hazard.
	Rescued bool
}

// joinPlan collects the side effects decided under the store lock.
type joinPlan struct {
	outcome    JoinOutcome
	safeguards bool
	notify     bool
	rescue     bool
	teleport   bool
}

// JoinFlow runs the connect sequence and pre-join admission.
type JoinFlow struct {
	store  Store
	logger *slog.Logger
}

// NewJoinFlow creates a JoinFlow writing to store.
func NewJoinFlow(store Store, logger *slog.Logger) *JoinFlow {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &JoinFlow{store: store, logger: logger}
}

// CheckAdmission decides whether a connection under name may proceed.
// Exactly one check fires: a duplicate of a connected, non-exempt identity
// (when duplicate kick is enabled) takes precedence over an invalid name.
// Returns nil when there is no objection.
func (f *JoinFlow) CheckAdmission(policy *Policy, name string, connected []ConnectedIdentity) *Rejection {
	if policy.Spec().DuplicateLoginKickEnabled {
		for _, c := range connected {
			if c.Name == name && !c.Exempt {
				AdmissionRejections.WithLabelValues(string(RejectDuplicateName)).Inc()
				return &Rejection{Reason: RejectDuplicateName, Name: name}
			}
		}
	}
	if !policy.UsernameValid(name) {
		AdmissionRejections.WithLabelValues(string(RejectInvalidName)).Inc()
		return &Rejection{
			Reason:  RejectInvalidName,
			Name:    name,
			Pattern: policy.Spec().UsernamePattern,
		}
	}
	return nil
}

// OnJoin runs the join sequence for req and requests the resulting side
// effects from fx. The decision is made atomically against the identity's
// entry; fx is called after the lock is released.
func (f *JoinFlow) OnJoin(policy *Policy, req JoinRequest, fx Effects) JoinResult {
	if fx == nil {
		fx = NopEffects{}
	}
	spec := policy.Spec()
	exempt := policy.IsExempt(req.Name)

	var plan joinPlan
	f.store.Update(req.Identity, func(e *Entry) {
		e.Connected = true
		e.Live = false
		e.Exempt = exempt
		e.Origin = req.Origin

		if exempt {
			plan.outcome = JoinTrusted
			return
		}

		if e.Record != nil && CanResume(*e.Record, req.Now, req.Origin) {
			e.Live = true
			// The window is single use; only a new disconnect re-arms it.
			e.Record.WasAuthenticated = false
			plan.outcome = JoinResumed
			return
		}

		plan.outcome = JoinUnauthenticated
		plan.safeguards = true
		plan.notify = true
		if e.Record != nil {
			e.Record.WasAuthenticated = false
		} else {
			e.Record = &SessionRecord{LastOrigin: req.Origin}
		}

		if spec.PortalRescueEnabled && policy.IsHazard(req.Position.Material) {
			e.Record.WasInPortal = true
			plan.rescue = true
		}
		plan.teleport = spec.TeleportToSpawnOnJoin
	})

	JoinOutcomes.WithLabelValues(plan.outcome.String()).Inc()
	f.logger.Info("identity joined",
		"identity", req.Identity.String(),
		"outcome", plan.outcome.String(),
	)

	if plan.safeguards {
		fx.ApplySafeguards(req.Identity, Safeguards{
			Invulnerable: spec.Invulnerable,
			Invisible:    spec.Invisible,
		})
	}
	if plan.notify {
		fx.Notify(req.Identity, NoticeNotAuthenticated)
	}
	if plan.rescue {
		fx.FakeWorldState(req.Identity, req.Position, spec.SafeMaterial)
		fx.FakeWorldState(req.Identity, req.Position.Above(), spec.SafeMaterial)
		fx.Relocate(req.Identity, req.Position.Centered())
	}
	if plan.teleport {
		fx.TeleportToSpawn(req.Identity)
	}

	return JoinResult{Outcome: plan.outcome, Rescued: plan.rescue}
}
