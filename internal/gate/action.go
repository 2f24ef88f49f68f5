// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package gate

import (
	"log/slog"
	"strings"
)

// Category is a kind of in-session action.
type Category string

// Action categories, one per policy toggle.
const (
	CategoryCommunication  Category = "communication"
	CategoryMovement       Category = "movement"
	CategoryBlockUse       Category = "block_use"
	CategoryBlockPunch     Category = "block_punch"
	CategoryItemUse        Category = "item_use"
	CategoryItemDrop       Category = "item_drop"
	CategoryItemMove       Category = "item_move"
	CategoryEntityPunch    Category = "entity_punch"
	CategoryEntityInteract Category = "entity_interact"
)

// Categories lists every known category.
func Categories() []Category {
	return []Category{
		CategoryCommunication,
		CategoryMovement,
		CategoryBlockUse,
		CategoryBlockPunch,
		CategoryItemUse,
		CategoryItemDrop,
		CategoryItemMove,
		CategoryEntityPunch,
		CategoryEntityInteract,
	}
}

// Decision is the gate's answer for one attempted action. Notice is what
// the caller should tell the user when the action is denied.
type Decision struct {
	Allowed bool
	Notice  Notice
}

var (
	allow      = Decision{Allowed: true}
	denySilent = Decision{}
	denyNotify = Decision{Notice: NoticeNotAuthenticated}
)

// ActionGate is the fail-closed predicate consulted for every in-session
// action. It holds no state of its own.
type ActionGate struct {
	store  Store
	logger *slog.Logger
}

// NewActionGate creates an ActionGate reading from store.
func NewActionGate(store Store, logger *slog.Logger) *ActionGate {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ActionGate{store: store, logger: logger}
}

func (g *ActionGate) authenticated(id Identity) bool {
	return g.store.IsLiveAuthenticated(id) || g.store.IsExempt(id)
}

// Check decides whether id may perform an action of category under policy.
// Movement is denied without a notice; continuous input would flood the
// user otherwise.
func (g *ActionGate) Check(policy *Policy, category Category, id Identity) Decision {
	d := g.check(policy, category, id)
	recordDecision(category, d.Allowed)
	if !d.Allowed {
		g.logger.Debug("action denied",
			"identity", id.String(),
			"category", string(category),
		)
	}
	return d
}

func (g *ActionGate) check(policy *Policy, category Category, id Identity) Decision {
	if g.authenticated(id) || policy.allows(category) {
		return allow
	}
	if category == CategoryMovement {
		return denySilent
	}
	return denyNotify
}

// CheckChat decides whether id may send message. Login and registration
// commands always pass so an unauthenticated identity can submit
// credentials. Any other command is denied while unauthenticated, even when
// chat is allowed.
func (g *ActionGate) CheckChat(policy *Policy, id Identity, message string) Decision {
	d := g.checkChat(policy, id, message)
	recordDecision(CategoryCommunication, d.Allowed)
	if !d.Allowed {
		g.logger.Debug("message denied",
			"identity", id.String(),
			"command", strings.HasPrefix(message, "/"),
		)
	}
	return d
}

func (g *ActionGate) checkChat(policy *Policy, id Identity, message string) Decision {
	if g.authenticated(id) || policy.isCredentialCommand(message) {
		return allow
	}
	if policy.allows(CategoryCommunication) && !strings.HasPrefix(message, "/") {
		return allow
	}
	return denyNotify
}
