// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package gate

// Notice is a user-facing notification intent. The event layer owns the
// wording.
type Notice int

// Notices.
const (
	NoticeNone Notice = iota
	NoticeNotAuthenticated
)

// String returns the notice name.
func (n Notice) String() string {
	switch n {
	case NoticeNone:
		return "none"
	case NoticeNotAuthenticated:
		return "not_authenticated"
	default:
		return "unknown"
	}
}

// Safeguards are protections applied to an identity that joined without
// resuming a session.
type Safeguards struct {
	Invulnerable bool
	Invisible    bool
}

// Effects performs the side effects requested by the join flow. Calls are
// made after the store lock is released, from the goroutine that called
// OnJoin.
type Effects interface {
	// ApplySafeguards sets the identity's protection flags.
	ApplySafeguards(id Identity, s Safeguards)
	// Notify delivers a notice to the identity.
	Notify(id Identity, n Notice)
	// FakeWorldState shows pos to the identity as material without changing
	// the world.
	FakeWorldState(id Identity, pos Position, material string)
	// Relocate moves the identity to pos.
	Relocate(id Identity, pos Position)
	// TeleportToSpawn moves the identity to the world spawn.
	TeleportToSpawn(id Identity)
}

// NopEffects discards every effect.
type NopEffects struct{}

// ApplySafeguards implements Effects.
func (NopEffects) ApplySafeguards(Identity, Safeguards) {}

// Notify implements Effects.
func (NopEffects) Notify(Identity, Notice) {}

// FakeWorldState implements Effects.
func (NopEffects) FakeWorldState(Identity, Position, string) {}

// Relocate implements Effects.
func (NopEffects) Relocate(Identity, Position) {}

// TeleportToSpawn implements Effects.
func (NopEffects) TeleportToSpawn(Identity) {}
