// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package gate

import (
	"net/netip"
	"time"
)

// SessionRecord is the resumable-session state of one identity.
type SessionRecord struct {
	// WasAuthenticated is true when the last session ended authenticated
	// and the window has not been consumed by a resume.
	WasAuthenticated bool
	// ValidUntil is the end of the resumable window. Only meaningful while
	// WasAuthenticated is true.
	ValidUntil time.Time
	// LastOrigin is the network origin recorded at disconnect or at the
	// most recent deauthentication.
	LastOrigin netip.Addr
	// WasInPortal is set when the join flow rescued the identity out of a
	// hazard; the event layer restores the real world state on login.
	WasInPortal bool
	// WasOnFire is a transient environment flag cleared whenever the
	// identity is treated as newly deauthenticated.
	WasOnFire bool
}

// Resumable reports whether the record still holds an unconsumed window at
// now, regardless of origin.
func (r SessionRecord) Resumable(now time.Time) bool {
	return r.WasAuthenticated && !r.ValidUntil.IsZero() && !r.ValidUntil.Before(now)
}

// CanResume decides whether a reconnect from origin at now may resume the
// session held in record. All three conditions must hold: the record ended
// authenticated, the window has not expired, and the origin matches.
// A record with a missing origin or expiry is never resumable.
func CanResume(record SessionRecord, now time.Time, origin netip.Addr) bool {
	if !record.WasAuthenticated || record.ValidUntil.IsZero() {
		return false
	}
	if !record.LastOrigin.IsValid() || !origin.IsValid() {
		return false
	}
	return !record.ValidUntil.Before(now) && record.LastOrigin == origin.Unmap()
}
