// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package account

import (
	"time"
)

// Lockout configuration.
const (
	// LockoutThreshold is the number of consecutive failed logins that
	// locks an account.
	LockoutThreshold = 7

	// LockoutDuration is how long a locked account refuses logins.
	LockoutDuration = 15 * time.Minute
)

// lockoutState tracks consecutive login failures for one account.
type lockoutState struct {
	failures    int
	lockedUntil time.Time
}

// locked reports whether logins are refused at now, and for how long.
func (s *lockoutState) locked(now time.Time) (bool, time.Duration) {
	if s.lockedUntil.After(now) {
		return true, s.lockedUntil.Sub(now)
	}
	return false, 0
}

// fail records a failed login. It returns true when this failure locks the
// account.
func (s *lockoutState) fail(now time.Time) bool {
	if !s.lockedUntil.IsZero() && !s.lockedUntil.After(now) {
		// An expired lockout starts a fresh count.
		s.failures = 0
		s.lockedUntil = time.Time{}
	}
	s.failures++
	if s.failures >= LockoutThreshold {
		s.lockedUntil = now.Add(LockoutDuration)
		return true
	}
	return false
}

func (s *lockoutState) reset() {
	s.failures = 0
	s.lockedUntil = time.Time{}
}
