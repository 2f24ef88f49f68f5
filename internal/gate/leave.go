// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package gate

import (
	"log/slog"
	"net/netip"
	"time"
)

// LeaveFlow arms the resumable window when an authenticated identity
// disconnects. It is the only place a window is armed.
type LeaveFlow struct {
	store  Store
	logger *slog.Logger
}

// NewLeaveFlow creates a LeaveFlow writing to store.
func NewLeaveFlow(store Store, logger *slog.Logger) *LeaveFlow {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &LeaveFlow{store: store, logger: logger}
}

// OnLeave handles the disconnect of id at now. The live flag is always
// cleared. The record is touched only when the identity was live,
// not exempt, and resumption is enabled; then it is armed with
// validUntil = now + timeout and the connection's origin.
// Returns true when a window was armed.
func (f *LeaveFlow) OnLeave(policy *Policy, id Identity, now time.Time) bool {
	timeout, enabled := policy.SessionTimeout()

	armed := false
	f.store.Update(id, func(e *Entry) {
		wasLive, exempt, origin := e.Live, e.Exempt, e.Origin
		e.Live = false
		e.Connected = false
		e.Exempt = false
		e.Origin = netip.Addr{}

		if exempt || !wasLive || !enabled {
			return
		}

		record := SessionRecord{}
		if e.Record != nil {
			record = *e.Record
		}
		record.WasAuthenticated = true
		record.ValidUntil = now.Add(timeout)
		record.LastOrigin = origin
		e.Record = &record
		armed = true
	})

	if armed {
		SessionArms.Inc()
		f.logger.Debug("session window armed",
			"identity", id.String(),
			"valid_until", now.Add(timeout),
		)
	}
	return armed
}
