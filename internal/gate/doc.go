// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package gate decides whether a connected identity is authenticated and
// whether each of its actions may proceed.
//
// # Components
//
//   - Store tracks, per identity, the resumable SessionRecord and the live
//     authenticated flag. MemoryStore is the in-process implementation.
//   - CanResume decides whether a reconnect may resume a prior session.
//   - JoinFlow runs the connect sequence and pre-join admission.
//   - LeaveFlow arms the resumable window on disconnect.
//   - ActionGate answers allow/deny for every in-session action category.
//
// Engine bundles all of them behind the surface used by the event layer.
//
// Every decision is total: unknown identities, missing records and
// contradictory records resolve to "not authenticated" rather than an error.
// Side effects (messages, relocation, fake world state) are never performed
// here; they are requested through the Effects interface after the store
// lock has been released, or returned as a Notice for the caller to act on.
package gate
