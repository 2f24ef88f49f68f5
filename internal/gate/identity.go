// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package gate

import (
	"math"
	"net"
	"net/netip"

	"github.com/oklog/ulid/v2"
)

// Identity is the stable key of one user account. It is minted once per
// account and never derived from the display name.
type Identity = ulid.ULID

// Position is a location in the world. Material names what occupies it.
type Position struct {
	X, Y, Z  float64
	Material string
}

// Centered returns the position moved to the middle of its cell on the
// horizontal axes.
func (p Position) Centered() Position {
	return Position{
		X:        math.Floor(p.X) + 0.5,
		Y:        p.Y,
		Z:        math.Floor(p.Z) + 0.5,
		Material: p.Material,
	}
}

// Above returns the cell directly above p.
func (p Position) Above() Position {
	return Position{X: p.X, Y: p.Y + 1, Z: p.Z, Material: p.Material}
}

// OriginFromAddr extracts the host part of a connection address.
// Returns the zero Addr when addr is nil or not an IP endpoint; the zero Addr
// never matches a recorded origin.
func OriginFromAddr(addr net.Addr) netip.Addr {
	if addr == nil {
		return netip.Addr{}
	}
	if tcp, ok := addr.(*net.TCPAddr); ok {
		ip, _ := netip.AddrFromSlice(tcp.IP)
		return ip.Unmap()
	}
	ap, err := netip.ParseAddrPort(addr.String())
	if err != nil {
		ip, ipErr := netip.ParseAddr(addr.String())
		if ipErr != nil {
			return netip.Addr{}
		}
		return ip.Unmap()
	}
	return ap.Addr().Unmap()
}
