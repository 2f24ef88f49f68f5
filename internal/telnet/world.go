// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package telnet

import (
	"math"
	"strings"
	"sync"

	"github.com/holomush/authgate/internal/gate"
)

// DefaultMaterial fills every cell nothing was placed in.
const DefaultMaterial = "air"

type cell struct {
	x, y, z int64
}

func cellOf(pos gate.Position) cell {
	return cell{int64(math.Floor(pos.X)), int64(math.Floor(pos.Y)), int64(math.Floor(pos.Z))}
}

// World is a sparse block grid. It is safe for concurrent use.
type World struct {
	mu     sync.RWMutex
	spawn  gate.Position
	blocks map[cell]string
}

// NewWorld creates an empty world with the given spawn point.
func NewWorld(spawn gate.Position) *World {
	return &World{spawn: spawn, blocks: make(map[cell]string)}
}

// Place sets the material of the cell containing pos.
func (w *World) Place(pos gate.Position, material string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.blocks[cellOf(pos)] = material
}

// MaterialAt returns the material of the cell containing pos.
func (w *World) MaterialAt(pos gate.Position) string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if m, ok := w.blocks[cellOf(pos)]; ok {
		return m
	}
	return DefaultMaterial
}

// Locate returns pos with Material filled in from the grid.
func (w *World) Locate(pos gate.Position) gate.Position {
	pos.Material = w.MaterialAt(pos)
	return pos
}

// Spawn returns the spawn point.
func (w *World) Spawn() gate.Position {
	return w.Locate(w.spawn)
}

// Step returns pos moved one cell in direction. ok is false for an unknown
// direction.
func Step(pos gate.Position, direction string) (next gate.Position, ok bool) {
	next = pos
	switch strings.ToLower(direction) {
	case "n", "north":
		next.Z--
	case "s", "south":
		next.Z++
	case "e", "east":
		next.X++
	case "w", "west":
		next.X--
	case "u", "up":
		next.Y++
	case "d", "down":
		next.Y--
	default:
		return pos, false
	}
	return next, true
}
