// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package gate

import (
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// SessionTimeoutDisabled is the timeout sentinel that turns off session
// resumption entirely.
const SessionTimeoutDisabled = -1

// Default policy values.
const (
	DefaultUsernamePattern       = `^[a-zA-Z0-9_]{3,16}$`
	DefaultSessionTimeoutSeconds = 60
	DefaultSafeMaterial          = "air"
	DefaultHazardMaterial        = "nether_portal"
	DefaultLoginCommand          = "/login"
	DefaultRegisterCommand       = "/register"
)

// PolicySpec is the raw, uncompiled form of Policy as loaded from
// configuration.
type PolicySpec struct {
	UsernamePattern           string   `koanf:"username_pattern" yaml:"username_pattern"`
	DuplicateLoginKickEnabled bool     `koanf:"duplicate_login_kick" yaml:"duplicate_login_kick"`
	SessionTimeoutSeconds     int      `koanf:"session_timeout_seconds" yaml:"session_timeout_seconds"`
	TeleportToSpawnOnJoin     bool     `koanf:"teleport_to_spawn_on_join" yaml:"teleport_to_spawn_on_join"`
	PortalRescueEnabled       bool     `koanf:"portal_rescue" yaml:"portal_rescue"`
	AllowChat                 bool     `koanf:"allow_chat" yaml:"allow_chat"`
	AllowMovement             bool     `koanf:"allow_movement" yaml:"allow_movement"`
	AllowBlockUse             bool     `koanf:"allow_block_use" yaml:"allow_block_use"`
	AllowBlockPunch           bool     `koanf:"allow_block_punch" yaml:"allow_block_punch"`
	AllowItemUse              bool     `koanf:"allow_item_use" yaml:"allow_item_use"`
	AllowItemDrop             bool     `koanf:"allow_item_drop" yaml:"allow_item_drop"`
	AllowItemMoving           bool     `koanf:"allow_item_moving" yaml:"allow_item_moving"`
	AllowEntityPunch          bool     `koanf:"allow_entity_punch" yaml:"allow_entity_punch"`
	AllowEntityInteract       bool     `koanf:"allow_entity_interact" yaml:"allow_entity_interact"`
	Invulnerable              bool     `koanf:"unauthenticated_invulnerable" yaml:"unauthenticated_invulnerable"`
	Invisible                 bool     `koanf:"unauthenticated_invisible" yaml:"unauthenticated_invisible"`
	ExemptNames               []string `koanf:"exempt_names" yaml:"exempt_names"`
	HazardMaterials           []string `koanf:"hazard_materials" yaml:"hazard_materials"`
	SafeMaterial              string   `koanf:"safe_material" yaml:"safe_material"`
	LoginCommands             []string `koanf:"login_commands" yaml:"login_commands"`
	RegisterCommands          []string `koanf:"register_commands" yaml:"register_commands"`
}

// DefaultPolicySpec returns the stock policy: everything denied while
// unauthenticated, one minute session resumption, portal rescue on.
func DefaultPolicySpec() PolicySpec {
	return PolicySpec{
		UsernamePattern:       DefaultUsernamePattern,
		SessionTimeoutSeconds: DefaultSessionTimeoutSeconds,
		PortalRescueEnabled:   true,
		Invulnerable:          true,
		Invisible:             true,
		HazardMaterials:       []string{DefaultHazardMaterial},
		SafeMaterial:          DefaultSafeMaterial,
		LoginCommands:         []string{DefaultLoginCommand},
		RegisterCommands:      []string{DefaultRegisterCommand},
	}
}

// Policy is the compiled, read-only view of a PolicySpec. Build one with
// Compile; the zero value denies every join.
type Policy struct {
	spec            PolicySpec
	usernamePattern *regexp.Regexp
	exempt          []glob.Glob
}

// Compile validates spec and returns the immutable Policy built from it.
func Compile(spec PolicySpec) (*Policy, error) {
	if spec.UsernamePattern == "" {
		return nil, oops.In("gate").Code("CONFIG_INVALID_PATTERN").
			Errorf("username pattern is required")
	}
	// Names must match the whole pattern, not a substring of it.
	re, err := regexp.Compile(`^(?:` + spec.UsernamePattern + `)$`)
	if err != nil {
		return nil, oops.In("gate").Code("CONFIG_INVALID_PATTERN").
			With("pattern", spec.UsernamePattern).
			Wrap(err)
	}
	if spec.SessionTimeoutSeconds < SessionTimeoutDisabled {
		return nil, oops.In("gate").Code("CONFIG_INVALID_TIMEOUT").
			With("session_timeout_seconds", spec.SessionTimeoutSeconds).
			Errorf("session timeout must be %d (disabled) or non-negative", SessionTimeoutDisabled)
	}

	exempt := make([]glob.Glob, 0, len(spec.ExemptNames))
	for _, pattern := range spec.ExemptNames {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, oops.In("gate").Code("CONFIG_INVALID_EXEMPT_PATTERN").
				With("pattern", pattern).
				Wrap(err)
		}
		exempt = append(exempt, g)
	}

	if spec.SafeMaterial == "" {
		spec.SafeMaterial = DefaultSafeMaterial
	}
	spec.ExemptNames = slices.Clone(spec.ExemptNames)
	spec.HazardMaterials = slices.Clone(spec.HazardMaterials)
	spec.LoginCommands = slices.Clone(spec.LoginCommands)
	spec.RegisterCommands = slices.Clone(spec.RegisterCommands)

	return &Policy{spec: spec, usernamePattern: re, exempt: exempt}, nil
}

// MustCompile is like Compile but panics on an invalid spec.
func MustCompile(spec PolicySpec) *Policy {
	p, err := Compile(spec)
	if err != nil {
		panic("invalid gate policy: " + err.Error())
	}
	return p
}

// DefaultPolicy returns the compiled DefaultPolicySpec.
func DefaultPolicy() *Policy {
	return MustCompile(DefaultPolicySpec())
}

// Spec returns a copy of the spec the policy was compiled from.
func (p *Policy) Spec() PolicySpec {
	if p == nil {
		return PolicySpec{}
	}
	spec := p.spec
	spec.ExemptNames = slices.Clone(p.spec.ExemptNames)
	spec.HazardMaterials = slices.Clone(p.spec.HazardMaterials)
	spec.LoginCommands = slices.Clone(p.spec.LoginCommands)
	spec.RegisterCommands = slices.Clone(p.spec.RegisterCommands)
	return spec
}

// UsernameValid reports whether name fully matches the username pattern.
// A nil policy accepts no name.
func (p *Policy) UsernameValid(name string) bool {
	if p == nil || p.usernamePattern == nil {
		return false
	}
	return p.usernamePattern.MatchString(name)
}

// IsExempt reports whether name belongs to a non-interactive identity that
// bypasses authentication.
func (p *Policy) IsExempt(name string) bool {
	if p == nil {
		return false
	}
	for _, g := range p.exempt {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// SessionTimeout returns the resumable window length and whether
// resumption is enabled at all.
func (p *Policy) SessionTimeout() (time.Duration, bool) {
	if p == nil || p.spec.SessionTimeoutSeconds == SessionTimeoutDisabled {
		return 0, false
	}
	return time.Duration(p.spec.SessionTimeoutSeconds) * time.Second, true
}

// IsHazard reports whether material counts as a zone the portal rescue
// pulls an unauthenticated identity out of.
func (p *Policy) IsHazard(material string) bool {
	if p == nil || material == "" {
		return false
	}
	return slices.Contains(p.spec.HazardMaterials, material)
}

// isCredentialCommand reports whether msg submits credentials and must pass
// the communication gate regardless of authentication state.
func (p *Policy) isCredentialCommand(msg string) bool {
	if p == nil {
		return false
	}
	for _, prefix := range p.spec.LoginCommands {
		if prefix != "" && strings.HasPrefix(msg, prefix) {
			return true
		}
	}
	for _, prefix := range p.spec.RegisterCommands {
		if prefix != "" && strings.HasPrefix(msg, prefix) {
			return true
		}
	}
	return false
}

// allows returns the allow-while-unauthenticated toggle for category.
// Unknown categories are never allowed.
func (p *Policy) allows(category Category) bool {
	if p == nil {
		return false
	}
	switch category {
	case CategoryCommunication:
		return p.spec.AllowChat
	case CategoryMovement:
		return p.spec.AllowMovement
	case CategoryBlockUse:
		return p.spec.AllowBlockUse
	case CategoryBlockPunch:
		return p.spec.AllowBlockPunch
	case CategoryItemUse:
		return p.spec.AllowItemUse
	case CategoryItemDrop:
		return p.spec.AllowItemDrop
	case CategoryItemMove:
		return p.spec.AllowItemMoving
	case CategoryEntityPunch:
		return p.spec.AllowEntityPunch
	case CategoryEntityInteract:
		return p.spec.AllowEntityInteract
	default:
		return false
	}
}
