// Package permissions decides which users may move content into which
// workflow states.
package permissions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Capability is a permission checked by workflow guards.
type Capability string

// Capabilities.
const (
	CapabilityEdit    Capability = "edit"
	CapabilityApprove Capability = "approve"
	CapabilityPublish Capability = "publish"
	CapabilityArchive Capability = "archive"
)

// Capabilities lists every capability.
var Capabilities = []Capability{CapabilityEdit, CapabilityApprove, CapabilityPublish, CapabilityArchive}

// ErrUnknownCapability is returned for a capability outside Capabilities.
var ErrUnknownCapability = errors.New("unknown capability")

// ParseCapability converts a capability name into a Capability.
func ParseCapability(name string) (Capability, error) {
	for _, c := range Capabilities {
		if string(c) == name {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCapability, name)
}

// Resolver answers whether a user holds a capability.
type Resolver interface {
	Allowed(ctx context.Context, userID string, capability Capability) (bool, error)
}

// RoleLookup maps a user to the roles they hold.
type RoleLookup interface {
	Roles(ctx context.Context, userID string) ([]string, error)
}

// RoleLookupFunc is a function adapter for RoleLookup.
type RoleLookupFunc func(ctx context.Context, userID string) ([]string, error)

// Roles implements RoleLookup.
func (f RoleLookupFunc) Roles(ctx context.Context, userID string) ([]string, error) {
	return f(ctx, userID)
}

// IdentityRoles treats the user id itself as the only role. It stands in
// until a real identity service is wired up.
type IdentityRoles struct{}

// Roles implements RoleLookup.
func (IdentityRoles) Roles(_ context.Context, userID string) ([]string, error) {
	return []string{userID}, nil
}

// StaticRoles is a fixed user → roles table.
type StaticRoles struct {
	mu    sync.RWMutex
	roles map[string][]string
}

// NewStaticRoles copies the given table.
func NewStaticRoles(table map[string][]string) *StaticRoles {
	s := &StaticRoles{roles: make(map[string][]string, len(table))}
	for user, roles := range table {
		s.roles[user] = append([]string(nil), roles...)
	}
	return s
}

// Assign replaces the roles of a user.
func (s *StaticRoles) Assign(userID string, roles ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[userID] = append([]string(nil), roles...)
}

// Roles implements RoleLookup. Unknown users hold no roles.
func (s *StaticRoles) Roles(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.roles[userID]...), nil
}

// DefaultAdmins is the admin allow-list used when none is configured.
var DefaultAdmins = []string{"admin"}

// DefaultCapabilityRoles is the capability → roles table used when none is configured.
func DefaultCapabilityRoles() map[Capability][]string {
	return map[Capability][]string{
		CapabilityEdit:    {"author", "editor", "admin"},
		CapabilityApprove: {"reviewer", "editor", "admin"},
		CapabilityPublish: {"publisher", "editor", "admin"},
		CapabilityArchive: {"editor", "admin"},
	}
}

// Policy is the built-in Resolver: admins pass every check, everyone else
// needs one of the roles listed for the capability.
type Policy struct {
	admins map[string]struct{}
	table  map[Capability]map[string]struct{}
	lookup RoleLookup
}

// NewPolicy builds a Policy. A nil lookup selects IdentityRoles and a nil
// table selects DefaultCapabilityRoles.
func NewPolicy(admins []string, table map[Capability][]string, lookup RoleLookup) *Policy {
	if lookup == nil {
		lookup = IdentityRoles{}
	}
	if table == nil {
		table = DefaultCapabilityRoles()
	}
	p := &Policy{
		admins: make(map[string]struct{}, len(admins)),
		table:  make(map[Capability]map[string]struct{}, len(table)),
		lookup: lookup,
	}
	for _, a := range admins {
		p.admins[a] = struct{}{}
	}
	for c, roles := range table {
		set := make(map[string]struct{}, len(roles))
		for _, r := range roles {
			set[r] = struct{}{}
		}
		p.table[c] = set
	}
	return p
}

// Allowed implements Resolver.
func (p *Policy) Allowed(ctx context.Context, userID string, capability Capability) (bool, error) {
	if userID == "" {
		return false, nil
	}
	if _, ok := p.admins[userID]; ok {
		return true, nil
	}
	allowed, ok := p.table[capability]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownCapability, capability)
	}
	roles, err := p.lookup.Roles(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("lookup roles for %s: %w", userID, err)
	}
	for _, r := range roles {
		if _, ok := allowed[r]; ok {
			return true, nil
		}
	}
	return false, nil
}

// Capabilities returns the sorted capabilities userID holds.
func (p *Policy) Capabilities(ctx context.Context, userID string) ([]Capability, error) {
	var out []Capability
	for c := range p.table {
		ok, err := p.Allowed(ctx, userID, c)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
