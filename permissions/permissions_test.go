package permissions

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicy_IdentityRoles(t *testing.T) {
	ctx := context.Background()
	p := NewPolicy(DefaultAdmins, nil, nil)

	tests := []struct {
		user       string
		capability Capability
		want       bool
	}{
		{"admin", CapabilityArchive, true},
		{"reviewer", CapabilityApprove, true},
		{"reviewer", CapabilityPublish, false},
		{"author", CapabilityEdit, true},
		{"author", CapabilityApprove, false},
		{"editor", CapabilityArchive, true},
		{"alice", CapabilityEdit, false},
		{"", CapabilityEdit, false},
	}
	for _, tt := range tests {
		t.Run(tt.user+"/"+string(tt.capability), func(t *testing.T) {
			got, err := p.Allowed(ctx, tt.user, tt.capability)
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPolicy_StaticRoles(t *testing.T) {
	ctx := context.Background()
	roles := NewStaticRoles(map[string][]string{
		"alice": {"author"},
		"carol": {"reviewer"},
	})
	p := NewPolicy([]string{"root"}, nil, roles)

	ok, err := p.Allowed(ctx, "alice", CapabilityEdit)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.Allowed(ctx, "alice", CapabilityApprove)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = p.Allowed(ctx, "root", CapabilityArchive)
	require.NoError(t, err)
	assert.True(t, ok)

	// "admin" is only an admin when listed.
	ok, err = p.Allowed(ctx, "admin", CapabilityEdit)
	require.NoError(t, err)
	assert.False(t, ok)

	roles.Assign("alice", "publisher")
	caps, err := p.Capabilities(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []Capability{CapabilityPublish}, caps)
}

func TestPolicy_Errors(t *testing.T) {
	ctx := context.Background()
	lookupErr := errors.New("directory unavailable")
	p := NewPolicy(nil, nil, RoleLookupFunc(func(context.Context, string) ([]string, error) {
		return nil, lookupErr
	}))

	_, err := p.Allowed(ctx, "alice", CapabilityEdit)
	assert.ErrorIs(t, err, lookupErr)

	_, err = p.Allowed(ctx, "alice", Capability("delete"))
	assert.ErrorIs(t, err, ErrUnknownCapability)
}

func TestParseCapability(t *testing.T) {
	c, err := ParseCapability("publish")
	assert.NoError(t, err)
	assert.Equal(t, CapabilityPublish, c)

	_, err = ParseCapability("delete")
	assert.ErrorIs(t, err, ErrUnknownCapability)
}
