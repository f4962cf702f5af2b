package swarm

import (
	"context"
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopHandler(context.Context, map[string]any) (map[string]any, error) {
	return map[string]any{}, nil
}

func TestRegisterDuplicateVersionFails(t *testing.T) {
	reg := NewRegistry()
	cap := &Capability{
		Name:    "EchoRequest",
		Version: semver.MustParse("1.0.0"),
		Handler: noopHandler,
	}
	require.NoError(t, reg.Register(cap))

	dup := &Capability{
		Name:    "EchoRequest",
		Version: semver.MustParse("1.0.0"),
		Handler: noopHandler,
	}
	err := reg.Register(dup)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateCapability)
}

func TestResolveReturnsHighestVersion(t *testing.T) {
	reg := NewRegistry()
	for _, v := range []string{"1.0.0", "2.1.0", "1.5.0"} {
		require.NoError(t, reg.Register(&Capability{
			Name:    "EchoRequest",
			Version: semver.MustParse(v),
			Handler: noopHandler,
		}))
	}

	cap, err := reg.Resolve("EchoRequest")
	require.NoError(t, err)
	assert.Equal(t, "2.1.0", cap.Version.String())

	exact, err := reg.ResolveVersion("EchoRequest", "1.5.0")
	require.NoError(t, err)
	assert.Equal(t, "1.5.0", exact.Version.String())

	_, err = reg.ResolveVersion("EchoRequest", "9.9.9")
	assert.ErrorIs(t, err, ErrUnknownCapability)
}

func TestResolveUnknownCapability(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Resolve("NoSuchThing")
	assert.ErrorIs(t, err, ErrUnknownCapability)
	assert.False(t, reg.Has("NoSuchThing"))
}

func TestParamSchemaValidate(t *testing.T) {
	schema := ParamSchema{
		"query": {Type: ParamString, Required: true},
		"limit": {Type: ParamNumber},
	}

	tests := []struct {
		name    string
		params  map[string]any
		wantErr string
	}{
		{"valid", map[string]any{"query": "London"}, ""},
		{"valid with optional", map[string]any{"query": "London", "limit": 5}, ""},
		{"missing required", map[string]any{"limit": 5}, "missing required parameter"},
		{"wrong type", map[string]any{"query": 42}, "expected string"},
		{"unknown key", map[string]any{"query": "London", "extra": true}, "unknown parameter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := schema.Validate(tt.params)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
