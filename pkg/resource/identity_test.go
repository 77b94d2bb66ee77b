package resource

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityString(t *testing.T) {
	id := Identity{
		Scope:   ScopeSystem,
		Backend: "flatpak",
		Origin:  "myremote",
		Kind:    KindApp,
		Name:    "org.example.Foo",
		Branch:  "stable",
	}

	assert.Equal(t, "system/flatpak/myremote/app/org.example.Foo/stable", id.String())
	assert.Equal(t, "flatpak://system/myremote/app/org.example.Foo/stable", id.URL())
	assert.True(t, id.Complete())

	id.Branch = ""
	assert.False(t, id.Complete())
}

func TestParseIdentityRoundTrip(t *testing.T) {
	in := "user/flatpak/flathub/runtime/org.kde.Platform/6.6"
	id, err := ParseIdentity(in)
	require.NoError(t, err)

	assert.Equal(t, ScopeUser, id.Scope)
	assert.Equal(t, KindRuntime, id.Kind)
	assert.Equal(t, "org.kde.Platform", id.Name)
	assert.Equal(t, in, id.String())
}

func TestParseIdentityErrors(t *testing.T) {
	tests := []string{
		"",
		"system/flatpak/app/foo",
		"galaxy/flatpak/remote/app/foo/stable",
		"system/flatpak/remote/widget/foo/stable",
		"system//remote/app/foo/stable",
		"system/flatpak/remote/app//stable",
	}
	for _, in := range tests {
		_, err := ParseIdentity(in)
		assert.Truef(t, errors.Is(err, ErrInvalidIdentity), "ParseIdentity(%q) = %v", in, err)
	}
}

func TestParseLocator(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantName string
		full     bool
		wantErr  bool
	}{
		{name: "full", raw: "flatpak://system/myremote/app/org.example.Foo/stable", wantName: "org.example.Foo", full: true},
		{name: "name only", raw: "flatpak://org.example.Foo", wantName: "org.example.Foo"},
		{name: "trailing slash", raw: "packagekit://vim/", wantName: "vim"},
		{name: "no scheme", raw: "org.example.Foo", wantErr: true},
		{name: "empty rest", raw: "flatpak://", wantErr: true},
		{name: "wrong arity", raw: "flatpak://system/myremote/app", wantErr: true},
		{name: "bad scope", raw: "flatpak://nowhere/myremote/app/org.example.Foo/stable", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc, err := ParseLocator(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidLocator)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, loc.Name)
			assert.Equal(t, tt.full, loc.Identity != nil)
		})
	}
}

func TestLocatorMatches(t *testing.T) {
	id := Identity{Scope: ScopeSystem, Backend: "flatpak", Origin: "myremote", Kind: KindApp, Name: "org.example.Foo", Branch: "stable"}

	full, err := ParseLocator(id.URL())
	require.NoError(t, err)
	assert.True(t, full.Matches(id))
	assert.Equal(t, id.URL(), full.String())

	other := id
	other.Branch = "beta"
	assert.False(t, full.Matches(other))

	short, err := ParseLocator("flatpak://org.example.Foo")
	require.NoError(t, err)
	assert.True(t, short.Matches(id))
	assert.True(t, short.Matches(other))
	assert.Equal(t, "flatpak://org.example.Foo", short.String())
}
