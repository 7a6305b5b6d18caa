package registry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReloadValidation(t *testing.T) {
	_, err := New([]Export{{Path: "relative"}}, nil)
	assert.Error(t, err)

	_, err = New([]Export{{Path: "/data"}, {Path: "/data/"}}, nil)
	assert.Error(t, err, "paths are cleaned before the duplicate check")

	reg, err := New([]Export{{Path: "/data"}}, nil)
	require.NoError(t, err)
	require.Error(t, reg.Reload([]Export{{Path: ""}}))
	assert.Equal(t, 1, reg.Count(), "failed reload keeps the old table")
}

func TestLookupPicksInnermostExport(t *testing.T) {
	reg, err := New([]Export{
		{Path: "/data"},
		{Path: "/data/ro", ReadOnly: true},
		{Path: "/srv"},
	}, nil)
	require.NoError(t, err)

	exp, ok := reg.Lookup("/data/ro/file")
	require.True(t, ok)
	assert.Equal(t, "/data/ro", exp.Path)
	assert.True(t, exp.ReadOnly)

	exp, ok = reg.Lookup("/data/rock")
	require.True(t, ok)
	assert.Equal(t, "/data", exp.Path)

	_, ok = reg.Lookup("/home")
	assert.False(t, ok)

	paths := []string{}
	for _, e := range reg.Exports() {
		paths = append(paths, e.Path)
	}
	assert.Equal(t, []string{"/data", "/data/ro", "/srv"}, paths)
}

func TestAllowed(t *testing.T) {
	orig := lookupHost
	lookupHost = func(host string) ([]string, error) {
		if host == "client.example" {
			return []string{"192.0.2.7"}, nil
		}
		return nil, errors.New("no such host")
	}
	t.Cleanup(func() { lookupHost = orig })

	reg, err := New(nil, nil)
	require.NoError(t, err)

	loopback := &Export{Path: "/data"}
	assert.True(t, reg.Allowed(loopback, "127.0.0.1"))
	assert.True(t, reg.Allowed(loopback, "::1"))
	assert.False(t, reg.Allowed(loopback, "10.0.0.1"))

	exp := &Export{Path: "/data", AllowedClients: []string{"10.1.0.0/16", "192.168.1.5", "client.example"}}
	assert.True(t, reg.Allowed(exp, "10.1.200.3"))
	assert.True(t, reg.Allowed(exp, "192.168.1.5"))
	assert.True(t, reg.Allowed(exp, "192.0.2.7"))
	assert.False(t, reg.Allowed(exp, "192.168.1.6"))
	assert.False(t, reg.Allowed(exp, "garbage"))

	open := &Export{Path: "/data", AllowedClients: []string{"*"}}
	assert.True(t, reg.Allowed(open, "203.0.113.9"))
}

func TestMapIdentity(t *testing.T) {
	reg, err := New(nil, nil)
	require.NoError(t, err)
	reg.daemon = Identity{UID: 500, GID: 500}

	mapping := IdentityMapping{AnonymousUID: 65534, AnonymousGID: 65533}
	user := Credentials{UID: 1000, GID: 100, GIDs: []uint32{10, 20}}
	root := Credentials{UID: 0, GID: 0}

	t.Run("PassThrough", func(t *testing.T) {
		id := reg.MapIdentity(&Export{Identity: mapping}, user)
		assert.Equal(t, uint32(1000), id.UID)
		assert.True(t, id.InGroup(20))
		assert.False(t, id.InGroup(30))
	})

	t.Run("AuthNullIsAnonymous", func(t *testing.T) {
		id := reg.MapIdentity(&Export{Identity: mapping}, Credentials{Anonymous: true})
		assert.Equal(t, Identity{UID: 65534, GID: 65533, GIDs: []uint32{65533}}, id)
	})

	t.Run("RootSquash", func(t *testing.T) {
		m := mapping
		m.MapPrivilegedToAnonymous = true
		assert.Equal(t, uint32(65534), reg.MapIdentity(&Export{Identity: m}, root).UID)
		assert.Equal(t, uint32(1000), reg.MapIdentity(&Export{Identity: m}, user).UID)
	})

	t.Run("AllSquash", func(t *testing.T) {
		m := mapping
		m.MapAllToAnonymous = true
		assert.Equal(t, uint32(65534), reg.MapIdentity(&Export{Identity: m}, user).UID)
	})

	t.Run("SingleUser", func(t *testing.T) {
		m := mapping
		m.SingleUser = true
		assert.Equal(t, Identity{UID: 500, GID: 500}, reg.MapIdentity(&Export{Identity: m}, user))
	})
}

func TestMountTable(t *testing.T) {
	reg, err := New([]Export{{Path: "/data"}}, nil)
	require.NoError(t, err)

	reg.RecordMount("b", "/data")
	reg.RecordMount("a", "/data/x")
	reg.RecordMount("a", "/data")
	reg.RecordMount("a", "/data")

	assert.Equal(t, []Mount{
		{Host: "a", Directory: "/data"},
		{Host: "a", Directory: "/data/x"},
		{Host: "b", Directory: "/data"},
	}, reg.ListMounts())

	assert.False(t, reg.RemoveMount("c", "/data"))
	assert.True(t, reg.RemoveMount("b", "/data"))
	assert.Equal(t, 2, reg.RemoveAllMounts("a"))
	assert.Empty(t, reg.ListMounts())
}
