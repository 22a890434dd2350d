package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRoster(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roster.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeRoster(t, `
backends:
  - name: alice
    endpoint: http://alice.local/verify
    threshold: 0.8
  - name: bob
    endpoint: http://bob.local/verify
    active: false
  - name: carol
    endpoint: http://carol.local/verify
    threshold: 0.6
`)

	r, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 3, r.Len())

	all := r.All()
	assert.Equal(t, "alice", all[0].Name)
	assert.Equal(t, 0.8, all[0].Threshold)
	assert.True(t, all[0].Active, "active defaults to true")
	assert.False(t, all[1].Active)
	assert.Equal(t, DefaultThreshold, all[1].Threshold, "threshold defaults when omitted")
	assert.Equal(t, 0.6, all[2].Threshold)
}

func TestLoadThresholdDefault(t *testing.T) {
	path := writeRoster(t, `
backends:
  - name: alice
    endpoint: http://alice.local/verify
`)

	r, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultThreshold, r.All()[0].Threshold)
}

func TestActivePreservesOrder(t *testing.T) {
	r, err := New([]Backend{
		{Name: "c", EndpointURL: "http://c/verify", Threshold: 0.5, Active: true},
		{Name: "a", EndpointURL: "http://a/verify", Threshold: 0.5, Active: false},
		{Name: "b", EndpointURL: "http://b/verify", Threshold: 0.5, Active: true},
	})
	require.NoError(t, err)

	active := r.Active()
	require.Len(t, active, 2)
	assert.Equal(t, "c", active[0].Name)
	assert.Equal(t, "b", active[1].Name)
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name     string
		backends []Backend
	}{
		{"empty roster", nil},
		{"missing name", []Backend{{EndpointURL: "http://x/verify"}}},
		{"duplicate name", []Backend{
			{Name: "a", EndpointURL: "http://a/verify"},
			{Name: "a", EndpointURL: "http://b/verify"},
		}},
		{"missing endpoint", []Backend{{Name: "a"}}},
		{"relative endpoint", []Backend{{Name: "a", EndpointURL: "/verify"}}},
		{"threshold above one", []Backend{{Name: "a", EndpointURL: "http://a/verify", Threshold: 1.2}}},
		{"negative threshold", []Backend{{Name: "a", EndpointURL: "http://a/verify", Threshold: -0.1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.backends)
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestAllReturnsCopy(t *testing.T) {
	r, err := New([]Backend{{Name: "a", EndpointURL: "http://a/verify", Threshold: 0.5, Active: true}})
	require.NoError(t, err)

	all := r.All()
	all[0].Name = "mutated"
	assert.Equal(t, "a", r.All()[0].Name)
}
