// Package registry loads and validates the verification backend roster.
// The roster is read once at startup and is immutable afterwards; it is
// safe to share across concurrent requests.
package registry

import (
	"net/url"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Backend describes one identity-verification backend.
type Backend struct {
	Name        string  `yaml:"name" json:"name"`
	EndpointURL string  `yaml:"endpoint" json:"endpoint"`
	Threshold   float64 `yaml:"threshold" json:"threshold"`
	Active      bool    `yaml:"active" json:"active"`
}

// Registry holds the ordered backend roster.
type Registry struct {
	backends []Backend
}

// fileBackend mirrors Backend for YAML decoding; Active and Threshold are
// pointers so omitted fields get defaults instead of zero values.
type fileBackend struct {
	Name      string   `yaml:"name"`
	Endpoint  string   `yaml:"endpoint"`
	Threshold *float64 `yaml:"threshold"`
	Active    *bool    `yaml:"active"`
}

// DefaultThreshold applies when a roster entry omits its threshold.
const DefaultThreshold = 0.75

// Load reads the roster from a YAML file. Any validation failure is a
// startup error; the service must not come up with a broken roster.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "registry: read roster %s", path)
	}

	var wrapper struct {
		Backends []fileBackend `yaml:"backends"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "registry: parse roster")
	}

	return New(materialize(wrapper.Backends))
}

// New validates an ordered backend list and wraps it in a Registry.
func New(backends []Backend) (*Registry, error) {
	if len(backends) == 0 {
		return nil, eris.New("registry: empty roster")
	}

	seen := make(map[string]struct{}, len(backends))
	for i, b := range backends {
		if b.Name == "" {
			return nil, eris.Errorf("registry: backend %d has no name", i)
		}
		if _, dup := seen[b.Name]; dup {
			return nil, eris.Errorf("registry: duplicate backend %q", b.Name)
		}
		seen[b.Name] = struct{}{}

		if b.EndpointURL == "" {
			return nil, eris.Errorf("registry: backend %q has no endpoint", b.Name)
		}
		u, err := url.Parse(b.EndpointURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, eris.Errorf("registry: backend %q endpoint %q is not an absolute URL", b.Name, b.EndpointURL)
		}
		if b.Threshold < 0 || b.Threshold > 1 {
			return nil, eris.Errorf("registry: backend %q threshold %v outside [0,1]", b.Name, b.Threshold)
		}
	}

	out := make([]Backend, len(backends))
	copy(out, backends)
	return &Registry{backends: out}, nil
}

func materialize(in []fileBackend) []Backend {
	out := make([]Backend, len(in))
	for i, fb := range in {
		b := Backend{
			Name:        fb.Name,
			EndpointURL: fb.Endpoint,
			Threshold:   DefaultThreshold,
			Active:      true,
		}
		if fb.Threshold != nil {
			b.Threshold = *fb.Threshold
		}
		if fb.Active != nil {
			b.Active = *fb.Active
		}
		out[i] = b
	}
	return out
}

// All returns a copy of the full roster in file order.
func (r *Registry) All() []Backend {
	out := make([]Backend, len(r.backends))
	copy(out, r.backends)
	return out
}

// Active returns the active backends, preserving roster order.
func (r *Registry) Active() []Backend {
	var out []Backend
	for _, b := range r.backends {
		if b.Active {
			out = append(out, b)
		}
	}
	return out
}

// Len reports the total roster size, active or not.
func (r *Registry) Len() int {
	return len(r.backends)
}
