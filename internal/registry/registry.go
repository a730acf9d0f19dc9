package registry

import (
	"fmt"
	"strings"
	"time"

	"github.com/vidforge/devsup/internal/logger"
)

// Default timings for the stop sequence. The grace period is how long a
// service gets to react to the graceful signal before escalation; the settle
// period is the wait after a forced signal before the final re-check.
const (
	DefaultGracePeriod  = 2 * time.Second
	DefaultSettlePeriod = 1 * time.Second
	DefaultProbeTimeout = 3 * time.Second
)

// ServiceSpec is the static descriptor for one managed service. Specs are
// defined at configuration time and never mutated during a run; everything
// dynamic lives in the OS process and socket tables.
type ServiceSpec struct {
	Name         string        `toml:"name" mapstructure:"name"`
	Patterns     []string      `toml:"patterns" mapstructure:"patterns"` // substrings matched against process command lines
	Ports        []int         `toml:"ports" mapstructure:"ports"`       // primary first, then alternates
	HealthURL    string        `toml:"health_url" mapstructure:"health_url"`
	Command      string        `toml:"command" mapstructure:"command"` // launch command (shell-style)
	WorkDir      string        `toml:"workdir" mapstructure:"workdir"`
	Env          []string      `toml:"env" mapstructure:"env"`
	AccessURL    string        `toml:"access_url" mapstructure:"access_url"` // printed when the service comes up
	Optional     bool          `toml:"optional" mapstructure:"optional"`     // health failure degrades to a warning
	GracePeriod  time.Duration `toml:"grace_period" mapstructure:"grace_period"`
	SettlePeriod time.Duration `toml:"settle_period" mapstructure:"settle_period"`
	ProbeTimeout time.Duration `toml:"probe_timeout" mapstructure:"probe_timeout"`
	Log          logger.Config `toml:"log" mapstructure:"log"`
}

// PrimaryPort returns the first registered port, or 0 when none exist.
func (s *ServiceSpec) PrimaryPort() int {
	if len(s.Ports) == 0 {
		return 0
	}
	return s.Ports[0]
}

// AlternatePort returns the first fallback port, or 0 when the spec has no
// alternative to degrade to.
func (s *ServiceSpec) AlternatePort() int {
	if len(s.Ports) < 2 {
		return 0
	}
	return s.Ports[1]
}

// Grace returns the configured grace period or the default.
func (s *ServiceSpec) Grace() time.Duration {
	if s.GracePeriod > 0 {
		return s.GracePeriod
	}
	return DefaultGracePeriod
}

// Settle returns the configured settle period or the default.
func (s *ServiceSpec) Settle() time.Duration {
	if s.SettlePeriod > 0 {
		return s.SettlePeriod
	}
	return DefaultSettlePeriod
}

// Timeout returns the configured probe timeout or the default.
func (s *ServiceSpec) Timeout() time.Duration {
	if s.ProbeTimeout > 0 {
		return s.ProbeTimeout
	}
	return DefaultProbeTimeout
}

// Validate checks the minimum a spec needs to be supervisable.
func (s *ServiceSpec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("service name is required")
	}
	if len(s.Patterns) == 0 {
		return fmt.Errorf("service %q requires at least one process pattern", s.Name)
	}
	for i, p := range s.Patterns {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("service %q: pattern %d is empty", s.Name, i)
		}
	}
	for _, port := range s.Ports {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("service %q: invalid port %d", s.Name, port)
		}
	}
	return nil
}

// Registry supplies the static list of services the supervisor operates on.
type Registry struct {
	services []ServiceSpec
}

// New builds a registry from specs, validating each. Order is preserved:
// the supervisor acts on services in registration order.
func New(specs []ServiceSpec) (*Registry, error) {
	seen := make(map[string]struct{}, len(specs))
	for i := range specs {
		if err := specs[i].Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[specs[i].Name]; dup {
			return nil, fmt.Errorf("duplicate service name %q", specs[i].Name)
		}
		seen[specs[i].Name] = struct{}{}
	}
	return &Registry{services: append([]ServiceSpec(nil), specs...)}, nil
}

// Services returns the registered specs in order.
func (r *Registry) Services() []ServiceSpec {
	return append([]ServiceSpec(nil), r.services...)
}

// Find returns the spec with the given name, matched case-insensitively.
func (r *Registry) Find(name string) (ServiceSpec, bool) {
	for _, s := range r.services {
		if strings.EqualFold(s.Name, name) {
			return s, true
		}
	}
	return ServiceSpec{}, false
}

// Default returns the built-in registry for the content-production stack:
// the Flask backend (mandatory) and the Vite frontend (optional). Used when
// no config file is supplied.
func Default() *Registry {
	r, err := New([]ServiceSpec{
		{
			Name:      "backend",
			Patterns:  []string{"python.*main.py", "flask"},
			Ports:     []int{5000, 5001},
			HealthURL: "http://localhost:5000/health",
			Command:   "python src/main.py",
			WorkDir:   "backend",
			AccessURL: "http://localhost:5000",
		},
		{
			Name:      "frontend",
			Patterns:  []string{"vite", "npm.*run.*dev"},
			Ports:     []int{5173, 3000},
			Command:   "npm run dev",
			WorkDir:   "frontend",
			AccessURL: "http://localhost:5173",
			Optional:  true,
		},
	})
	if err != nil {
		// The built-in specs are constants; a validation failure here is a bug.
		panic(err)
	}
	return r
}
