package swarm

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"
)

// ParamType enumerates the scalar/structured types a parameter may carry.
type ParamType string

const (
	ParamString ParamType = "string"
	ParamNumber ParamType = "number"
	ParamBool   ParamType = "bool"
	ParamObject ParamType = "object"
	ParamArray  ParamType = "array"
)

// ParamSpec describes one capability parameter.
type ParamSpec struct {
	Type     ParamType
	Required bool
}

// ParamSchema is the closed parameter contract of a capability. Validation
// is a first-class step: unknown keys and type mismatches are rejected
// before any handler sees the parameters.
type ParamSchema map[string]ParamSpec

// Validate checks params against the schema.
func (s ParamSchema) Validate(params map[string]any) error {
	for name, spec := range s {
		v, ok := params[name]
		if !ok {
			if spec.Required {
				return fmt.Errorf("missing required parameter %q", name)
			}
			continue
		}
		if !spec.Type.matches(v) {
			return fmt.Errorf("parameter %q: expected %s, got %T", name, spec.Type, v)
		}
	}
	for name := range params {
		if _, ok := s[name]; !ok {
			return fmt.Errorf("unknown parameter %q", name)
		}
	}
	return nil
}

func (t ParamType) matches(v any) bool {
	switch t {
	case ParamString:
		_, ok := v.(string)
		return ok
	case ParamNumber:
		switch v.(type) {
		case int, int32, int64, float32, float64:
			return true
		}
		return false
	case ParamBool:
		_, ok := v.(bool)
		return ok
	case ParamObject:
		_, ok := v.(map[string]any)
		return ok
	case ParamArray:
		switch v.(type) {
		case []any, []string:
			return true
		}
		return false
	}
	return false
}

// Handler executes an in-process capability. Panics are recovered at the
// executor boundary and converted to HandlerFault.
type Handler func(ctx context.Context, params map[string]any) (map[string]any, error)

// Capability is one invocable operation. Immutable once registered within a
// process lifetime; a new version is a new entry, never an in-place edit.
type Capability struct {
	Name    string
	Version *semver.Version
	Schema  ParamSchema

	// Exactly one of Handler (in-process) or SkillAgentID (cross-agent) is set.
	Handler      Handler
	SkillAgentID string
	Command      string   // skill command name for cross-agent capabilities
	ArgOrder     []string // parameter names flattened (in order) into command args

	// Cost feeds the resourceCost term of the fitness function.
	Cost float64

	// Probe is a schema-valid canned invocation used as the shadow
	// workload when evaluating mutation trials.
	Probe map[string]any
}

// InProcess reports whether this capability dispatches synchronously.
func (c *Capability) InProcess() bool {
	return c.Handler != nil
}

// Registry is the static capability catalog: a closed tagged-variant set
// resolved by name lookup at invocation time.
type Registry struct {
	mu   sync.RWMutex
	caps map[string][]*Capability // name -> entries sorted ascending by version
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{caps: make(map[string][]*Capability)}
}

// Register adds a capability entry. Duplicate name+version pairs fail with
// ErrDuplicateCapability.
func (r *Registry) Register(cap *Capability) error {
	if cap.Name == "" {
		return fmt.Errorf("capability name is empty")
	}
	if cap.Version == nil {
		return fmt.Errorf("capability %q has no version", cap.Name)
	}
	if cap.Handler == nil && cap.SkillAgentID == "" {
		return fmt.Errorf("capability %q has neither handler nor skill agent", cap.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.caps[cap.Name]
	for _, existing := range entries {
		if existing.Version.Equal(cap.Version) {
			return fmt.Errorf("%w: %s@%s", ErrDuplicateCapability, cap.Name, cap.Version)
		}
	}

	entries = append(entries, cap)
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Version.LessThan(entries[j].Version)
	})
	r.caps[cap.Name] = entries
	return nil
}

// MustRegister registers or panics. For static catalogs built at startup.
func (r *Registry) MustRegister(cap *Capability) {
	if err := r.Register(cap); err != nil {
		panic(err)
	}
}

// Resolve returns the highest registered version of a capability.
func (r *Registry) Resolve(name string) (*Capability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := r.caps[name]
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCapability, name)
	}
	return entries[len(entries)-1], nil
}

// ResolveVersion returns an exact name+version entry.
func (r *Registry) ResolveVersion(name, version string) (*Capability, error) {
	want, err := semver.NewVersion(version)
	if err != nil {
		return nil, fmt.Errorf("invalid version %q: %w", version, err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, cap := range r.caps[name] {
		if cap.Version.Equal(want) {
			return cap, nil
		}
	}
	return nil, fmt.Errorf("%w: %s@%s", ErrUnknownCapability, name, version)
}

// Names returns all registered capability names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.caps))
	for name := range r.caps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether any version of a capability is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.caps[name]) > 0
}
