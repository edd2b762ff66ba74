package sorting

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/banshee-data/spikesort/internal/recording"
)

// Backend runs one family of sorters and describes their parameters.
type Backend interface {
	DefaultParams(ctx context.Context, sorter string) (map[string]any, error)
	ParamDescriptions(ctx context.Context, sorter string) (map[string]string, error)
	Run(ctx context.Context, req Request) (*Sorting, error)
}

// Request is one sorter invocation. OutputFolder is owned by the call.
type Request struct {
	Sorter       string
	Params       map[string]any
	Recording    recording.Stream
	OutputFolder string
}

// BackendConfig is the sorter selected for a run with its parameters.
type BackendConfig struct {
	Name              string
	Params            map[string]any
	ParamDescriptions map[string]string
}

// NewBackendConfig asks backend for the defaults and descriptions of the
// named sorter.
func NewBackendConfig(ctx context.Context, backend Backend, name string) (*BackendConfig, error) {
	if name == "" {
		return nil, fmt.Errorf("sorter name is required")
	}
	params, err := backend.DefaultParams(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("default params for %s: %w", name, err)
	}
	desc, err := backend.ParamDescriptions(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("param descriptions for %s: %w", name, err)
	}
	if params == nil {
		params = map[string]any{}
	}
	if desc == nil {
		desc = map[string]string{}
	}
	return &BackendConfig{Name: name, Params: params, ParamDescriptions: desc}, nil
}

// WithOverrides returns a copy whose params are updated from overrides.
func (c *BackendConfig) WithOverrides(overrides map[string]any) *BackendConfig {
	out := &BackendConfig{
		Name:              c.Name,
		Params:            make(map[string]any, len(c.Params)+len(overrides)),
		ParamDescriptions: make(map[string]string, len(c.ParamDescriptions)),
	}
	for k, v := range c.Params {
		out.Params[k] = v
	}
	for k, v := range overrides {
		out.Params[k] = v
	}
	for k, v := range c.ParamDescriptions {
		out.ParamDescriptions[k] = v
	}
	return out
}

// ParamNames lists the parameter names, sorted.
func (c *BackendConfig) ParamNames() []string {
	names := make([]string, 0, len(c.Params))
	for k := range c.Params {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (c *BackendConfig) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sorter(name='%s'", c.Name)
	for _, k := range c.ParamNames() {
		v, _ := json.Marshal(c.Params[k])
		fmt.Fprintf(&b, ", %s=%s", k, v)
	}
	b.WriteString(")")
	return b.String()
}

// Registry routes sorter names to backends. Names without a dedicated
// backend go to the fallback.
type Registry struct {
	backends map[string]Backend
	fallback Backend
}

// NewRegistry creates a Registry with fallback for unknown names.
func NewRegistry(fallback Backend) *Registry {
	return &Registry{backends: map[string]Backend{}, fallback: fallback}
}

// Register binds name to backend.
func (r *Registry) Register(name string, backend Backend) {
	r.backends[name] = backend
}

// Names lists the explicitly registered sorters.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.backends))
	for k := range r.backends {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) lookup(name string) (Backend, error) {
	if b, ok := r.backends[name]; ok {
		return b, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("unknown sorter %q", name)
}

// DefaultParams implements Backend.
func (r *Registry) DefaultParams(ctx context.Context, sorter string) (map[string]any, error) {
	b, err := r.lookup(sorter)
	if err != nil {
		return nil, err
	}
	return b.DefaultParams(ctx, sorter)
}

// ParamDescriptions implements Backend.
func (r *Registry) ParamDescriptions(ctx context.Context, sorter string) (map[string]string, error) {
	b, err := r.lookup(sorter)
	if err != nil {
		return nil, err
	}
	return b.ParamDescriptions(ctx, sorter)
}

// Run implements Backend.
func (r *Registry) Run(ctx context.Context, req Request) (*Sorting, error) {
	b, err := r.lookup(req.Sorter)
	if err != nil {
		return nil, err
	}
	return b.Run(ctx, req)
}
