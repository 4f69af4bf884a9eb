package plugin

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/omniplat/sync-core/internal/core"
)

// Registry holds plugin factories indexed by plugin name and the live,
// initialized per-company instances created from them.
type Registry struct {
	deps      Deps
	logger    *logrus.Logger
	factories map[string]Factory
	instances map[instanceKey]Plugin
	mu        sync.RWMutex
}

type instanceKey struct {
	companyID string
	plugin    string
}

// NewRegistry creates an empty plugin registry.
func NewRegistry(deps Deps, logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Registry{
		deps:      deps,
		logger:    logger,
		factories: make(map[string]Factory),
		instances: make(map[instanceKey]Plugin),
	}
}

// Register adds a factory for the given plugin name.
// Panics if the name is already registered.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		panic(fmt.Sprintf("plugin factory already registered: %s", name))
	}
	r.factories[name] = factory
}

// Get returns the factory for the given plugin name.
func (r *Registry) Get(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[name]
	return factory, ok
}

// List returns all registered plugin names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}

// Describe returns the metadata of every registered plugin, from throwaway
// instances that are never initialized.
func (r *Registry) Describe() []*Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	metas := make([]*Metadata, 0, len(r.factories))
	for _, factory := range r.factories {
		metas = append(metas, factory(r.deps).Metadata())
	}
	return metas
}

// Supporting returns the names of registered plugins that handle the given
// entity kind.
func (r *Registry) Supporting(entity core.EntityType) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name, factory := range r.factories {
		if factory(r.deps).Metadata().Supports(entity) {
			names = append(names, name)
		}
	}
	return names
}

// CompanyInstances returns the plugin names with a live instance for the
// company.
func (r *Registry) CompanyInstances(companyID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for key := range r.instances {
		if key.companyID == companyID {
			names = append(names, key.plugin)
		}
	}
	return names
}

// Health runs HealthCheck across a company's live instances.
func (r *Registry) Health(ctx context.Context, companyID string) map[string]bool {
	r.mu.RLock()
	live := make(map[string]Plugin)
	for key, inst := range r.instances {
		if key.companyID == companyID {
			live[key.plugin] = inst
		}
	}
	r.mu.RUnlock()

	out := make(map[string]bool, len(live))
	for name, inst := range live {
		out[name] = inst.HealthCheck(ctx)
	}
	return out
}

// Enable creates and initializes an instance of the named plugin for the
// config's company, replacing any previous instance for that pair. The
// config must validate against the plugin's required keys.
func (r *Registry) Enable(ctx context.Context, name string, config *core.IntegrationConfig) (Plugin, error) {
	factory, ok := r.Get(name)
	if !ok {
		return nil, core.Errorf(core.CodePluginNotFound, "unknown plugin: %s", name)
	}

	inst := factory(r.deps)
	if !inst.ValidateConfig(config.Config) {
		return nil, core.Errorf(core.CodeSyncError,
			"invalid %s config: missing required keys %v", name, inst.Metadata().RequiredConfig)
	}
	if err := inst.Initialize(ctx, config); err != nil {
		return nil, fmt.Errorf("failed to initialize %s for company %s: %w", name, config.CompanyID, err)
	}

	r.mu.Lock()
	r.instances[instanceKey{config.CompanyID, name}] = inst
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"plugin":     name,
		"company_id": config.CompanyID,
	}).Info("plugin enabled")
	return inst, nil
}

// Disable drops the live instance of the named plugin for a company.
func (r *Registry) Disable(companyID, name string) {
	r.mu.Lock()
	delete(r.instances, instanceKey{companyID, name})
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"plugin":     name,
		"company_id": companyID,
	}).Info("plugin disabled")
}

// Instance returns the live initialized instance for (company, plugin).
func (r *Registry) Instance(companyID, name string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inst, ok := r.instances[instanceKey{companyID, name}]
	return inst, ok
}

// --- Default Global Registry ---

var (
	defaultMu        sync.Mutex
	defaultFactories = make(map[string]Factory)
)

// Register adds a factory to the global factory set. Connector packages call
// this from init; NewRegistryFromGlobal picks the set up at wiring time.
func Register(name string, factory Factory) {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if _, exists := defaultFactories[name]; exists {
		panic(fmt.Sprintf("plugin factory already registered: %s", name))
	}
	defaultFactories[name] = factory
}

// NewRegistryFromGlobal creates a registry pre-loaded with every factory
// registered via the package-level Register.
func NewRegistryFromGlobal(deps Deps, logger *logrus.Logger) *Registry {
	r := NewRegistry(deps, logger)
	defaultMu.Lock()
	defer defaultMu.Unlock()
	for name, factory := range defaultFactories {
		r.factories[name] = factory
	}
	return r
}
