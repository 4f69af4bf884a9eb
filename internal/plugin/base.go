package plugin

import (
	"context"
	"sync"

	"github.com/omniplat/sync-core/internal/core"
)

// Base carries the state and behavior shared by every adapter: metadata
// accessors, config validation against required keys, and initialization
// bookkeeping. Concrete plugins embed it and implement the sync methods.
type Base struct {
	meta Metadata
	deps Deps

	mu          sync.RWMutex
	config      *core.IntegrationConfig
	initialized bool
}

// NewBase builds the shared adapter state from static metadata.
func NewBase(meta Metadata, deps Deps) Base {
	return Base{meta: meta, deps: deps}
}

// Metadata returns the static plugin descriptor.
func (b *Base) Metadata() *Metadata { return &b.meta }

// Deps returns the injected collaborator handles.
func (b *Base) Deps() Deps { return b.deps }

// ValidateConfig checks every required key is present and non-empty.
func (b *Base) ValidateConfig(config map[string]any) bool {
	for _, key := range b.meta.RequiredConfig {
		v, ok := config[key]
		if !ok || v == nil {
			return false
		}
		if s, isString := v.(string); isString && s == "" {
			return false
		}
	}
	return true
}

// Initialize records the integration config and marks the instance ready.
// Plugins with setup work of their own wrap this.
func (b *Base) Initialize(ctx context.Context, config *core.IntegrationConfig) error {
	if !b.ValidateConfig(config.Config) {
		return core.Errorf(core.CodeSyncError,
			"invalid %s config: missing required keys %v", b.meta.Name, b.meta.RequiredConfig)
	}
	b.mu.Lock()
	b.config = config
	b.initialized = true
	b.mu.Unlock()
	return nil
}

// Config returns the integration config set at Initialize time.
func (b *Base) Config() *core.IntegrationConfig {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.config
}

// Initialized reports whether Initialize has run.
func (b *Base) Initialized() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.initialized
}

// ConfigString fetches a string value from the provider config, "" when
// absent or not a string.
func (b *Base) ConfigString(key string) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.config == nil {
		return ""
	}
	s, _ := b.config.Config[key].(string)
	return s
}

// SupportsEntity reports whether the plugin handles the entity kind.
func (b *Base) SupportsEntity(entity core.EntityType) bool {
	return b.meta.Supports(entity)
}

// SupportedEntities returns the entity kinds the plugin handles.
func (b *Base) SupportedEntities() []core.EntityType {
	out := make([]core.EntityType, len(b.meta.SupportedEntities))
	copy(out, b.meta.SupportedEntities)
	return out
}

// HealthCheck reports readiness; plugins with a live API override this to
// probe the external system.
func (b *Base) HealthCheck(ctx context.Context) bool {
	return b.Initialized()
}
