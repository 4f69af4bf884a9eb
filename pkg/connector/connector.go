// Package connector registers every built-in sync plugin.
package connector

import (
	// Import all plugins to register their factories.
	_ "github.com/omniplat/sync-core/internal/connector/confirm8"
	_ "github.com/omniplat/sync-core/internal/connector/rdstation"
)

// All imports trigger init() functions that register plugin factories.
