package confirm8

import "github.com/omniplat/sync-core/internal/plugin"

// init registers the Confirm8 factory with the global plugin set.
func init() {
	plugin.Register("confirm8", New)
}
