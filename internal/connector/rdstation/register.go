package rdstation

import "github.com/omniplat/sync-core/internal/plugin"

// init registers the RD Station factory with the global plugin set.
func init() {
	plugin.Register("rdstation", New)
}
