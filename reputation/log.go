package reputation

import "github.com/btcsuite/btclog"

// log is the package-wide logger, disabled by default until UseLogger is
// called, following the teacher's per-subsystem btclog convention.
var log = btclog.Disabled

// UseLogger sets the subsystem logger used by this package.
func UseLogger(logger btclog.Logger) {
	log = logger
}
