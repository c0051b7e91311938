// Package fatal provides the one way design-law violations are allowed to
// surface in this module: a loud log line followed by an unrecoverable
// panic. Per spec, invariant violations inside the pool, planner, and
// state-machine framework are never part of the client-facing error
// taxonomy — they are bugs, not user errors.
package fatal

import "github.com/joeycumines/go-sqlited/internal/logging"

// Invariant logs msg at panic level (if log is non-nil) and then panics.
// Callers pass the component name so the panic message identifies which
// design law was broken.
func Invariant(log *logging.Logger, component, msg string) {
	if log != nil {
		log.Panic().Str("component", component).Log(msg)
		// Logger.Panic's Builder panics internally once Log is called; the
		// explicit panic below only matters if logging was disabled and the
		// builder degraded to a no-op (see logiface.Logger.Panic).
	}
	panic(component + ": " + msg)
}
