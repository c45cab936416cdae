// Package logging provides a subsystem-tagged structured logging facade over
// log/slog, used by every package in this module (registry, dispatcher,
// component manager, handlers, bundlectl) for consistent diagnostics.
//
// # Log levels
//
//   - Debug: detailed tracing of registry/dispatcher/handler internals
//   - Info: lifecycle transitions (bundle started, instance validated, ...)
//   - Warn: recoverable anomalies (hook error swallowed, listener failure)
//   - Error: operations that returned an error to their caller
//
// Every call is tagged with the subsystem that produced it, e.g.:
//
//	logging.Info("Registry", "registered service %d (specs=%v)", id, specs)
//	logging.Error("Dispatcher", err, "listener callback panicked")
package logging
