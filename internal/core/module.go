// Package core provides the module system foundation for insightd.
package core

// ModuleID is a dot-namespaced module identifier (e.g. "store.sqlite").
type ModuleID string

// ModuleInfo describes a registered module.
type ModuleInfo struct {
	// ID is the unique module identifier used in configuration.
	ID ModuleID

	// New returns a fresh, unconfigured instance of the module.
	New func() Module
}

// Module is the interface every module implements. Optional behaviour is
// expressed through the lifecycle interfaces (Configurable, Provisioner,
// Validator, Starter, Stopper, Reloader).
type Module interface {
	ModuleInfo() ModuleInfo
}
