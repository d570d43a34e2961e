package core

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// The registry holds every module linked into the binary. Each module
// package adds itself from init(); config.Resolve, "insightd version" and
// the init wizard read it.
var (
	registryMu sync.RWMutex
	registry   = make(map[string]ModuleInfo)
)

// RegisterModule adds a module under its ID, e.g. "store.sqlite" or
// "scheduler.cron". An empty ID, a missing constructor or a second
// registration of the same ID panics.
func RegisterModule(instance Module) {
	info := instance.ModuleInfo()
	switch {
	case info.ID == "":
		panic(fmt.Sprintf("core: %T registers an empty module ID", instance))
	case info.New == nil:
		panic(fmt.Sprintf("core: module %s has no constructor", info.ID))
	}

	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[string(info.ID)]; dup {
		panic(fmt.Sprintf("core: module %s registered twice", info.ID))
	}
	registry[string(info.ID)] = info
}

// GetModule looks up a compiled module by ID.
func GetModule(id string) (ModuleInfo, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	info, ok := registry[id]
	return info, ok
}

// GetModules lists every compiled module, ordered by ID.
func GetModules() []ModuleInfo {
	return collect(func(string) bool { return true })
}

// GetModulesByNamespace lists the compiled modules whose ID starts with
// namespace and a dot: "provider" yields provider.gemini and
// provider.openai, never a module named "provider" alone.
func GetModulesByNamespace(namespace string) []ModuleInfo {
	return collect(func(id string) bool {
		rest, ok := strings.CutPrefix(id, namespace+".")
		return ok && rest != ""
	})
}

// collect returns the registered modules whose ID satisfies keep, ordered
// by ID.
func collect(keep func(id string) bool) []ModuleInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()

	out := make([]ModuleInfo, 0, len(registry))
	for id, info := range registry {
		if keep(id) {
			out = append(out, info)
		}
	}
	slices.SortFunc(out, func(a, b ModuleInfo) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// resetRegistry empties the registry between tests.
func resetRegistry() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string]ModuleInfo)
}
