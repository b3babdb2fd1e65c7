package engine

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/btcsuite/btcd/chaincfg"

	"channeld/chain"
)

// Deps carries everything a protocol-engine implementation needs from the
// orchestrator at construction time.
type Deps struct {
	Network  *chaincfg.Params
	Source   chain.BlockSource
	Wallet   chain.Wallet
	KeysSeed [32]byte
	Logger   *slog.Logger
	// ManagerSnapshot is the persisted engine state from a previous run,
	// nil on a fresh node.
	ManagerSnapshot []byte
	// Notify wakes the event dispatcher; implementations call it whenever
	// new pending events may exist.
	Notify func()
}

// Factory constructs a concrete engine and its chain monitor.
type Factory func(deps Deps) (Engine, Monitor, error)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Factory)
)

// Register makes an engine implementation available under the given name.
// It follows the database/sql driver convention: implementations register
// from an init function in the package that links them in.
func Register(name string, factory Factory) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if factory == nil {
		panic("engine: Register factory is nil")
	}
	if _, dup := drivers[name]; dup {
		panic("engine: Register called twice for driver " + name)
	}
	drivers[name] = factory
}

// Drivers lists the registered engine driver names.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open constructs the engine registered under name.
func Open(name string, deps Deps) (Engine, Monitor, error) {
	driversMu.RLock()
	factory, ok := drivers[name]
	driversMu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("engine: unknown driver %q (registered: %v)", name, Drivers())
	}
	return factory(deps)
}
