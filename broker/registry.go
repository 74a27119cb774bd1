// Package broker provides the Factory registry transport plugins register
// themselves into, so applications select a transport by name without
// importing its package directly.
package broker

import (
	"fmt"
	"sync"

	"github.com/pelorus-dev/pelorus/config"
	"github.com/pelorus-dev/pelorus/core"
)

// Factory builds a core.Broker from a validated config.Config.
type Factory func(cfg config.Config) (core.Broker, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register adds a named broker factory. Transport plugins call this from
// their package's init().
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[name] = factory
}

// Create instantiates a broker by name using the registered factory, after
// validating cfg.
func Create(name string, cfg config.Config) (core.Broker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	mu.RLock()
	f, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("pelorus: unknown broker %q", name)
	}
	return f(cfg)
}
