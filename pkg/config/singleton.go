package config

import (
	"fmt"
	"sync"
)

var (
	globalConfig *Config
	globalPath   string
	configMutex  sync.RWMutex
	initOnce     sync.Once

	subscribers   []func(*Config)
	subscribersMu sync.Mutex
)

// Initialize loads configuration from the specified path with environment
// variable overrides and stores it as the global configuration.
// Subsequent calls are ignored (uses sync.Once internally).
func Initialize(path string) error {
	var initErr error

	initOnce.Do(func() {
		cfg, err := LoadConfigWithEnvOverrides(path)
		if err != nil {
			initErr = err
			return
		}

		configMutex.Lock()
		globalConfig = cfg
		globalPath = path
		configMutex.Unlock()
	})

	return initErr
}

// GetConfig returns the global configuration instance, or nil before
// Initialize has succeeded.
func GetConfig() *Config {
	configMutex.RLock()
	defer configMutex.RUnlock()
	return globalConfig
}

// SetConfig sets the global configuration instance. Intended for tests.
func SetConfig(cfg *Config) {
	configMutex.Lock()
	defer configMutex.Unlock()
	globalConfig = cfg
}

// Subscribe registers fn to be called with the new configuration after each
// successful ReloadConfig.
func Subscribe(fn func(*Config)) {
	subscribersMu.Lock()
	defer subscribersMu.Unlock()
	subscribers = append(subscribers, fn)
}

// ReloadConfig reloads the configuration from path (or from the path given to
// Initialize when path is empty). On failure the existing configuration stays
// in place and subscribers are not called.
func ReloadConfig(path string) (*Config, error) {
	if path == "" {
		configMutex.RLock()
		path = globalPath
		configMutex.RUnlock()
	}

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		return nil, fmt.Errorf("failed to reload configuration: %w", err)
	}

	configMutex.Lock()
	globalConfig = cfg
	configMutex.Unlock()

	subscribersMu.Lock()
	fns := append([]func(*Config){}, subscribers...)
	subscribersMu.Unlock()

	for _, fn := range fns {
		fn(cfg)
	}

	return cfg, nil
}

// MustGetConfig returns the global configuration instance.
// It panics if the configuration has not been initialized.
func MustGetConfig() *Config {
	cfg := GetConfig()
	if cfg == nil {
		panic("configuration not initialized: call Initialize first")
	}
	return cfg
}

// resetForTesting clears the global state.
func resetForTesting() {
	configMutex.Lock()
	globalConfig = nil
	globalPath = ""
	initOnce = sync.Once{}
	configMutex.Unlock()

	subscribersMu.Lock()
	subscribers = nil
	subscribersMu.Unlock()
}
