package config

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
)

var (
	globalConfig *Config
	configMutex  sync.RWMutex
)

// GetConfig returns the process-wide configuration, or nil before
// SetConfig was called.
func GetConfig() *Config {
	configMutex.RLock()
	defer configMutex.RUnlock()
	return globalConfig
}

// SetConfig replaces the process-wide configuration. Commands call it
// after applying flag overrides.
func SetConfig(cfg *Config) {
	configMutex.Lock()
	defer configMutex.Unlock()
	globalConfig = cfg
}

// RestartRequiredError reports sections that changed on reload but are
// only read at startup.
type RestartRequiredError struct {
	Sections []string
}

func (e *RestartRequiredError) Error() string {
	return fmt.Sprintf("changes to %s require a restart", strings.Join(e.Sections, ", "))
}

// Reload reads path again, applies overrides in order and swaps the
// process-wide configuration. Only the log level can change at runtime;
// a file that changes anything else is rejected with
// *RestartRequiredError and the current configuration stays.
func Reload(path string, overrides ...func(*Config)) (*Config, error) {
	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		return nil, fmt.Errorf("failed to reload configuration: %w", err)
	}
	for _, o := range overrides {
		o(cfg)
	}

	configMutex.Lock()
	defer configMutex.Unlock()

	if globalConfig != nil {
		if changed := restartSections(globalConfig, cfg); len(changed) > 0 {
			return nil, &RestartRequiredError{Sections: changed}
		}
	}
	globalConfig = cfg
	return cfg, nil
}

// restartSections lists the yaml names of the sections that differ between
// old and updated, ignoring the log level.
func restartSections(old, updated *Config) []string {
	a, b := *old, *updated
	a.Telemetry.Logging.Level = ""
	b.Telemetry.Logging.Level = ""

	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	var changed []string
	for i := 0; i < va.NumField(); i++ {
		if reflect.DeepEqual(va.Field(i).Interface(), vb.Field(i).Interface()) {
			continue
		}
		name, _, _ := strings.Cut(va.Type().Field(i).Tag.Get("yaml"), ",")
		changed = append(changed, name)
	}
	return changed
}
