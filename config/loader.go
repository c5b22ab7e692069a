package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PROCESSORDERS"

// Loader merges configuration layers.
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a loader with no layers and validation off.
func NewLoader() *Loader {
	return &Loader{
		envPrefix: EnvPrefix,
		lookupEnv: os.LookupEnv,
	}
}

// AddLayer appends a file layer. Later layers win.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation turns Validate on or off for Load.
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads defaults plus a single file.
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges defaults, every layer and the environment.
func (l *Loader) Load() (*Config, error) {
	base, err := toMap(Default())
	if err != nil {
		return nil, err
	}

	for _, path := range l.layers {
		layer, err := l.loadRaw(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		base = deepMergeMaps(base, layer)
	}

	cfg, err := fromMap(base)
	if err != nil {
		return nil, err
	}
	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// loadRaw reads path into a generic map. YAML is decoded and then handled
// exactly like JSON.
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if isYAML(path) {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid YAML: %w", err)
		}
		return raw, nil
	}

	if err := validateJSONDepth(data); err != nil {
		return nil, fmt.Errorf("invalid JSON structure: %w", err)
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return raw, nil
}

func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func fromMap(m map[string]any) (*Config, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("config layer not representable as JSON: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// deepMergeMaps merges override into base. Nested maps merge key by key;
// anything else in override replaces the base value. Nil values are
// skipped.
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

func (l *Loader) env(name string) (string, bool, error) {
	key := l.envPrefix + "_" + name
	val, ok := l.lookupEnv(key)
	if !ok || val == "" {
		return "", false, nil
	}
	if err := validateEnvVar(key, val); err != nil {
		return "", false, err
	}
	return val, true, nil
}

// applyEnvOverrides applies PROCESSORDERS_* variables.
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"HTTP_ADDR":       &cfg.Service.HTTPAddr,
		"NATS_USERNAME":   &cfg.NATS.Username,
		"NATS_PASSWORD":   &cfg.NATS.Password,
		"NATS_TOKEN":      &cfg.NATS.Token,
		"MERGE_URL":       &cfg.Merge.URL,
		"STATE_BACKEND":   &cfg.State.Backend,
		"TRIGGER":         &cfg.Coordinator.Trigger,
		"RESULTS_BACKEND": &cfg.Results.Backend,
		"SQLITE_PATH":     &cfg.Results.SQLitePath,
		"SOURCES_BACKEND": &cfg.Sources.Backend,
		"METRICS_ADDR":    &cfg.Metrics.Addr,
	}
	for name, dst := range strs {
		val, ok, err := l.env(name)
		if err != nil {
			return err
		}
		if ok {
			*dst = val
		}
	}

	if val, ok, err := l.env("NATS_URLS"); err != nil {
		return err
	} else if ok {
		cfg.NATS.URLs = strings.Split(val, ",")
	}

	if val, ok, err := l.env("WORKERS"); err != nil {
		return err
	} else if ok {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%s_WORKERS: %w", l.envPrefix, err)
		}
		cfg.Coordinator.Workers = n
	}

	if val, ok, err := l.env("RETENTION"); err != nil {
		return err
	} else if ok {
		d, err := ParseDuration(val)
		if err != nil {
			return fmt.Errorf("%s_RETENTION: %w", l.envPrefix, err)
		}
		cfg.Coordinator.Retention = Duration(d)
	}
	return nil
}
