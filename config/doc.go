// Package config loads the processorders configuration.
//
// Configuration is layered: built-in defaults, then each file passed to
// Loader.AddLayer in order, then PROCESSORDERS_* environment variables.
// Files may be JSON or YAML; a later layer only overrides the keys it sets.
//
//	loader := config.NewLoader()
//	loader.AddLayer("configs/base.yaml")
//	loader.AddLayer("configs/prod.yaml")
//	loader.EnableValidation(true)
//	cfg, err := loader.Load()
//
// Durations are written as Go duration strings ("30s", "2m") or whole
// days ("14d").
package config
