// Package config provides configuration management for aigate.
//
// Configuration is loaded from a YAML file, overridden by environment
// variables and validated before use.
//
// # Configuration Loading
//
//	cfg, err := config.LoadConfig("aigate.yaml")              // file only
//	cfg, err := config.LoadConfigWithEnvOverrides("aigate.yaml") // file + env
//
// An empty path yields the built-in defaults, which run an in-process
// service against SQLite files under data/.
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention AIGATE_SECTION_FIELD:
//
//	AIGATE_SERVER_LISTEN_ADDRESS=0.0.0.0:8085
//	AIGATE_SERVER_SERVICE_TOKEN=...
//	AIGATE_RATE_LIMIT_MAX_REQUESTS=20
//	AIGATE_RATE_LIMIT_WINDOW=1m
//	AIGATE_QUOTA_FAILURE_POLICY=open
//	AIGATE_STORAGE_BACKEND=postgres
//	AIGATE_STORAGE_POSTGRES_DSN=postgres://...
//
// A variable that does not parse fails loading instead of being ignored.
//
// # Global Configuration
//
// Initialize stores the loaded configuration for the process. ReloadConfig
// replaces it and calls every function registered with Subscribe; the
// Watcher triggers ReloadConfig when the file changes on disk. Only the rate
// limit policy and the log level are applied live; other sections need a
// restart.
//
// # Example Configuration
//
//	server:
//	  listen_address: "0.0.0.0:8085"
//	  service_token: "change-me"
//	rate_limit:
//	  max_requests: 10
//	  window: 60s
//	quota:
//	  failure_policy: closed
//	  timezone: Europe/Paris
//	storage:
//	  backend: postgres
//	  postgres:
//	    dsn: "postgres://aigate@db:5432/garage?sslmode=require"
//	usage_log:
//	  retention:
//	    days: 90
//	    prune_schedule: "0 3 * * *"
package config
