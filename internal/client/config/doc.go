// Package config loads runtime configuration for the medscribe CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected via -c, -config or $MEDSCRIBE_CONFIG.
//  3. MEDSCRIBE_* environment variables.
//  4. Command-line flags, which override everything else.
//
// Supported flags
//
//	-a string   API base URL
//	-t int      request timeout (seconds)
//	-s string   local state database path
//	-l string   log level
//	-m string   metrics listen address
//	-i int      health check interval (seconds)
//
// # JSON schema
//
//	{
//	  "api_base_url": "http://localhost:8000",
//	  "request_timeout": "15s",
//	  "state_path": "medscribe.db",
//	  "log_level": "info",
//	  "metrics_addr": ":9464",
//	  "health_check_interval": "5s",
//	  "rate_limit": 10,
//	  "rate_burst": 5
//	}
package config
