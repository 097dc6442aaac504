/*
Package config loads picture loader settings from YAML files and the environment.

# Precedence

	┌─────────────────────────────────────────────┐
	│          Command-line flags                 │ ← Highest Priority
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│        Environment Variables                │
	│           (PICTURELOADER_*)                 │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│         Configuration File (YAML)           │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│           Default Values                    │ ← Lowest Priority
	└─────────────────────────────────────────────┘

# Example

	global:
	  log_level: INFO
	  log_format: json
	  metrics_address: 127.0.0.1:9464

	memory_cache:
	  heap_budget: 512MB   # capacity = heap_budget / divisor
	  divisor: 8

	disk_cache:
	  enabled: true
	  directory: /var/cache/pictureloader/bitmap
	  max_size: 50MB
	  app_version: 1

	dispatcher:
	  core_workers: 0      # 0 = CPU count + 1
	  max_workers: 0       # 0 = 2 x CPU count + 1
	  keep_alive: 10s

	network:
	  timeouts:
	    connect: 15s
	    read: 10s
	  user_agent: pictureloader/1.0
	  io_buffer_size: 8KB

	s3:
	  enabled: false
	  region: us-east-1

# Usage

	cfg := config.NewDefault()
	if err := cfg.LoadFromFile(path); err != nil {
		return err
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

Validation failures are INVALID_CONFIG errors carrying the offending field in
their context; read and write failures are CONFIG_LOAD and CONFIG_SAVE.

Sizes use the forms accepted by utils.ParseBytes ("8KB", "50MB", "1.5GB").
*/
package config
