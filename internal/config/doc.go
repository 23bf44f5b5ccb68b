// Package config loads pgharness settings.
//
// Settings come from an optional YAML file; a missing file means defaults.
// Command-line flags are applied on top of the loaded values by the caller,
// then Validate checks the result.
//
//	log_level: info
//	proxy:
//	  path: ./bin/pgtwixt
//	  ready_timeout: 10s
//	postgres:
//	  bin_dir: /usr/lib/postgresql/16/bin
//	  location_format: dsn
//	metrics:
//	  side_label: side
//	run:
//	  paths: [features]
//	  concurrency: 1
package config
