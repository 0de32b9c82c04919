// Package config loads worker settings from files and the environment and
// applies them to command-line flags.
//
// Every setting is a flag. A configuration file only supplies values for
// flags the operator did not pass explicitly; sections are flattened into
// dash-joined flag names, so
//
//	prometheus:
//	  push-interval: 10s
//
// sets --prometheus-push-interval. Files are decoded by extension: .json,
// .yaml/.yml and .toml. Multiple files can be layered with Loader, later
// files overriding earlier ones.
//
// Precedence, lowest first: flag defaults, configuration files,
// environment variables, explicit flags.
//
//	fs.Parse(args)
//	explicit := config.Explicit(fs)
//	raw, err := config.LoadFile(path)
//	err = config.ApplyValues(fs, config.Flatten(raw), explicit)
//	_, err = config.ApplyEnv(fs, "RUNTIME_WORKER", explicit)
//
// Files larger than MaxFileSize, JSON nested deeper than MaxNesting and
// environment values with control characters are rejected.
//
// Duration flags registered with DurationVar accept "5s", "14d" or integer
// nanoseconds.
package config
