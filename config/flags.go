package config

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/c360/runtimeworker/errors"
)

// Explicit returns the names of flags set on the command line
func Explicit(fs *flag.FlagSet) map[string]bool {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	return set
}

// ApplyEnv sets every flag not in skip from PREFIX_NAME environment
// variables, where NAME is the flag name upper-cased with dashes as
// underscores. It returns the names it set.
func ApplyEnv(fs *flag.FlagSet, prefix string, skip map[string]bool) ([]string, error) {
	var applied []string
	var firstErr error

	fs.VisitAll(func(f *flag.Flag) {
		if skip[f.Name] || firstErr != nil {
			return
		}
		key := EnvName(prefix, f.Name)
		value, ok := os.LookupEnv(key)
		if !ok {
			return
		}
		if err := checkValue(key, value); err != nil {
			firstErr = errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err), "config", "ApplyEnv", key)
			return
		}
		if err := fs.Set(f.Name, value); err != nil {
			firstErr = errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err), "config", "ApplyEnv", key)
			return
		}
		applied = append(applied, f.Name)
	})

	return applied, firstErr
}

// EnvName returns the environment variable consulted for a flag
func EnvName(prefix, flagName string) string {
	name := strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
	if prefix == "" {
		return name
	}
	return prefix + "_" + name
}

// ApplyValues sets flags from flattened file values, skipping names in
// skip. Keys that name no flag are rejected so typos surface at startup.
func ApplyValues(fs *flag.FlagSet, values map[string]string, skip map[string]bool) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, name := range keys {
		if fs.Lookup(name) == nil {
			return errors.WrapInvalid(fmt.Errorf("%w: unknown setting %q", errors.ErrInvalidConfig, name),
				"config", "ApplyValues", "match flag")
		}
		if skip[name] {
			continue
		}
		if err := fs.Set(name, values[name]); err != nil {
			return errors.WrapInvalid(fmt.Errorf("%w: %s: %v", errors.ErrInvalidConfig, name, err),
				"config", "ApplyValues", "set flag")
		}
	}
	return nil
}
