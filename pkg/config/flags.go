// Sica uses flags and a single optional config file for configuration. The config file is a flat YAML or JSON object
// whose keys are flag names; every key sets the flag of the same name. Flags given on the command line win.

package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
	"gopkg.in/yaml.v3"
)

var configFilePath = flag.String("config_file", "sica.yaml",
	"Path to the configuration file; .json files are read as JSON, anything else as YAML.")

// skippedConfigFlags is the list of flags that can only be set on the command line.
var skippedConfigFlags = []string{"print_version", "config_file"}

// InitFlags parses the command line, then applies the config file specified by the --config_file flag.
// It should be called after defining all flags and before using them. A missing config file is not an error.
func InitFlags() error {
	flag.Parse()

	if *configFilePath == "" {
		slog.Info("Config file not specified. Skipping config initialization.")
		return nil
	}
	configBytes, err := os.ReadFile(*configFilePath)
	if errors.Is(err, os.ErrNotExist) {
		slog.Warn("Config file does not exist.", "path", *configFilePath)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	values, err := parseConfig(*configFilePath, configBytes)
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", *configFilePath, err)
	}
	if err := setConfigFlags(flag.CommandLine, values); err != nil {
		return fmt.Errorf("failed to set flags from config file %s: %w", *configFilePath, err)
	}
	slog.Info("Loaded config file.", "path", *configFilePath, "keys", len(values))
	return nil
}

// parseConfig decodes the top-level object of a config file.
func parseConfig(path string, configBytes []byte) (map[string]any, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		conf := new(structpb.Struct)
		if err := protojson.Unmarshal(configBytes, conf); err != nil {
			return nil, err
		}
		return conf.AsMap(), nil
	}

	values := make(map[string]any)
	if err := yaml.Unmarshal(configBytes, &values); err != nil {
		return nil, err
	}
	return values, nil
}

// configValueToString converts a scalar config value to its string representation suitable for flag setting.
func configValueToString(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("unsupported value type %T; only scalars are allowed", value)
	}
}

// setConfigFlags sets every flag named by `values`, leaving flags that were set on the command line untouched.
func setConfigFlags(flags *flag.FlagSet, values map[string]any) error {
	setOnCommandLine := make(map[string]bool)
	flags.Visit(func(f *flag.Flag) { setOnCommandLine[f.Name] = true })

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	slices.Sort(names) // Deterministic error reporting.

	var errs []error
	for _, name := range names {
		if flags.Lookup(name) == nil {
			errs = append(errs, fmt.Errorf("unknown flag %q", name))
			continue
		}
		if slices.Contains(skippedConfigFlags, name) {
			errs = append(errs, fmt.Errorf("flag %q can only be set on the command line", name))
			continue
		}
		if setOnCommandLine[name] {
			slog.Info("Flag set on the command line overrides the config file.", "flag", name)
			continue
		}
		value, err := configValueToString(values[name])
		if err != nil {
			errs = append(errs, fmt.Errorf("flag %q: %w", name, err))
			continue
		}
		if err := flags.Set(name, value); err != nil {
			errs = append(errs, fmt.Errorf("flag %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// CollectUnlistedFlags returns an error for every command line flag that the config file at `path` doesn't mention.
// Flags that can only be set on the command line and the flags of the testing package are ignored.
func CollectUnlistedFlags(path string) ([]error, error) {
	configBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	values, err := parseConfig(path, configBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	var unlisted []error
	flag.VisitAll(func(f *flag.Flag) {
		if slices.Contains(skippedConfigFlags, f.Name) || strings.HasPrefix(f.Name, "test.") {
			return
		}
		if _, listed := values[f.Name]; !listed {
			unlisted = append(unlisted, fmt.Errorf("flag %q is missing from %s", f.Name, path))
		}
	})
	return unlisted, nil
}

// SetTestFlag sets a flag to a specific value for the duration of the test.
func SetTestFlag(t *testing.T, name, value string) {
	t.Helper()
	flagHolder := flag.Lookup(name)
	require.NotNil(t, flagHolder, "Flag %s not found", name)
	if flagHolder != nil { // Revert the flag value back to its original when the test is done.
		prevValue := flagHolder.Value.String()
		t.Cleanup(func() { require.NoError(t, flag.Set(name, prevValue)) })
	}
	require.NoError(t, flag.Set(name, value))
}
