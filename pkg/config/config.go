// Dlist uses flags and a single config file for configuration.
// The config file contains values for flags, keyed by flag name. Two encodings are understood, picked by extension:
//   - .txtpb / .textproto: a google.protobuf.Struct in prototext form, e.g.
//     fields { key: "log_level" value { string_value: "debug" } }
//   - .yaml / .yml: a flat map, e.g. `log_level: debug`.
//
// Flags given on the command line win: the config file only fills in the flags that weren't set there.

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

	"github.com/nobletooth/dlist/pkg/utils"
	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/types/known/structpb"
	"gopkg.in/yaml.v2"
)

var configFile = flag.String("config_file", "config.txtpb", "Path to the configuration file.")

var (
	ErrUnknownFlag       = utils.ErrUnknownFlag
	ErrUnsupportedFormat = errors.New("unsupported config file format")
)

// skippedConfigFlags can only be given on the command line.
var skippedConfigFlags = []string{"config_file", "print_version"}

// protobufValueToString converts a protobuf struct value to its string representation suitable for flag setting.
func protobufValueToString(v *structpb.Value) (string, error) {
	switch kind := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return kind.StringValue, nil
	case *structpb.Value_NumberValue:
		return strconv.FormatFloat(kind.NumberValue, 'f', -1, 64), nil
	case *structpb.Value_BoolValue:
		return strconv.FormatBool(kind.BoolValue), nil
	default:
		return "", fmt.Errorf("unsupported value kind: %T", kind)
	}
}

// yamlValueToString does the same as protobufValueToString for values decoded by yaml.
func yamlValueToString(v any) (string, error) {
	switch value := v.(type) {
	case string:
		return value, nil
	case int:
		return strconv.Itoa(value), nil
	case int64:
		return strconv.FormatInt(value, 10), nil
	case uint64:
		return strconv.FormatUint(value, 10), nil
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(value), nil
	default:
		return "", fmt.Errorf("unsupported value type: %T", v)
	}
}

func decodeTextProto(configBytes []byte) (map[ /*flagName*/ string] /*flagValue*/ string, error) {
	conf := new(structpb.Struct)
	if err := prototext.Unmarshal(configBytes, conf); err != nil {
		return nil, fmt.Errorf("failed to parse prototext: %w", err)
	}
	flags := make(map[string]string, len(conf.GetFields()))
	for name, value := range conf.GetFields() {
		stringValue, err := protobufValueToString(value)
		if err != nil {
			return nil, fmt.Errorf("failed to convert %s: %w", name, err)
		}
		flags[name] = stringValue
	}
	return flags, nil
}

func decodeYAML(configBytes []byte) (map[ /*flagName*/ string] /*flagValue*/ string, error) {
	conf := make(map[string]any)
	if err := yaml.Unmarshal(configBytes, &conf); err != nil {
		return nil, fmt.Errorf("failed to parse yaml: %w", err)
	}
	flags := make(map[string]string, len(conf))
	for name, value := range conf {
		stringValue, err := yamlValueToString(value)
		if err != nil {
			return nil, fmt.Errorf("failed to convert %s: %w", name, err)
		}
		flags[name] = stringValue
	}
	return flags, nil
}

// readConfigFile decodes the config file at `path` into flag name / value pairs.
func readConfigFile(path string) (map[ /*flagName*/ string] /*flagValue*/ string, error) {
	configBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txtpb", ".textproto":
		return decodeTextProto(configBytes)
	case ".yaml", ".yml":
		return decodeYAML(configBytes)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// explicitlySetFlags returns the names of the flags that have been set, e.g. on the command line.
func explicitlySetFlags() map[ /*flagName*/ string]struct{} {
	set := make(map[string]struct{})
	flag.Visit(func(f *flag.Flag) { set[f.Name] = struct{}{} })
	return set
}

// setConfigFlags sets all the given flags to the global flag variables, in name order. Flags in `keep` are left as is.
func setConfigFlags(
	flags map[ /*flagName*/ string] /*flagValue*/ string, keep map[ /*flagName*/ string]struct{},
) error {
	names := make([]string, 0, len(flags))
	for name := range flags {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if slices.Contains(skippedConfigFlags, name) {
			slog.Warn("Flag can't be set from the config file, ignoring it.", "flag", name)
			continue
		}
		if _, onCommandLine := keep[name]; onCommandLine {
			slog.Debug("Flag was given on the command line, ignoring its config file value.", "flag", name)
			continue
		}
		if err := utils.SetFlag(name, flags[name]); err != nil {
			return err
		}
	}
	return nil
}

// LoadFile applies the config file at `path` to the flags. A missing file is not an error.
func LoadFile(path string) error {
	return loadFile(path, nil /*keep*/)
}

// loadFile is LoadFile leaving the flags in `keep` untouched.
func loadFile(path string, keep map[ /*flagName*/ string]struct{}) error {
	if path == "" {
		slog.Info("Config file not specified. Skipping config initialization.")
		return nil
	}
	flags, err := readConfigFile(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Warn("Config file does not exist.", "path", path)
		return nil
	}
	if err != nil {
		return err
	}
	if err := setConfigFlags(flags, keep); err != nil {
		return fmt.Errorf("failed to set flags from config file: %w", err)
	}
	slog.Debug("Config file applied.", "path", path, "flags", len(flags))
	return nil
}

// InitFlags parses the command line and then applies the file given by the -config_file flag to the flags the command
// line didn't set. It should be called after defining all flags and before using them. Failures are logged and the
// flags keep their command line values.
func InitFlags() {
	flag.Parse()
	if err := loadFile(*configFile, explicitlySetFlags()); err != nil {
		slog.Error("Failed to load config file.", "path", *configFile, "error", err)
	}
}

// CollectUnregisteredFlags returns an error for each entry of the config file at `path` that doesn't name a defined
// flag. Nothing is set.
func CollectUnregisteredFlags(path string) []error {
	flags, err := readConfigFile(path)
	if err != nil {
		return []error{err}
	}
	errs := make([]error, 0)
	for name := range flags {
		if flag.Lookup(name) == nil {
			errs = append(errs, fmt.Errorf("%w: '%s' is set in %s", ErrUnknownFlag, name, path))
		}
	}
	return errs
}
