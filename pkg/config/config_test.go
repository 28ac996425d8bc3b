package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/nobletooth/dlist/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testIntFlag    = flag.Int("config_test_int", 1, "Used by config tests.")
	testStringFlag = flag.String("config_test_string", "default", "Used by config tests.")
	testBoolFlag   = flag.Bool("config_test_bool", false, "Used by config tests.")
)

// writeConfig writes `content` to a file named `name` in a temp dir and returns its path.
func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// resetTestFlags restores the test flags once the test is done.
func resetTestFlags(t *testing.T) {
	t.Helper()
	utils.SetTestFlag(t, "config_test_int", "1")
	utils.SetTestFlag(t, "config_test_string", "default")
	utils.SetTestFlag(t, "config_test_bool", "false")
}

func TestLoadFile_TextProto(t *testing.T) {
	resetTestFlags(t)
	path := writeConfig(t, "config.txtpb", `
fields { key: "config_test_int" value { number_value: 42 } }
fields { key: "config_test_string" value { string_value: "hello" } }
fields { key: "config_test_bool" value { bool_value: true } }
`)
	require.NoError(t, LoadFile(path))
	assert.Equal(t, 42, *testIntFlag)
	assert.Equal(t, "hello", *testStringFlag)
	assert.True(t, *testBoolFlag)
}

func TestLoadFile_YAML(t *testing.T) {
	resetTestFlags(t)
	path := writeConfig(t, "config.yaml", "config_test_int: 7\nconfig_test_string: from yaml\nconfig_test_bool: true\n")
	require.NoError(t, LoadFile(path))
	assert.Equal(t, 7, *testIntFlag)
	assert.Equal(t, "from yaml", *testStringFlag)
	assert.True(t, *testBoolFlag)
}

func TestLoadFile_Errors(t *testing.T) {
	t.Run("missing file is skipped", func(t *testing.T) {
		assert.NoError(t, LoadFile(filepath.Join(t.TempDir(), "missing.txtpb")))
	})

	t.Run("empty path is skipped", func(t *testing.T) {
		assert.NoError(t, LoadFile(""))
	})

	t.Run("unknown flag", func(t *testing.T) {
		path := writeConfig(t, "config.yml", "not_a_flag: 1\n")
		assert.ErrorIs(t, LoadFile(path), ErrUnknownFlag)
	})

	t.Run("unsupported extension", func(t *testing.T) {
		path := writeConfig(t, "config.json", "{}")
		assert.ErrorIs(t, LoadFile(path), ErrUnsupportedFormat)
	})

	t.Run("malformed prototext", func(t *testing.T) {
		path := writeConfig(t, "config.txtpb", "fields {")
		assert.Error(t, LoadFile(path))
	})

	t.Run("nested yaml value", func(t *testing.T) {
		path := writeConfig(t, "config.yaml", "config_test_string:\n  nested: true\n")
		assert.Error(t, LoadFile(path))
	})

	t.Run("invalid flag value", func(t *testing.T) {
		resetTestFlags(t)
		path := writeConfig(t, "config.yaml", "config_test_int: seven\n")
		assert.Error(t, LoadFile(path))
		assert.Equal(t, 1, *testIntFlag)
	})
}

func TestLoadFile_SkipsCommandLineOnlyFlags(t *testing.T) {
	utils.SetTestFlag(t, "config_file", "original.txtpb")
	path := writeConfig(t, "config.yaml", "config_file: other.yaml\n")
	require.NoError(t, LoadFile(path))
	assert.Equal(t, "original.txtpb", *configFile)
}

func TestCollectUnregisteredFlags(t *testing.T) {
	path := writeConfig(t, "config.txtpb", `
fields { key: "config_test_int" value { number_value: 3 } }
fields { key: "unknown_one" value { number_value: 3 } }
`)
	errs := CollectUnregisteredFlags(path)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrUnknownFlag)
	assert.Equal(t, 1, *testIntFlag, "Collecting flags must not set them")
}

func TestLoadFile_CommandLineWins(t *testing.T) {
	resetTestFlags(t)
	utils.SetTestFlag(t, "config_test_string", "from command line")
	path := writeConfig(t, "config.yaml", "config_test_int: 9\nconfig_test_string: from file\n")

	keep := explicitlySetFlags()
	assert.Contains(t, keep, "config_test_string")
	require.NoError(t, loadFile(path, map[string]struct{}{"config_test_string": {}}))
	assert.Equal(t, "from command line", *testStringFlag)
	assert.Equal(t, 9, *testIntFlag, "Flags missing from the command line still come from the file")
}
