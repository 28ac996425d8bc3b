package utils

import (
	"errors"
	"flag"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

// ErrUnknownFlag is returned when setting a flag that was never defined.
var ErrUnknownFlag = errors.New("flag is not defined")

// SetFlag sets the command line flag `name` to `value`.
func SetFlag(name, value string) error {
	if flag.Lookup(name) == nil {
		return fmt.Errorf("%w: %s", ErrUnknownFlag, name)
	}
	if err := flag.Set(name, value); err != nil {
		return fmt.Errorf("failed to set flag %s: %w", name, err)
	}
	return nil
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
	require.NoError(t, SetFlag(name, value))
}
