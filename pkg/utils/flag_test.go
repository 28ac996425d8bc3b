package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetFlag(t *testing.T) {
	t.Run("unknown flag", func(t *testing.T) {
		assert.ErrorIs(t, SetFlag("no_such_flag", "1"), ErrUnknownFlag)
	})

	t.Run("restored after test", func(t *testing.T) {
		t.Run("override", func(t *testing.T) {
			SetTestFlag(t, "log_level", "error")
			assert.Equal(t, "error", *logLevelFlag)
		})
		assert.Equal(t, string(LogLevelInfo), *logLevelFlag)
	})
}
