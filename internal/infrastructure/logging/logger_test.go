package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestNewLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		t.Run(level, func(t *testing.T) {
			l, err := New(Config{Level: level, OutputPaths: []string{"stderr"}})
			require.NoError(t, err)
			assert.NotNil(t, l.Logger)
		})
	}
}

func TestFromLevelFallsBack(t *testing.T) {
	l := FromLevel("nonsense", false)
	require.NotNil(t, l)
	assert.NotNil(t, l.Logger)
}

func TestComponentOnNilLogger(t *testing.T) {
	var l *Logger
	assert.NotNil(t, l.Component("worker"))
	assert.NotNil(t, OrNop(nil))
}
