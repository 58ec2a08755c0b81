package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewBuildsBothModes(t *testing.T) {
	t.Parallel()

	for _, development := range []bool{true, false} {
		logger, err := New(development)
		require.NoError(t, err)
		require.Equal(t, "marketscout", logger.Name())
		_ = logger.Sync()
	}
}

func TestForComponentTagsChildLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(false)
	require.NoError(t, err)
	child := ForComponent(logger, "discovery")
	require.NotSame(t, logger, child)
	_ = child.Sync()
}
