package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel_RecognizesAllLevels(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("warn"))
	assert.Equal(t, zerolog.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("info"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("nonsense"))
}

func TestNew_WritesToFileWhenPathGiven(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	logger, err := New(zerolog.InfoLevel, path)
	require.NoError(t, err)

	logger.Info().Str("component", "test").Msg("hello")

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(contents), "hello")
}

func TestNew_WithoutFilePathOnlyWritesStdout(t *testing.T) {
	logger, err := New(zerolog.InfoLevel, "")
	require.NoError(t, err)
	logger.Info().Msg("ok")
}
