package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit(t *testing.T) {
	defer func() {
		Root, Resource, Iterator, Engine, Shell = zerolog.Nop(), zerolog.Nop(), zerolog.Nop(), zerolog.Nop(), zerolog.Nop()
	}()

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		Init(Options{LogLevel: zerolog.InfoLevel, Type: JSONLogger, Output: &buf})

		Iterator.Debug().Msg("dropped")
		Iterator.Info().Uint64("itr", 7).Msg("kept")

		var line map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, "iterator", line["component"])
		assert.Equal(t, "kept", line["message"])
		assert.Equal(t, float64(7), line["itr"])
	})

	t.Run("console", func(t *testing.T) {
		var buf bytes.Buffer
		Init(Options{LogLevel: zerolog.DebugLevel, Output: &buf})

		Resource.Debug().Msg("close claimed")
		assert.Contains(t, buf.String(), `message: "close claimed"`)
		assert.Contains(t, buf.String(), `"component": "resource"`)
	})
}

func TestParseLogLevel(t *testing.T) {
	level, err := ParseLogLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, zerolog.WarnLevel, level)

	_, err = ParseLogLevel("loud")
	assert.Error(t, err)
}
