package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]zerolog.Level{
		"":      zerolog.InfoLevel,
		"debug": zerolog.DebugLevel,
		"WARN":  zerolog.WarnLevel,
		"error": zerolog.ErrorLevel,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestSetupJSON(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	var buf bytes.Buffer
	require.NoError(t, SetupWriter(&buf, "info", "json"))

	log.Debug().Msg("hidden")
	logger := Component("store")
	logger.Info().Str("key", "people.Jane").Msg("stored")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "stored", line["message"])
	assert.Equal(t, "store", line["component"])
	assert.Equal(t, "keepsake", line["app"])
	assert.Equal(t, "people.Jane", line["key"])
}

func TestSetupRejectsBadLevel(t *testing.T) {
	assert.Error(t, SetupWriter(&bytes.Buffer{}, "verbose", "json"))
}
