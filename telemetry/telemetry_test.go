package telemetry_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datmedevil17/apocalypse/telemetry"
)

func TestParseLogFormat(t *testing.T) {
	assert.Equal(t, telemetry.LogFormatJSON, telemetry.ParseLogFormat("JSON"))
	assert.Equal(t, telemetry.LogFormatPretty, telemetry.ParseLogFormat("pretty"))
	assert.Equal(t, telemetry.LogFormatUndefined, telemetry.ParseLogFormat("xml"))
	assert.Equal(t, "pretty", telemetry.LogFormatPretty.String())
	assert.Equal(t, "undefined", telemetry.LogFormat(42).String())
}

func TestNewValidatesOptions(t *testing.T) {
	base := telemetry.Options{ServiceName: "apocalypse", LogLevel: "info", LogFormat: telemetry.LogFormatJSON}

	noName := base
	noName.ServiceName = ""
	_, err := telemetry.New(noName)
	require.Error(t, err)

	badLevel := base
	badLevel.LogLevel = "loud"
	_, err = telemetry.New(badLevel)
	require.ErrorContains(t, err, "invalid log level")

	noFormat := base
	noFormat.LogFormat = telemetry.LogFormatUndefined
	_, err = telemetry.New(noFormat)
	require.Error(t, err)

	badRate := base
	badRate.TraceSampleRate = 2
	_, err = telemetry.New(badRate)
	require.Error(t, err)
}

func TestGetLogger(t *testing.T) {
	var buf bytes.Buffer
	tel, err := telemetry.New(telemetry.Options{
		ServiceName: "apocalypse",
		LogLevel:    "info",
		LogFormat:   telemetry.LogFormatJSON,
		Output:      &buf,
	})
	require.NoError(t, err)
	defer func() { require.NoError(t, tel.Shutdown(context.Background())) }()

	logger := tel.GetLogger("program")
	logger.Debug().Msg("hidden")
	logger.Info().Uint64("room_id", 7).Msg("Battle started")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "apocalypse.program", line["component"])
	assert.Equal(t, "Battle started", line["message"])
	assert.InDelta(t, 7, line["room_id"], 0)
	assert.NotNil(t, tel.Tracer)
}
