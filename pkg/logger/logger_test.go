package logger

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
)

func TestNew_MapsLevelStrings(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"info":    zerolog.InfoLevel,
		"warn":    zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"unknown": zerolog.InfoLevel, // defaults to info
	}
	for level, want := range cases {
		New(Config{Level: level})
		assert.Equal(t, want, zerolog.GlobalLevel(), "level %q", level)
	}
}

func TestNew_ReturnsLoggerWithTimestampAndCaller(t *testing.T) {
	l := New(Config{Level: "info"})
	assert.NotNil(t, l)
}

func TestSetGlobalLogger_ReplacesPackageLogger(t *testing.T) {
	original := log.Logger
	defer func() { log.Logger = original }()

	custom := New(Config{Level: "debug"})
	SetGlobalLogger(custom)
	assert.Equal(t, zerolog.DebugLevel, log.Logger.GetLevel())
}
