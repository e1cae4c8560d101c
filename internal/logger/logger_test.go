package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	tt := []struct {
		name      string
		logLevel  string
		logFormat string

		expectedErr error
	}{
		{
			name:      "json format, info level",
			logLevel:  "info",
			logFormat: "json",
		},
		{
			name:      "text format, debug level",
			logLevel:  "debug",
			logFormat: "text",
		},
		{
			name:      "tint format, warn level",
			logLevel:  "warn",
			logFormat: "tint",
		},
		{
			name:      "invalid level",
			logLevel:  "verbose",
			logFormat: "json",

			expectedErr: ErrInvalidLogLevel,
		},
		{
			name:      "invalid format",
			logLevel:  "info",
			logFormat: "xml",

			expectedErr: ErrInvalidLogFormat,
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			// when
			logger, err := NewLogger(tc.logLevel, tc.logFormat)

			// then
			if tc.expectedErr != nil {
				require.ErrorIs(t, err, tc.expectedErr)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, logger)
		})
	}
}

func TestNewLoggerWithWriterEmitsJSON(t *testing.T) {
	// given
	var buf bytes.Buffer
	logger, err := NewLoggerWithWriter("info", "json", &buf)
	require.NoError(t, err)

	// when
	logger.Info("started")

	// then
	require.Contains(t, buf.String(), `"msg":"started"`)
}
