// Package testlog wires the test logging profile into go test runs.
package testlog

import (
	"testing"
	"time"

	"github.com/danmuck/kbclient/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Start configures the test profile once and logs the test's start and end.
// The returned logger is tagged with the test name.
func Start(t testing.TB) zerolog.Logger {
	t.Helper()
	logging.ConfigureTests()
	logger := log.Logger.With().Str("test", t.Name()).Logger()
	start := time.Now()
	logger.Info().Msg("start")
	t.Cleanup(func() {
		logger.Info().Bool("failed", t.Failed()).Dur("elapsed", time.Since(start)).Msg("done")
	})
	return logger
}
