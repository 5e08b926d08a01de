package testlog

import (
	"testing"

	"github.com/danmuck/nsqwire/internal/logging"
)

func Start(t *testing.T) {
	t.Helper()
	logging.ConfigureTests()
	log := logging.For("test")
	log.Info().Str("test", t.Name()).Msg("start")
}
