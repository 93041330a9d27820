package testlog

import (
	"testing"

	"github.com/danmuck/linkctl/internal/logging"
	zlog "github.com/rs/zerolog/log"
)

func Start(t *testing.T) {
	t.Helper()
	logging.ConfigureTests()
	zlog.Debug().Str("test", t.Name()).Msg("start")
}
