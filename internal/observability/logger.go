package observability

import (
	"os"
	"strings"

	"github.com/danmuck/wser/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger configures the runtime console logger and tags it with app.
// level comes from the config file; WSER_LOG_LEVEL still wins over it.
func InitLogger(app string, level string) zerolog.Logger {
	logging.ConfigureRuntime()
	logger := log.Logger.With().Str("app", app).Logger()
	if strings.TrimSpace(os.Getenv(logging.EnvLogLevel)) == "" && strings.TrimSpace(level) != "" {
		if lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level))); err == nil {
			zerolog.SetGlobalLevel(lvl)
			logger = logger.Level(lvl)
		}
	}
	log.Logger = logger
	return logger
}
