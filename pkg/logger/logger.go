package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logger configuration.
type Config struct {
	Level  string // debug, info, warn, error
	Pretty bool   // enable pretty console output
}

var secretKeywords = []string{
	"app_secret", "appsecret", "private_key", "privatekey",
	"access_token", "accesstoken", "password", "api_key", "apikey",
}

// maskingHook has an empty Run and New does not attach it, so log output is
// not redacted automatically; a value is masked only where the caller passes
// it through Redact.
type maskingHook struct{}

func (maskingHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {}

// New creates a new structured logger writing to stdout, optionally pretty-printed.
func New(cfg Config) zerolog.Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	var output io.Writer = os.Stdout
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}
	}

	return zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Logger()
}

// SetGlobalLogger sets the package-level logger used by log.* helpers.
func SetGlobalLogger(l zerolog.Logger) {
	log.Logger = l
}

// Redact masks value when key, lower-cased and with '-' read as '_', equals
// a recognized secret keyword: the first and last two characters are kept
// around "****", or the whole value becomes "****" when it has four
// characters or fewer. For any other key value is returned unchanged.
func Redact(key, value string) string {
	lower := keywordMatch(key)
	if !lower {
		return value
	}
	if len(value) <= 4 {
		return "****"
	}
	return value[:2] + "****" + value[len(value)-2:]
}

func keywordMatch(key string) bool {
	k := normalize(key)
	for _, kw := range secretKeywords {
		if k == kw {
			return true
		}
	}
	return false
}

func normalize(s string) string {
	b := make([]rune, 0, len(s))
	for _, r := range s {
		if r >= 'A' && r <= 'Z' {
			r += 'a' - 'A'
		}
		if r == '-' {
			r = '_'
		}
		b = append(b, r)
	}
	return string(b)
}
