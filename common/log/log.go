package log

import (
	"os"
	"strings"

	"github.com/op/go-logging"
)

var Log = logging.MustGetLogger("")

var syslogFormat = logging.MustStringFormatter(
	`%{time:15:04:05.000} %{level:.6s} ▶ %{message}`,
)
var stderrFormat = logging.MustStringFormatter(
	`%{color}krbtle ▶ %{message}%{color:reset}`,
)

const LOG_LEVEL_ENV = "KRBTLE_LOG_LEVEL"
const LOG_SYSLOG_ENV = "KRBTLE_LOG_SYSLOG"

func SetupLogging(prefix string, defaultLogLevel logging.Level, trySyslog bool) *logging.Logger {
	var backend logging.Backend
	if trySyslog || os.Getenv(LOG_SYSLOG_ENV) == "1" {
		backend = getSyslogBackend(prefix)
	}
	if backend == nil {
		backend = logging.NewLogBackend(os.Stderr, prefix, 0)
		logging.SetFormatter(stderrFormat)
	}
	leveled := logging.AddModuleLevel(backend)
	if level, err := ParseLevel(os.Getenv(LOG_LEVEL_ENV)); err == nil {
		leveled.SetLevel(level, prefix)
	} else {
		leveled.SetLevel(defaultLogLevel, prefix)
	}

	logging.SetBackend(leveled)
	return Log
}

// accepts go-logging level names in any case, e.g. "debug" or "NOTICE"
func ParseLevel(name string) (level logging.Level, err error) {
	return logging.LogLevel(strings.ToUpper(strings.TrimSpace(name)))
}
