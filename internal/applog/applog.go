// Package applog installs the process-wide go-logging backends from the
// logging section of the configuration.
package applog

import (
	"io"
	"os"

	"github.com/op/go-logging"

	"mast-uitest/internal/config"
)

const (
	consoleFormat = `[%{time:2006-01-02 15:04:05.000}] %{level}: %{message}`
	fileFormat    = `'level'='%{level}'; 'datetime'='%{time:2006-01-02 15:04:05.000}'; 'process_name'='%{program}'; ` +
		`'pid'='%{pid}'; 'thread'='%{id}'; 'module'='%{module}'; 'line'='%{shortfile}'; 'message'='%{message}'`
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Setup replaces the global backends with a console sink on stdout (when
// enabled) and a file sink (when a filename is set). One level applies to
// every sink. The returned Closer releases the log file.
func Setup(cfg config.Logging, stdout io.Writer) (io.Closer, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var (
		backends []logging.Backend
		closer   io.Closer = nopCloser{}
	)
	if cfg.Stdout {
		b := logging.NewLogBackend(stdout, "", 0)
		backends = append(backends, logging.NewBackendFormatter(b, logging.MustStringFormatter(consoleFormat)))
	}
	if cfg.Filename != "" {
		flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
		if cfg.Mode == "w" {
			flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
		}
		f, err := os.OpenFile(cfg.Filename, flags, 0o644)
		if err != nil {
			return nil, err
		}
		closer = f
		b := logging.NewLogBackend(f, "", 0)
		backends = append(backends, logging.NewBackendFormatter(b, logging.MustStringFormatter(fileFormat)))
	}
	if len(backends) == 0 {
		backends = append(backends, logging.NewLogBackend(io.Discard, "", 0))
	}

	leveled := logging.SetBackend(backends...)
	leveled.SetLevel(level, "")
	return closer, nil
}
