// Package logger is the console logger shared by every command.
// Each line carries a short upper-case tag ("ESI", "DB", "Batch") so the
// interleaved output of concurrent item analyses stays readable.
package logger

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	colorReset = "\033[0m"
	colorGray  = "\033[90m"
	colorRed   = "\033[31m"
	colorGreen = "\033[32m"
	colorYel   = "\033[33m"
	colorCyan  = "\033[36m"
	colorBold  = "\033[1m"
)

var log = newLogger()

// stdout resolves os.Stdout on every write so redirections made after
// package init (tests, daemonizing) are honoured.
type stdout struct{}

func (stdout) Write(p []byte) (int, error) { return os.Stdout.Write(p) }

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(stdout{})
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&tagFormatter{})
	return l
}

// SetLevel changes the minimum level. Unknown levels are rejected.
func SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	log.SetLevel(lvl)
	return nil
}

// SetFormat switches between the colored "text" format and "json".
func SetFormat(format string) {
	switch format {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05.000",
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	default:
		log.SetFormatter(&tagFormatter{})
	}
}

func Debug(tag, msg string) { log.WithField("tag", tag).Debug(msg) }

func Info(tag, msg string) { log.WithField("tag", tag).Info(msg) }

// Success is an info-level line rendered in green.
func Success(tag, msg string) {
	log.WithFields(logrus.Fields{"tag": tag, "ok": true}).Info(msg)
}

func Warn(tag, msg string) { log.WithField("tag", tag).Warn(msg) }

func Error(tag, msg string) { log.WithField("tag", tag).Error(msg) }

// Banner prints the startup banner.
func Banner(version string) {
	if version == "" {
		version = "dev"
	}
	fmt.Fprintf(stdout{}, "\n%s%s  EVE Trade Analytics %s%s\n", colorBold, colorCyan, version, colorReset)
	fmt.Fprintf(stdout{}, "%s  trend · velocity · fifo p&l%s\n\n", colorGray, colorReset)
}

// Section prints a header separating blocks of output.
func Section(title string) {
	line := strings.Repeat("─", max(0, 48-len(title)))
	fmt.Fprintf(stdout{}, "\n%s── %s %s%s\n", colorBold, title, line, colorReset)
}

// Stats prints one aligned key/value line.
func Stats(key string, value interface{}) {
	fmt.Fprintf(stdout{}, "  %s%-24s%s %v\n", colorGray, key, colorReset, value)
}

// Server announces the listening address.
func Server(addr string) {
	Success("Server", fmt.Sprintf("Listening on http://%s", addr))
}

// tagFormatter renders "15:04:05 TAG     message k=v".
type tagFormatter struct{}

func (f *tagFormatter) Format(e *logrus.Entry) ([]byte, error) {
	tag, _ := e.Data["tag"].(string)
	color := levelColor(e.Level)
	if ok, _ := e.Data["ok"].(bool); ok {
		color = colorGreen
	}

	var extra []string
	for k, v := range e.Data {
		if k == "tag" || k == "ok" {
			continue
		}
		extra = append(extra, fmt.Sprintf("%s=%v", k, v))
	}
	sort.Strings(extra)
	fields := ""
	if len(extra) > 0 {
		fields = " " + strings.Join(extra, " ")
	}

	line := fmt.Sprintf("%s%s%s %s%-8s%s %s%s\n",
		colorGray, e.Time.Format("15:04:05"), colorReset,
		color, tag, colorReset,
		e.Message, fields,
	)
	return []byte(line), nil
}

func levelColor(level logrus.Level) string {
	switch level {
	case logrus.DebugLevel, logrus.TraceLevel:
		return colorGray
	case logrus.WarnLevel:
		return colorYel
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		return colorRed
	default:
		return colorCyan
	}
}
