package logging

import (
	"os"

	"github.com/labstack/gommon/log"
)

var level = log.INFO

// SetDebug switches every logger created afterwards to DEBUG.
func SetDebug(debug bool) {
	if debug {
		level = log.DEBUG
		return
	}
	level = log.INFO
}

// New returns a leveled logger tagged with the component prefix.
func New(prefix string) *log.Logger {
	l := log.New(prefix)
	l.SetOutput(os.Stdout)
	l.SetLevel(level)
	l.SetHeader(`${time_rfc3339} ${level} ${prefix} ${short_file}:${line}`)
	return l
}
