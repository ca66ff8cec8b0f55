// Package klog is the kernel's single diagnostic sink. Every subsystem
// logs through the package-level logger here instead of calling
// fmt.Printf directly. The serial driver that would carry these lines
// off-box is out of scope — this package only formats lines and
// writes them to stderr.
package klog

import (
	"os"

	"github.com/sirupsen/logrus"
)

// L is the kernel-wide logger. Tests may swap its output or level.
var L = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   false,
		DisableColors:   true,
		QuoteEmptyFields: true,
	})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// Fields is a shorthand alias so call sites don't need to import logrus
// directly.
type Fields = logrus.Fields
