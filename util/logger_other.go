//go:build !linux

package util

import (
	"io"
	"log"
	"os"
)

var logWriter io.Writer = os.Stderr

// GetLogWriter returns the writer shared by the standard logger and gin
func GetLogWriter() io.Writer {
	return logWriter
}

// SetupLogging keeps stderr logging; journald only exists on Linux
func SetupLogging(withJournald bool) {
	if withJournald {
		log.Printf("Warning: journald is not available on this platform, logging to stderr")
	}
	log.SetOutput(logWriter)
}
