package config

import (
	"fmt"
	"log"
	"os"
	"strings"
)

// Exitf reports a fatal command error on stderr, tagged with the binary's
// log prefix when one is set, and exits with status 1.
func Exitf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if prefix := strings.TrimSpace(log.Prefix()); prefix != "" {
		msg = prefix + " " + msg
	}
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
