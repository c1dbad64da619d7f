// Package main prints a new API signing key or a development bearer token.
package main

import (
	"flag"
	"os"

	"github.com/louisbranch/qualityhub/internal/platform/config"
	"github.com/louisbranch/qualityhub/internal/tools/hmackey"
)

func main() {
	cfg, err := hmackey.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	if err := hmackey.Run(cfg, os.Stdout, nil); err != nil {
		config.Exitf("hmac-key: %v", err)
	}
}
