// Package hmackey generates API signing keys and issues development tokens.
package hmackey

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/louisbranch/qualityhub/internal/platform/auth"
	"github.com/louisbranch/qualityhub/internal/platform/config"
	"github.com/louisbranch/qualityhub/internal/platform/requestctx"
)

// KeyEnv is the variable the server reads its signing key from.
const KeyEnv = config.EnvPrefix + "AUTH_HMAC_KEY"

// Config holds configuration for key generation and token issuing.
type Config struct {
	Bytes int
	Key   string `env:"QUALITYHUB_AUTH_HMAC_KEY"`

	// Subject switches the tool to token mode.
	Subject     string
	Login       string
	Permissions string
	Projects    string
	TTL         time.Duration
}

// ParseConfig parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := Config{Bytes: 32, TTL: 24 * time.Hour}
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Bytes, "bytes", cfg.Bytes, "number of random bytes (default: 32)")
	fs.StringVar(&cfg.Key, "key", cfg.Key, "hex signing key for -sub (default: "+KeyEnv+")")
	fs.StringVar(&cfg.Subject, "sub", "", "issue a bearer token for this user UUID instead of a key")
	fs.StringVar(&cfg.Login, "login", "", "token login")
	fs.StringVar(&cfg.Permissions, "perms", "", "comma-separated global permissions (admin, profileadmin)")
	fs.StringVar(&cfg.Projects, "projects", "", "comma-separated private project keys the user may browse")
	fs.DurationVar(&cfg.TTL, "ttl", cfg.TTL, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run writes either a fresh key or, with Subject set, a signed token to out.
func Run(cfg Config, out io.Writer, reader io.Reader) error {
	if out == nil {
		return errors.New("output is required")
	}
	if strings.TrimSpace(cfg.Subject) != "" {
		return issue(cfg, out)
	}
	if cfg.Bytes <= 0 {
		return errors.New("bytes must be greater than zero")
	}
	if reader == nil {
		reader = rand.Reader
	}

	buf := make([]byte, cfg.Bytes)
	if _, err := io.ReadFull(reader, buf); err != nil {
		return fmt.Errorf("generate random bytes: %w", err)
	}
	_, err := fmt.Fprintf(out, "%s=%s\n", KeyEnv, hex.EncodeToString(buf))
	return err
}

func issue(cfg Config, out io.Writer) error {
	key, err := auth.ParseKey(cfg.Key)
	if err != nil {
		return err
	}
	if key == nil {
		return fmt.Errorf("a signing key is required: set %s or -key", KeyEnv)
	}
	if cfg.TTL <= 0 {
		return errors.New("ttl must be greater than zero")
	}
	user := requestctx.User{
		UUID:        strings.TrimSpace(cfg.Subject),
		Login:       strings.TrimSpace(cfg.Login),
		Permissions: splitList(cfg.Permissions),
		Projects:    splitList(cfg.Projects),
	}
	token, err := auth.Issue(auth.Config{Key: key}, user, cfg.TTL)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
