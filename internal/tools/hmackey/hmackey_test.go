package hmackey

import (
	"bytes"
	"flag"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/louisbranch/qualityhub/internal/platform/auth"
	"github.com/louisbranch/qualityhub/internal/platform/requestctx"
)

const testKey = "000102030405060708090a0b0c0d0e0f"

func TestParseConfigDefaults(t *testing.T) {
	t.Setenv(KeyEnv, "")
	fs := flag.NewFlagSet("hmackey", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Bytes != 32 || cfg.TTL != 24*time.Hour || cfg.Subject != "" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestParseConfigOverride(t *testing.T) {
	t.Setenv(KeyEnv, testKey)
	fs := flag.NewFlagSet("hmackey", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-bytes", "16", "-sub", "u1", "-ttl", "1h"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Bytes != 16 || cfg.Key != testKey || cfg.Subject != "u1" || cfg.TTL != time.Hour {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestParseConfigBadArgs(t *testing.T) {
	fs := flag.NewFlagSet("hmackey", flag.ContinueOnError)
	fs.SetOutput(&bytes.Buffer{})
	if _, err := ParseConfig(fs, []string{"-invalid"}); err == nil {
		t.Fatal("expected error for unknown flag")
	}
}

func TestRunWritesHex(t *testing.T) {
	buf := &bytes.Buffer{}
	reader := bytes.NewReader([]byte{0x01, 0x02, 0x03, 0x04})
	if err := Run(Config{Bytes: 4}, buf, reader); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := strings.TrimSpace(buf.String()); got != "QUALITYHUB_AUTH_HMAC_KEY=01020304" {
		t.Fatalf("output = %q", got)
	}
}

func TestRunRejectsInvalidInput(t *testing.T) {
	if err := Run(Config{Bytes: 0}, &bytes.Buffer{}, bytes.NewReader(nil)); err == nil {
		t.Fatal("expected error for non-positive bytes")
	}
	if err := Run(Config{Bytes: 4}, nil, nil); err == nil {
		t.Fatal("expected error for nil output")
	}
	if err := Run(Config{Bytes: 4}, &bytes.Buffer{}, errReader{}); err == nil {
		t.Fatal("expected error from failing reader")
	}
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, fmt.Errorf("read error") }

func TestRunIssuesVerifiableToken(t *testing.T) {
	buf := &bytes.Buffer{}
	cfg := Config{Key: testKey, Subject: "u1", Login: "ada", Permissions: "profileadmin, ", Projects: "bank", TTL: time.Hour}
	if err := Run(cfg, buf, nil); err != nil {
		t.Fatalf("run: %v", err)
	}

	key, err := auth.ParseKey(testKey)
	if err != nil {
		t.Fatalf("parse key: %v", err)
	}
	user, err := auth.Verify(auth.Config{Key: key}, strings.TrimSpace(buf.String()))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	want := requestctx.User{UUID: "u1", Login: "ada", Permissions: []string{"profileadmin"}, Projects: []string{"bank"}}
	if diff := cmp.Diff(want, user); diff != "" {
		t.Fatalf("user mismatch (-want +got):\n%s", diff)
	}
}

func TestRunTokenNeedsKey(t *testing.T) {
	if err := Run(Config{Subject: "u1", TTL: time.Hour}, &bytes.Buffer{}, nil); err == nil {
		t.Fatal("expected error without a signing key")
	}
	if err := Run(Config{Key: testKey, Subject: "u1"}, &bytes.Buffer{}, nil); err == nil {
		t.Fatal("expected error for zero ttl")
	}
}
