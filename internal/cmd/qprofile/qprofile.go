// Package qprofile implements the offline quality profile tool: list, backup,
// restore, copy, export and import against the database file.
package qprofile

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	entrypoint "github.com/louisbranch/qualityhub/internal/platform/cmd"
	server "github.com/louisbranch/qualityhub/internal/services/quality/app"
	"github.com/louisbranch/qualityhub/internal/services/quality/qualityprofile"
	"github.com/louisbranch/qualityhub/internal/services/quality/qualityprofile/backup"
	"github.com/louisbranch/qualityhub/internal/services/quality/qualityprofile/exchange"
)

// Config holds qprofile command configuration.
type Config struct {
	DBPath  string        `env:"QUALITYHUB_DB_PATH" envDefault:"data/qualityhub.db"`
	Timeout time.Duration `env:"QUALITYHUB_QPROFILE_TIMEOUT" envDefault:"5m"`

	Language string
	Name     string
	Format   string
	Output   string

	Command string
	Args    []string
}

const usage = `usage: qprofile [flags] <command> [args]

commands:
  list                       list profiles (filter with -language)
  backup <profile-key>       write the XML backup of a profile
  restore <file>             restore an XML backup (rename with -name)
  copy <profile-key> <name>  copy a profile into a new or existing one
  export <profile-key>       export with -format
  import <file>              import with -format (rename with -name)
`

// ParseConfig parses environment and flags into Config. The first
// positional argument is the command.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	err := entrypoint.ParseConfigFromArgs(&cfg, fs, args, func(fs *flag.FlagSet, cfg *Config) {
		fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
		fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "overall timeout")
		fs.StringVar(&cfg.Language, "language", "", "language filter for list")
		fs.StringVar(&cfg.Name, "name", "", "profile name override for restore and import")
		fs.StringVar(&cfg.Format, "format", "sonarxml", "exporter or importer key")
		fs.StringVar(&cfg.Output, "o", "", "output file (default stdout)")
		fs.Usage = func() {
			fmt.Fprint(fs.Output(), usage)
			fs.PrintDefaults()
		}
	})
	if err != nil {
		return Config{}, err
	}
	rest := fs.Args()
	if len(rest) == 0 {
		return Config{}, errors.New("command is required")
	}
	cfg.Command, cfg.Args = rest[0], rest[1:]
	if err := validateArgs(cfg.Command, cfg.Args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var commandArity = map[string]int{
	"list":    0,
	"backup":  1,
	"restore": 1,
	"copy":    2,
	"export":  1,
	"import":  1,
}

func validateArgs(command string, args []string) error {
	want, ok := commandArity[command]
	if !ok {
		return fmt.Errorf("unknown command %q", command)
	}
	if len(args) != want {
		return fmt.Errorf("%s expects %d argument(s), got %d", command, want, len(args))
	}
	return nil
}

// Run executes the configured command. Reports go to out; payloads go to
// cfg.Output or out.
func Run(ctx context.Context, cfg Config, out io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	if err := validateArgs(cfg.Command, cfg.Args); err != nil {
		return err
	}
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceQProfile, func(ctx context.Context) error {
		store, err := server.OpenStore(cfg.DBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		profiles := qualityprofile.NewService(store, qualityprofile.Config{})
		backups := backup.NewService(store, profiles)
		t := tool{cfg: cfg, out: out, profiles: profiles, backups: backups, exchange: exchange.NewService(profiles, backups)}
		return t.run(ctx)
	})
}

type tool struct {
	cfg      Config
	out      io.Writer
	profiles *qualityprofile.Service
	backups  *backup.Service
	exchange *exchange.Service
}

func (t tool) run(ctx context.Context) error {
	args := t.cfg.Args
	switch t.cfg.Command {
	case "list":
		return t.list(ctx)
	case "backup":
		return t.write(func(w io.Writer) error { return t.backups.Backup(ctx, args[0], w) })
	case "export":
		return t.write(func(w io.Writer) error { return t.exchange.Export(ctx, args[0], t.cfg.Format, "", w) })
	case "restore":
		return t.read(args[0], func(r io.Reader) (backup.Summary, error) {
			return t.backups.Restore(ctx, r, t.cfg.Name)
		})
	case "import":
		return t.read(args[0], func(r io.Reader) (backup.Summary, error) {
			return t.exchange.Import(ctx, r, t.cfg.Format, t.cfg.Name)
		})
	case "copy":
		summary, err := t.backups.Copy(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		return t.report(summary)
	}
	return fmt.Errorf("unknown command %q", t.cfg.Command)
}

func (t tool) list(ctx context.Context) error {
	summaries, err := t.profiles.Search(ctx, qualityprofile.SearchRequest{Language: t.cfg.Language})
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(t.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tLANGUAGE\tNAME\tPARENT\tACTIVE\tFLAGS")
	for _, s := range summaries {
		var flags []string
		if s.Profile.IsDefault {
			flags = append(flags, "default")
		}
		if s.Profile.BuiltIn {
			flags = append(flags, "built-in")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n", s.Profile.Kee, s.Profile.Language, s.Profile.Name,
			s.ParentName, s.ActiveRuleCount, strings.Join(flags, ","))
	}
	return tw.Flush()
}

func (t tool) write(fn func(io.Writer) error) error {
	if t.cfg.Output == "" {
		return fn(t.out)
	}
	f, err := os.Create(t.cfg.Output)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if err := fn(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (t tool) read(path string, fn func(io.Reader) (backup.Summary, error)) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer f.Close()
	summary, err := fn(f)
	if err != nil {
		return err
	}
	return t.report(summary)
}

func (t tool) report(s backup.Summary) error {
	fmt.Fprintf(t.out, "profile %s (%s, %s): %d activated, %d failed\n",
		s.Profile.Kee, s.Profile.Language, s.Profile.Name, s.Activated, s.Failed)
	for _, msg := range s.Errors {
		fmt.Fprintf(t.out, "  %s\n", msg)
	}
	return nil
}
