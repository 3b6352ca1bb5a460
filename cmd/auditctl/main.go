// Command auditctl inspects the audit chain of a ledger database.
//
//	auditctl verify [-k secret] [-prompt=true]
//	auditctl export [-o file.jsonl]
//	auditctl token -actor <id>
//
// Every command also accepts the server's configuration flags and -c.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/dmitrijs2005/tontineledger/internal/common"
	"github.com/dmitrijs2005/tontineledger/internal/flagx"
	"github.com/dmitrijs2005/tontineledger/internal/logging"
	"github.com/dmitrijs2005/tontineledger/internal/server/archive"
	"github.com/dmitrijs2005/tontineledger/internal/server/auth"
	"github.com/dmitrijs2005/tontineledger/internal/server/config"
	"github.com/dmitrijs2005/tontineledger/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/tontineledger/internal/server/services"
	"golang.org/x/term"
)

const usage = "usage: auditctl <verify|export|token> [flags]"

// chain is the part of *services.AuditChain used by the commands.
type chain interface {
	VerifyIntegrity(ctx context.Context) (*services.IntegrityReport, error)
	Export(ctx context.Context, w io.Writer) (int, error)
}

type uploader interface {
	Upload(ctx context.Context, exp archive.Exporter) (*archive.Result, error)
}

// test seams
var (
	readPassword = term.ReadPassword
	isTerminal   = term.IsTerminal

	openChain = func(ctx context.Context, cfg *config.Config, logger logging.Logger) (chain, func(), error) {
		db, err := sql.Open("pgx", cfg.DatabaseDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("db open: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("db ping: %w", err)
		}
		c := services.NewAuditChain(db, repomanager.NewPostgresRepositoryManager(), []byte(cfg.AuditSecret), logger)
		return c, func() { _ = db.Close() }, nil
	}

	newUploader = func(ctx context.Context, cfg *config.Config) (uploader, error) {
		return archive.NewS3Uploader(ctx, cfg)
	}
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	prompt bool
	output string
	actor  string
}

func parseOptions(args []string) (*options, error) {
	o := &options{}
	fs := flag.NewFlagSet("auditctl", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.BoolVar(&o.prompt, "prompt", false, "read the audit secret from the terminal")
	fs.StringVar(&o.output, "o", "", "write the export to a local file instead of S3")
	fs.StringVar(&o.actor, "actor", "", "actor id for the token")
	if err := fs.Parse(flagx.FilterArgs(args, []string{"-prompt", "-o", "-actor"})); err != nil {
		return nil, err
	}
	return o, nil
}

// run executes one command and returns the process exit code: 0 on
// success, 1 on failure, 2 on bad usage and 3 when the chain is broken.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage)
		return 2
	}
	cmd, rest := args[0], args[1:]

	opts, err := parseOptions(rest)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	cfg, err := config.LoadConfig(rest)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	logger := logging.NewJSONLogger(stderr, slog.LevelWarn).With("module", "auditctl")

	switch cmd {
	case "verify":
		return verify(ctx, cfg, opts, logger, stdout, stderr)
	case "export":
		return export(ctx, cfg, opts, logger, stdout, stderr)
	case "token":
		return token(cfg, opts, stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage)
		return 0
	}

	fmt.Fprintf(stderr, "unknown command %q\n%s\n", cmd, usage)
	return 2
}

// promptSecret replaces the configured audit secret with one typed on the
// terminal.
func promptSecret(cfg *config.Config, w io.Writer) error {
	fd := int(os.Stdin.Fd())
	if !isTerminal(fd) {
		return errors.New("-prompt needs a terminal on stdin")
	}
	fmt.Fprint(w, "Audit secret: ")
	secret, err := readPassword(fd)
	fmt.Fprintln(w)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(secret)
	if len(secret) == 0 {
		return errors.New("empty audit secret")
	}
	cfg.AuditSecret = string(secret)
	return nil
}

func verify(ctx context.Context, cfg *config.Config, opts *options, logger logging.Logger, stdout, stderr io.Writer) int {
	if opts.prompt {
		if err := promptSecret(cfg, stderr); err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
	}

	c, closeFn, err := openChain(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer closeFn()

	report, err := c.VerifyIntegrity(ctx)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	for _, i := range report.Issues {
		fmt.Fprintf(stdout, "seq=%d event=%s issue=%s\n", i.Seq, i.EventID, i.Issue)
	}
	if !report.Valid {
		fmt.Fprintln(stderr, report.Err())
		return 3
	}
	fmt.Fprintf(stdout, "chain valid: %d event(s)\n", report.Checked)
	return 0
}

func export(ctx context.Context, cfg *config.Config, opts *options, logger logging.Logger, stdout, stderr io.Writer) int {
	c, closeFn, err := openChain(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer closeFn()

	if opts.output != "" {
		f, err := os.Create(opts.output)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		n, err := c.Export(ctx, f)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		fmt.Fprintf(stdout, "exported %d event(s) to %s\n", n, opts.output)
		return 0
	}

	u, err := newUploader(ctx, cfg)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	res, err := u.Upload(ctx, c)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	fmt.Fprintf(stdout, "exported %d event(s) to s3://%s/%s sha256=%s\n", res.Events, res.Bucket, res.Key, res.SHA256)
	return 0
}

func token(cfg *config.Config, opts *options, stdout, stderr io.Writer) int {
	if opts.actor == "" {
		fmt.Fprintln(stderr, "token: -actor is required")
		return 2
	}
	t, err := auth.GenerateToken(opts.actor, []byte(cfg.JWTSecret), cfg.AccessTokenValidityDuration)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	fmt.Fprintln(stdout, t)
	return 0
}
