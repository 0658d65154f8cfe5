package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"golang.org/x/term"

	"github.com/Strob0t/OnboardForge/internal/adapter/postgres"
	"github.com/Strob0t/OnboardForge/internal/config"
	"github.com/Strob0t/OnboardForge/internal/domain/orchestration"
	"github.com/Strob0t/OnboardForge/internal/domain/taskcontext"
	"github.com/Strob0t/OnboardForge/internal/middleware"
)

// runAdmin dispatches admin subcommands (migrate, version, replay, verify).
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "migrate":
		return runAdminMigrate(args[1:])
	case "version":
		return runAdminVersion(args[1:])
	case "replay":
		return runAdminReplay(args[1:])
	case "verify":
		return runAdminVerify(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: onboardforge admin <command> [options]

Commands:
  migrate            Apply pending database migrations (--down N rolls back)
  version            Print the current migration version
  replay <context>   Recompute and print the state of a task context
  verify <context>   Check the sequence numbers of a task context history
  help               Show this help message

Examples:
  onboardforge admin migrate
  onboardforge admin migrate --down 1
  onboardforge admin replay --tenant acme 6f1c...
  onboardforge admin verify 6f1c... --json
`)
}

func loadAdminConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Postgres.DSN == "" {
		return nil, errors.New("admin commands need postgres.dsn (DATABASE_URL)")
	}
	return cfg, nil
}

func runAdminMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	down := fs.Int("down", 0, "roll back this many migrations instead of applying")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadAdminConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()

	if *down > 0 {
		if err := postgres.RollbackMigrations(ctx, cfg.Postgres.DSN, *down); err != nil {
			return fmt.Errorf("rollback: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Rolled back %d migration(s)\n", *down)
		return nil
	}
	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	fmt.Fprintln(os.Stderr, "Migrations applied")
	return nil
}

func runAdminVersion(args []string) error {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadAdminConfig()
	if err != nil {
		return err
	}
	v, err := postgres.MigrationVersion(context.Background(), cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("migration version: %w", err)
	}
	fmt.Println(v)
	return nil
}

// contextFlags are shared by replay and verify.
type contextFlags struct {
	tenant  string
	asJSON  bool
	context string
}

func parseContextFlags(name string, args []string) (*contextFlags, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	f := &contextFlags{}
	fs.StringVar(&f.tenant, "tenant", middleware.DefaultTenantID, "tenant owning the context")
	fs.BoolVar(&f.asJSON, "json", false, "print JSON even on a terminal")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() == 0 {
		return nil, fmt.Errorf("%s needs a context id", name)
	}
	f.context = fs.Arg(0)
	// Flags after the id are accepted too.
	if err := fs.Parse(fs.Args()[1:]); err != nil {
		return nil, err
	}
	if fs.NArg() != 0 {
		return nil, fmt.Errorf("%s takes exactly one context id", name)
	}
	return f, nil
}

// loadHistory reads a context record and its full history from postgres.
func loadHistory(f *contextFlags) (*taskcontext.Record, []taskcontext.Entry, error) {
	cfg, err := loadAdminConfig()
	if err != nil {
		return nil, nil, err
	}
	ctx := middleware.WithTenantID(context.Background(), f.tenant)
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	store := postgres.NewContextStore(pool)
	rec, err := store.GetContext(ctx, f.context)
	if err != nil {
		return nil, nil, fmt.Errorf("load context %s: %w", f.context, err)
	}
	history, err := store.LoadHistory(ctx, f.context)
	if err != nil {
		return nil, nil, fmt.Errorf("load history %s: %w", f.context, err)
	}
	return rec, history, nil
}

// wantTable reports whether output goes to an interactive terminal.
func wantTable(f *contextFlags) bool {
	return !f.asJSON && term.IsTerminal(int(os.Stdout.Fd())) //nolint:gosec // fd fits in int
}

func runAdminReplay(args []string) error {
	f, err := parseContextFlags("replay", args)
	if err != nil {
		return err
	}
	rec, history, err := loadHistory(f)
	if err != nil {
		return err
	}
	tc, err := taskcontext.Rebuild(*rec, history)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	progress := orchestration.Replay(&tc.TemplateSnapshot, tc.History)

	if !wantTable(f) {
		return writeJSONOut(os.Stdout, struct {
			State        taskcontext.State   `json:"state"`
			Orchestrator orchestration.State `json:"orchestrator_state"`
			Completeness int                 `json:"phase_completeness"`
		}{tc.State, orchestration.StateFor(&tc.State), progress.Completeness()})
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "CONTEXT\t%s\n", tc.ID)
	_, _ = fmt.Fprintf(w, "TEMPLATE\t%s v%d\n", tc.TemplateID, tc.TemplateVersion)
	_, _ = fmt.Fprintf(w, "STATUS\t%s (%s)\n", tc.State.Status, orchestration.StateFor(&tc.State))
	_, _ = fmt.Fprintf(w, "PHASE\t%s\n", tc.State.Phase)
	_, _ = fmt.Fprintf(w, "COMPLETENESS\t%d%%\n", tc.State.Completeness)
	_, _ = fmt.Fprintf(w, "ENTRIES\t%d (last sequence %d)\n", tc.State.EntryCount, tc.State.LastSequence)
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "PHASE\tSUBTASK\tAGENT\tSTATUS")
	for i := range tc.TemplateSnapshot.Phases {
		ph := &tc.TemplateSnapshot.Phases[i]
		for _, st := range ph.Subtasks {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", ph.ID, st.ID, st.Agent, progress.Subtask(ph.ID, st.ID))
		}
	}
	return w.Flush()
}

type verifyReport struct {
	ContextID    string `json:"context_id"`
	Entries      int    `json:"entries"`
	LastSequence int64  `json:"last_sequence"`
	OK           bool   `json:"ok"`
	Problem      string `json:"problem,omitempty"`
}

func runAdminVerify(args []string) error {
	f, err := parseContextFlags("verify", args)
	if err != nil {
		return err
	}
	_, history, err := loadHistory(f)
	if err != nil {
		return err
	}

	report := verifyReport{ContextID: f.context, Entries: len(history), OK: true}
	st, cerr := taskcontext.Compute(history)
	if cerr != nil {
		report.OK = false
		report.Problem = cerr.Error()
	} else {
		report.LastSequence = st.LastSequence
	}

	if wantTable(f) {
		if report.OK {
			fmt.Printf("OK: %d entries, contiguous through sequence %d\n", report.Entries, report.LastSequence)
		} else {
			fmt.Printf("FAILED: %s\n", report.Problem)
		}
	} else if err := writeJSONOut(os.Stdout, report); err != nil {
		return err
	}

	if cerr != nil {
		return fmt.Errorf("context %s failed verification: %w", f.context, cerr)
	}
	return nil
}

func writeJSONOut(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
