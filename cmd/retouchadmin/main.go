// Command retouchadmin is the operator tool for the EasyRetouch database.
// It works on the database file directly, so it can be used while the
// service is stopped.
//
// Usage:
//
//	retouchadmin report
//	retouchadmin export [file.csv]
//	retouchadmin setpro <user-id>
//	retouchadmin revokepro <user-id>
//	retouchadmin reset <user-id>
//	retouchadmin history <user-id> [limit]
//	retouchadmin stats [days]
//	retouchadmin migrate up|down|version
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"easyretouch/core"
	"easyretouch/db"
	"easyretouch/logging"
	"easyretouch/quota"
)

// errUsage marks bad command lines.
var errUsage = errors.New("usage")

func main() {
	_ = godotenv.Load()

	dbPath := core.GetEnvOrDefault("DB_PATH", core.GetDataFilePath("retouch.db"))
	os.Exit(run(context.Background(), os.Args[1:], dbPath, os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, dbPath string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		printUsage(stdout)
		if len(args) == 0 {
			return core.ExitCodeError
		}
		return core.ExitCodeSuccess
	}

	err := dispatch(ctx, args, dbPath, stdout)
	switch {
	case err == nil:
		return core.ExitCodeSuccess
	case errors.Is(err, errUsage):
		color.New(color.FgRed).Fprintf(stderr, "%v\n", err)
		printUsage(stderr)
		return core.ExitCodeError
	default:
		color.New(color.FgRed).Fprintf(stderr, "Error: %v\n", err)
		return core.ExitCodeError
	}
}

func dispatch(ctx context.Context, args []string, dbPath string, out io.Writer) error {
	cmd := args[0]
	if cmd == "migrate" {
		return runMigrate(ctx, args[1:], dbPath, out)
	}

	database, err := db.Open(ctx, db.DefaultConfig(dbPath))
	if err != nil {
		return err
	}
	defer database.Close()

	a := &admin{
		out:     out,
		dbPath:  dbPath,
		gate:    quota.NewGate(db.NewUserStore(database), quota.DefaultConfig(), logging.NewNop()),
		history: db.NewHistoryRepository(database),
	}

	switch cmd {
	case "report":
		return a.report(ctx)
	case "export":
		if len(args) > 1 {
			return a.exportFile(ctx, args[1])
		}
		return a.gate.ExportCSV(ctx, out)
	case "setpro", "revokepro", "reset":
		if len(args) != 2 || args[1] == "" {
			return fmt.Errorf("%w: %s <user-id>", errUsage, cmd)
		}
		return a.mutate(ctx, cmd, args[1])
	case "history":
		if len(args) < 2 {
			return fmt.Errorf("%w: history <user-id> [limit]", errUsage)
		}
		limit := 20
		if len(args) > 2 {
			if limit, err = strconv.Atoi(args[2]); err != nil || limit <= 0 {
				return fmt.Errorf("%w: limit must be a positive number", errUsage)
			}
		}
		return a.listHistory(ctx, args[1], limit)
	case "stats":
		days := 7
		if len(args) > 1 {
			if days, err = strconv.Atoi(args[1]); err != nil || days <= 0 {
				return fmt.Errorf("%w: days must be a positive number", errUsage)
			}
		}
		return a.stats(ctx, days)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

type admin struct {
	out     io.Writer
	dbPath  string
	gate    *quota.Gate
	history *db.HistoryRepository
}

func (a *admin) report(ctx context.Context) error {
	r, err := a.gate.Report(ctx)
	if err != nil {
		return err
	}

	header := color.New(color.FgCyan, color.Bold)
	dim := color.New(color.FgHiBlack)

	header.Fprintln(a.out, "━━━ EasyRetouch users ━━━")
	fmt.Fprintf(a.out, "  users:      %d\n", r.Total)
	fmt.Fprintf(a.out, "  pro:        %d\n", r.ProUsers)
	fmt.Fprintf(a.out, "  exhausted:  %d\n", r.Exhausted)
	fmt.Fprintf(a.out, "  retouches:  %d\n", r.Retouches)
	if info, err := os.Stat(a.dbPath); err == nil {
		dim.Fprintf(a.out, "  database:   %s (%s)\n", a.dbPath, humanize.Bytes(uint64(info.Size())))
	}
	fmt.Fprintln(a.out)

	maxFree := a.gate.MaxFree()
	for _, u := range r.Users {
		switch {
		case u.IsPro:
			color.New(color.FgGreen).Fprintf(a.out, "  ★ %s", u.UserID)
		case u.RetouchCount >= maxFree:
			color.New(color.FgRed).Fprintf(a.out, "  ✗ %s", u.UserID)
		default:
			fmt.Fprintf(a.out, "  · %s", u.UserID)
		}
		dim.Fprintf(a.out, "  %d retouches, last seen %s\n", u.RetouchCount, humanize.Time(u.UpdatedAt))
	}
	return nil
}

func (a *admin) exportFile(ctx context.Context, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := a.gate.ExportCSV(ctx, f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	color.New(color.FgGreen).Fprintf(a.out, "✓ exported users to %s\n", path)
	return nil
}

func (a *admin) mutate(ctx context.Context, cmd, userID string) error {
	var (
		rec quota.UserRecord
		err error
	)
	switch cmd {
	case "setpro":
		rec, err = a.gate.SetPro(ctx, userID, true)
	case "revokepro":
		rec, err = a.gate.SetPro(ctx, userID, false)
	case "reset":
		rec, err = a.gate.ResetCount(ctx, userID)
	}
	if err != nil {
		return err
	}
	color.New(color.FgGreen).Fprintf(a.out, "✓ %s: pro=%t count=%d\n", rec.UserID, rec.IsPro, rec.RetouchCount)
	return nil
}

func (a *admin) listHistory(ctx context.Context, userID string, limit int) error {
	entries, err := a.history.ListByUser(ctx, userID, limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		color.New(color.FgHiBlack).Fprintf(a.out, "no history for %s\n", userID)
		return nil
	}
	for _, e := range entries {
		clr := color.New(color.FgWhite)
		switch e.Status {
		case db.StatusDelivered:
			clr = color.New(color.FgGreen)
		case db.StatusFailed, db.StatusBadImage:
			clr = color.New(color.FgRed)
		case db.StatusDenied, db.StatusNeuroDenied:
			clr = color.New(color.FgYellow)
		}
		clr.Fprintf(a.out, "  %-12s", e.Status)
		fmt.Fprintf(a.out, " %-8s %6dms  %s", e.Preset, e.DurationMS, e.CreatedAt.Format(time.RFC3339))
		if e.ErrorMessage != "" {
			color.New(color.FgHiBlack).Fprintf(a.out, "  %s", e.ErrorMessage)
		}
		fmt.Fprintln(a.out)
	}
	return nil
}

func (a *admin) stats(ctx context.Context, days int) error {
	since := time.Now().AddDate(0, 0, -days)
	counts, err := a.history.CountByStatus(ctx, since)
	if err != nil {
		return err
	}

	statuses := make([]string, 0, len(counts))
	for s := range counts {
		statuses = append(statuses, string(s))
	}
	sort.Strings(statuses)

	color.New(color.FgCyan, color.Bold).Fprintf(a.out, "━━━ Outcomes in the last %d days ━━━\n", days)
	for _, s := range statuses {
		fmt.Fprintf(a.out, "  %-14s %s\n", s, humanize.Comma(counts[db.HistoryStatus(s)]))
	}
	return nil
}

func runMigrate(ctx context.Context, args []string, dbPath string, out io.Writer) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: migrate up|down|version", errUsage)
	}
	switch args[0] {
	case "up":
		if err := db.MigrateUp(ctx, dbPath); err != nil {
			return err
		}
	case "down":
		if err := db.MigrateDown(ctx, dbPath, 1); err != nil {
			return err
		}
	case "version":
	default:
		return fmt.Errorf("%w: migrate up|down|version", errUsage)
	}

	version, dirty, err := db.MigrationVersion(ctx, dbPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "schema version %d", version)
	if dirty {
		color.New(color.FgRed).Fprint(out, " (dirty)")
	}
	fmt.Fprintln(out)
	return nil
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: retouchadmin <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  report                 Summarise users and quotas")
	fmt.Fprintln(w, "  export [file.csv]      Export users as CSV (stdout by default)")
	fmt.Fprintln(w, "  setpro <user-id>       Grant Pro status")
	fmt.Fprintln(w, "  revokepro <user-id>    Revoke Pro status")
	fmt.Fprintln(w, "  reset <user-id>        Reset a user's retouch count")
	fmt.Fprintln(w, "  history <user-id> [n]  Show a user's recent retouches")
	fmt.Fprintln(w, "  stats [days]           Count outcomes by status")
	fmt.Fprintln(w, "  migrate up|down|version")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "The database is DB_PATH, or retouch.db in the data directory.")
}
