package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/conorfennell/recallloop/internal/config"
	"github.com/conorfennell/recallloop/internal/csvio"
	"github.com/conorfennell/recallloop/internal/deck"
	"github.com/conorfennell/recallloop/internal/domain"
	"github.com/conorfennell/recallloop/internal/fingerprint"
	"github.com/conorfennell/recallloop/internal/gitsource"
	"github.com/conorfennell/recallloop/internal/logger"
	"github.com/conorfennell/recallloop/internal/review"
	"github.com/conorfennell/recallloop/internal/stats"
	"github.com/conorfennell/recallloop/internal/storage"
	"github.com/conorfennell/recallloop/internal/web"
)

// app carries what every command needs once configuration is loaded.
type app struct {
	cfg *config.Config
	log *slog.Logger
	db  *storage.DB
	in  io.Reader
	out io.Writer
}

type command struct {
	usage string
	flags func(fs *pflag.FlagSet)
	run   func(ctx context.Context, a *app, fs *pflag.FlagSet) error
}

var commands = map[string]command{
	"serve":   {usage: "serve                      start the HTTP API", run: runServe},
	"review":  {usage: "review                     review today's due cards in the terminal", run: runReview},
	"add":     {usage: "add -q QUESTION -a ANSWER  add a card by hand", flags: addFlags, run: runAdd},
	"edit":    {usage: "edit ID [-q Q] [-a A]      change the text of a card", flags: addFlags, run: runEdit},
	"delete":  {usage: "delete ID                  delete a card and its history", run: runDelete},
	"source":  {usage: "source add|list|remove     manage deck sources", run: runSource},
	"sync":    {usage: "sync                       import cards from every source", run: runSync},
	"stats":   {usage: "stats                      show per-card review statistics", run: runStats},
	"export":  {usage: "export DIR                 write cards, plans and history as CSV", run: runExport},
	"restore": {usage: "restore DIR                replace all data with a CSV export", run: runRestore},
}

var commandOrder = []string{"serve", "review", "add", "edit", "delete", "source", "sync", "stats", "export", "restore"}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "recallloop: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, in io.Reader, out io.Writer) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		usage(out)
		return nil
	}
	cmd, ok := commands[args[0]]
	if !ok {
		usage(out)
		return fmt.Errorf("unknown command %q", args[0])
	}

	fs := pflag.NewFlagSet(args[0], pflag.ContinueOnError)
	fs.SetOutput(out)
	config.RegisterFlags(fs)
	if cmd.flags != nil {
		cmd.flags(fs)
	}
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	cfg, err := config.Load(fs)
	if err != nil {
		return err
	}
	log, err := logger.Setup(cfg.Log)
	if err != nil {
		return err
	}

	db, err := storage.Open(cfg.DB.Path, log)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	log.Debug("database opened", "path", cfg.DB.Path)

	return cmd.run(ctx, &app{cfg: cfg, log: log, db: db, in: in, out: out}, fs)
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: recallloop COMMAND [flags]")
	fmt.Fprintln(w)
	for _, name := range commandOrder {
		fmt.Fprintf(w, "  %s\n", commands[name].usage)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Common flags:")
	fs := pflag.NewFlagSet("recallloop", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	fs.SetOutput(w)
	fs.PrintDefaults()
}

func (a *app) syncer() *deck.Syncer {
	return deck.NewSyncer(a.db, a.cfg.Deck.ReposDir,
		deck.WithPrune(a.cfg.Deck.Prune),
		deck.WithLogger(a.log),
	)
}

func runServe(ctx context.Context, a *app, _ *pflag.FlagSet) error {
	handler := web.NewServer(a.db,
		web.WithSyncer(a.syncer()),
		web.WithScheduler(&a.cfg.Scheduler),
		web.WithTrendWindow(a.cfg.Stats.Window),
		web.WithLogger(a.log),
	)
	srv := &http.Server{
		Addr:              a.cfg.HTTP.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		a.log.Info("server listening", "addr", a.cfg.HTTP.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	a.log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func runReview(ctx context.Context, a *app, _ *pflag.FlagSet) error {
	sess := review.New(a.db,
		review.WithScheduler(&a.cfg.Scheduler),
		review.WithLogger(a.log),
	)
	t := &terminal{
		session: sess,
		passing: a.cfg.Scheduler.PassingRating,
		now:     time.Now,
		in:      a.in,
		out:     a.out,
	}
	return t.run(ctx)
}

func addFlags(fs *pflag.FlagSet) {
	fs.StringP("question", "q", "", "question text")
	fs.StringP("answer", "a", "", "answer text")
}

func runAdd(ctx context.Context, a *app, fs *pflag.FlagSet) error {
	q, _ := fs.GetString("question")
	ans, _ := fs.GetString("answer")
	card := domain.Card{
		Question: strings.TrimSpace(q),
		Answer:   strings.TrimSpace(ans),
	}
	card.Hash = fingerprint.Card(card)

	card, err := a.db.InsertCard(ctx, card, 0)
	if errors.Is(err, storage.ErrDuplicate) {
		return errors.New("an identical card already exists")
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Added card %d, first review on %s.\n",
		card.ID, domain.FormatDate(domain.AddDays(card.CreatedAt, 1)))
	return nil
}

// runEdit rewrites the question, the answer or both. The card keeps its
// plan and history.
func runEdit(ctx context.Context, a *app, fs *pflag.FlagSet) error {
	id, err := argID(fs, "card ID")
	if err != nil {
		return err
	}
	if !fs.Changed("question") && !fs.Changed("answer") {
		return errors.New("nothing to change, pass -q and/or -a")
	}

	card, err := a.db.LoadCard(ctx, id)
	if err != nil {
		return err
	}
	if fs.Changed("question") {
		q, _ := fs.GetString("question")
		card.Question = strings.TrimSpace(q)
	}
	if fs.Changed("answer") {
		ans, _ := fs.GetString("answer")
		card.Answer = strings.TrimSpace(ans)
	}
	card.Hash = fingerprint.Card(card)

	err = a.db.UpdateCard(ctx, card)
	if errors.Is(err, storage.ErrDuplicate) {
		return errors.New("an identical card already exists")
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Updated card %d.\n", id)
	return nil
}

func runDelete(ctx context.Context, a *app, fs *pflag.FlagSet) error {
	id, err := argID(fs, "card ID")
	if err != nil {
		return err
	}
	if err := a.db.DeleteCard(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Deleted card %d.\n", id)
	return nil
}

func runSource(ctx context.Context, a *app, fs *pflag.FlagSet) error {
	args := fs.Args()
	if len(args) == 0 {
		return errors.New("usage: source add PATH|URL, source list, source remove ID")
	}

	switch args[0] {
	case "add":
		if len(args) != 2 {
			return errors.New("usage: source add PATH|URL")
		}
		path, typ := args[1], storage.SourceGit
		if !gitsource.IsRemote(path) {
			typ = storage.SourceLocal
			info, err := os.Stat(path)
			if err != nil {
				return fmt.Errorf("cannot use %s as a source: %w", path, err)
			}
			if !info.IsDir() {
				return fmt.Errorf("cannot use %s as a source: not a directory", path)
			}
		}
		src, err := a.db.InsertSource(ctx, path, typ)
		if errors.Is(err, storage.ErrDuplicate) {
			return fmt.Errorf("source %s is already registered", path)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Added %s source %d: %s\n", src.Type, src.ID, src.Path)

	case "list":
		sources, err := a.db.ListSources(ctx)
		if err != nil {
			return err
		}
		if len(sources) == 0 {
			fmt.Fprintln(a.out, "No sources registered.")
			return nil
		}
		for _, src := range sources {
			scanned := "never synced"
			if src.LastScanned != nil {
				scanned = "synced " + humanize.Time(*src.LastScanned)
			}
			fmt.Fprintf(a.out, "%4d  %-5s  %s  (%s)\n", src.ID, src.Type, src.Path, scanned)
		}

	case "remove":
		if len(args) != 2 {
			return errors.New("usage: source remove ID")
		}
		id, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid source ID %q", args[1])
		}
		if err := a.db.DeleteSource(ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Removed source %d.\n", id)

	default:
		return fmt.Errorf("unknown source command %q", args[0])
	}
	return nil
}

func runSync(ctx context.Context, a *app, _ *pflag.FlagSet) error {
	reports, err := a.syncer().Run(ctx)
	if err != nil {
		return err
	}
	if len(reports) == 0 {
		fmt.Fprintln(a.out, "No sources registered.")
		return nil
	}
	failed := 0
	for _, rep := range reports {
		fmt.Fprintf(a.out, "%s: %d cards found, %d added, %d pruned\n",
			rep.Source.Path, rep.Parsed, rep.Added, rep.Pruned)
		for _, e := range rep.Errors {
			fmt.Fprintf(a.out, "  - %v\n", e)
		}
		if len(rep.Errors) > 0 {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d sources had errors", failed, len(reports))
	}
	return nil
}

func runStats(ctx context.Context, a *app, _ *pflag.FlagSet) error {
	cards, err := a.db.ListCards(ctx)
	if err != nil {
		return err
	}
	if len(cards) == 0 {
		fmt.Fprintln(a.out, "No cards yet.")
		return nil
	}
	for _, c := range cards {
		history, err := a.db.CardHistory(ctx, c.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "%4d  %s\n      %s\n", c.ID, firstLine(c.Question), summaryLine(stats.Summarize(history), time.Now()))
	}
	return nil
}

func runExport(ctx context.Context, a *app, fs *pflag.FlagSet) error {
	dir, err := argDir(fs)
	if err != nil {
		return err
	}
	archive, err := csvio.Export(ctx, a.db, dir)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Exported %s cards, %s plans and %s reviews to %s.\n",
		humanize.Comma(int64(len(archive.Cards))),
		humanize.Comma(int64(len(archive.Plans))),
		humanize.Comma(int64(len(archive.Statistics))),
		dir)
	return nil
}

func runRestore(ctx context.Context, a *app, fs *pflag.FlagSet) error {
	dir, err := argDir(fs)
	if err != nil {
		return err
	}
	archive, err := csvio.Import(ctx, a.db, dir)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Restored %s cards, %s plans and %s reviews from %s.\n",
		humanize.Comma(int64(len(archive.Cards))),
		humanize.Comma(int64(len(archive.Plans))),
		humanize.Comma(int64(len(archive.Statistics))),
		dir)
	return nil
}

func argID(fs *pflag.FlagSet, what string) (int64, error) {
	if fs.NArg() != 1 {
		return 0, fmt.Errorf("expected one %s", what)
	}
	id, err := strconv.ParseInt(fs.Arg(0), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", what, fs.Arg(0))
	}
	return id, nil
}

func argDir(fs *pflag.FlagSet) (string, error) {
	if fs.NArg() != 1 {
		return "", errors.New("expected one directory")
	}
	return fs.Arg(0), nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

// summaryLine renders a card's statistics on one line.
func summaryLine(s stats.Summary, now time.Time) string {
	if s.Count == 0 {
		return "never reviewed"
	}
	return fmt.Sprintf("%d reviews, avg rating %.1f, %.0f%% correct, avg time %s, last %s",
		s.Count,
		s.AverageRating,
		s.CorrectRate*100,
		stats.FormatDuration(int64(s.AverageDurationMs)),
		humanize.RelTime(s.LastReviewedAt, now, "ago", "from now"),
	)
}
