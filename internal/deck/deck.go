// Package deck imports cards from markdown deck sources, either local
// directories or git repositories, and keeps the store in step with them.
package deck

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/conorfennell/recallloop/internal/domain"
	"github.com/conorfennell/recallloop/internal/fingerprint"
	"github.com/conorfennell/recallloop/internal/gitsource"
	"github.com/conorfennell/recallloop/internal/parser"
	"github.com/conorfennell/recallloop/internal/storage"
)

// Store is the persistence the syncer needs.
type Store interface {
	ListSources(ctx context.Context) ([]storage.Source, error)
	FindCardByHash(ctx context.Context, hash string) (domain.Card, error)
	InsertCard(ctx context.Context, card domain.Card, sourceID int64) (domain.Card, error)
	CardsBySource(ctx context.Context, sourceID int64) ([]domain.Card, error)
	DeleteCard(ctx context.Context, id int64) error
	MarkSourceScanned(ctx context.Context, id int64, at time.Time) error
}

// FetchFunc brings the clone of a git source at localPath up to date.
type FetchFunc func(ctx context.Context, url, localPath string, log *slog.Logger) error

// Report summarises the sync of one source.
type Report struct {
	Source storage.Source
	Parsed int
	Added  int
	Pruned int
	Errors []error
}

// Syncer reconciles deck sources with the store.
type Syncer struct {
	store    Store
	reposDir string
	prune    bool
	fetch    FetchFunc
	log      *slog.Logger
	now      func() time.Time
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithPrune makes the syncer delete cards that vanished from their source.
// Deleting a card deletes its review history too.
func WithPrune(prune bool) Option {
	return func(s *Syncer) { s.prune = prune }
}

// WithFetch replaces the git fetcher.
func WithFetch(f FetchFunc) Option {
	return func(s *Syncer) { s.fetch = f }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Syncer) { s.log = l }
}

// WithClock sets the time source used for card creation and scan times.
func WithClock(now func() time.Time) Option {
	return func(s *Syncer) { s.now = now }
}

// NewSyncer creates a syncer that clones git sources under reposDir.
func NewSyncer(store Store, reposDir string, opts ...Option) *Syncer {
	s := &Syncer{
		store:    store,
		reposDir: reposDir,
		fetch:    gitsource.Sync,
		log:      slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run syncs every registered source. Problems with one source are recorded
// in its report and do not stop the others.
func (s *Syncer) Run(ctx context.Context) ([]Report, error) {
	sources, err := s.store.ListSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get sources: %w", err)
	}
	if len(sources) == 0 {
		s.log.Info("no sources configured")
		return nil, nil
	}

	reports := make([]Report, 0, len(sources))
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		reports = append(reports, s.SyncSource(ctx, src))
	}
	return reports, nil
}

// SyncSource fetches one source if it is a git repository, imports the
// cards it has not seen before and, when pruning, deletes the ones it no
// longer contains.
func (s *Syncer) SyncSource(ctx context.Context, src storage.Source) Report {
	rep := Report{Source: src}
	log := s.log.With("source_id", src.ID, "type", string(src.Type), "path", src.Path)
	log.Info("syncing source")

	dir := src.Path
	if src.Type == storage.SourceGit {
		local, err := gitsource.LocalPath(s.reposDir, src.Path)
		if err != nil {
			rep.Errors = append(rep.Errors, err)
			return rep
		}
		if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
			rep.Errors = append(rep.Errors, fmt.Errorf("failed to create repos directory: %w", err))
			return rep
		}
		if err := s.fetch(ctx, src.Path, local, log); err != nil {
			rep.Errors = append(rep.Errors, err)
			return rep
		}
		dir = local
	}

	seen, complete, err := s.importDir(ctx, dir, src.ID, &rep)
	if err != nil {
		// Without a complete listing nothing can be called missing.
		rep.Errors = append(rep.Errors, err)
		log.Error("failed to read source", "error", err)
		return rep
	}

	switch {
	case s.prune && !complete:
		log.Warn("skipping prune, some deck files could not be read")
	case s.prune:
		s.pruneMissing(ctx, src.ID, seen, &rep)
	}

	if err := s.store.MarkSourceScanned(ctx, src.ID, s.now()); err != nil {
		log.Warn("failed to update last scanned for source", "error", err)
	}

	log.Info("reconciliation complete",
		"parsed_cards", rep.Parsed,
		"added", rep.Added,
		"pruned", rep.Pruned,
		"errors", len(rep.Errors),
	)
	return rep
}

// importDir walks dir for .md files and inserts cards whose fingerprint is
// new. It returns the set of fingerprints found and whether every deck file
// was read.
func (s *Syncer) importDir(ctx context.Context, dir string, sourceID int64, rep *Report) (map[string]bool, bool, error) {
	seen := make(map[string]bool)
	complete := true
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.EqualFold(filepath.Ext(d.Name()), ".md") {
			return nil
		}

		cards, err := parser.ParseFile(path)
		if err != nil {
			rep.Errors = append(rep.Errors, fmt.Errorf("parsing %s: %w", path, err))
			complete = false
			return nil
		}
		for _, card := range cards {
			rep.Parsed++
			card.Hash = fingerprint.Card(card)
			if seen[card.Hash] {
				continue
			}
			seen[card.Hash] = true

			if err := s.addIfNew(ctx, card, sourceID); err != nil {
				if !errors.Is(err, errExists) {
					rep.Errors = append(rep.Errors, err)
				}
				continue
			}
			rep.Added++
		}
		return ctx.Err()
	})
	if err != nil {
		return nil, false, fmt.Errorf("walking %s: %w", dir, err)
	}
	return seen, complete, nil
}

var errExists = errors.New("card already stored")

func (s *Syncer) addIfNew(ctx context.Context, card domain.Card, sourceID int64) error {
	_, err := s.store.FindCardByHash(ctx, card.Hash)
	switch {
	case err == nil:
		return errExists
	case !errors.Is(err, domain.ErrNotFound):
		return fmt.Errorf("db check for %s: %w", card.Hash, err)
	}

	card.CreatedAt = s.now()
	if _, err := s.store.InsertCard(ctx, card, sourceID); err != nil {
		return fmt.Errorf("db insert for %s: %w", card.Hash, err)
	}
	s.log.Debug("new card imported", "hash", card.Hash)
	return nil
}

func (s *Syncer) pruneMissing(ctx context.Context, sourceID int64, seen map[string]bool, rep *Report) {
	stored, err := s.store.CardsBySource(ctx, sourceID)
	if err != nil {
		rep.Errors = append(rep.Errors, fmt.Errorf("listing cards of source %d: %w", sourceID, err))
		return
	}
	for _, card := range stored {
		if seen[card.Hash] {
			continue
		}
		if err := s.store.DeleteCard(ctx, card.ID); err != nil {
			rep.Errors = append(rep.Errors, fmt.Errorf("deleting card %d: %w", card.ID, err))
			continue
		}
		s.log.Info("orphaned card deleted", "card_id", card.ID, "hash", card.Hash)
		rep.Pruned++
	}
}
