// Package csvio exports the whole database to three CSV files and restores
// it from them. Files are UTF-8 with a byte order mark and CRLF line
// endings so spreadsheet programs open them cleanly. Newlines inside text
// are written as a literal \n.
package csvio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/conorfennell/recallloop/internal/domain"
)

// File names inside an archive directory.
const (
	CardsFile      = "cards.csv"
	PlansFile      = "review_plan.csv"
	StatisticsFile = "review_statistic.csv"
)

var (
	cardHeader      = []string{"id", "question", "answer", "created_at", "hash"}
	planHeader      = []string{"id", "card_id", "planned_on", "reviewed_on", "rating", "interval_days", "repeats", "ease_factor"}
	statisticHeader = []string{"id", "card_id", "reviewed_at", "duration_ms", "correct", "rating", "notes"}
)

var bom = []byte{0xEF, 0xBB, 0xBF}

// Archive is the full content of a database.
type Archive struct {
	Cards      []domain.Card
	Plans      []domain.ReviewPlan
	Statistics []domain.ReviewStatistic
}

// Source lists everything an export needs.
type Source interface {
	ListCards(ctx context.Context) ([]domain.Card, error)
	ListPlans(ctx context.Context) ([]domain.ReviewPlan, error)
	ListStatistics(ctx context.Context) ([]domain.ReviewStatistic, error)
}

// Restorer replaces the whole database in one step.
type Restorer interface {
	ReplaceAll(ctx context.Context, cards []domain.Card, plans []domain.ReviewPlan, stats []domain.ReviewStatistic) error
}

// Export writes the content of src into dir, creating it if needed.
func Export(ctx context.Context, src Source, dir string) (Archive, error) {
	var (
		a   Archive
		err error
	)
	if a.Cards, err = src.ListCards(ctx); err != nil {
		return Archive{}, err
	}
	if a.Plans, err = src.ListPlans(ctx); err != nil {
		return Archive{}, err
	}
	if a.Statistics, err = src.ListStatistics(ctx); err != nil {
		return Archive{}, err
	}
	return a, Write(dir, a)
}

// Import reads the archive in dir and replaces everything in dst with it.
// dst is left untouched when the archive cannot be read.
func Import(ctx context.Context, dst Restorer, dir string) (Archive, error) {
	a, err := Read(dir)
	if err != nil {
		return Archive{}, err
	}
	if err := dst.ReplaceAll(ctx, a.Cards, a.Plans, a.Statistics); err != nil {
		return Archive{}, fmt.Errorf("failed to restore archive: %w", err)
	}
	return a, nil
}

// Write stores a in dir as three CSV files.
func Write(dir string, a Archive) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create export folder: %w", err)
	}

	cards := make([][]string, 0, len(a.Cards))
	for _, c := range a.Cards {
		cards = append(cards, []string{
			formatID(c.ID),
			escape(c.Question),
			escape(c.Answer),
			domain.FormatTimestamp(c.CreatedAt),
			c.Hash,
		})
	}

	plans := make([][]string, 0, len(a.Plans))
	for _, p := range a.Plans {
		var reviewedOn string
		if p.ReviewedOn != nil {
			reviewedOn = domain.FormatDate(*p.ReviewedOn)
		}
		plans = append(plans, []string{
			formatID(p.ID),
			formatID(p.CardID),
			domain.FormatDate(p.PlannedOn),
			reviewedOn,
			formatOptional(p.Rating),
			formatOptional(p.IntervalDays),
			strconv.Itoa(p.Repeats),
			strconv.FormatFloat(p.Ease(), 'f', -1, 64),
		})
	}

	stats := make([][]string, 0, len(a.Statistics))
	for _, s := range a.Statistics {
		stats = append(stats, []string{
			formatID(s.ID),
			formatID(s.CardID),
			domain.FormatTimestamp(s.ReviewedAt),
			strconv.FormatInt(s.DurationMs, 10),
			strconv.FormatBool(s.Correct),
			strconv.Itoa(s.Rating),
			escape(s.Note),
		})
	}

	for _, f := range []struct {
		name   string
		header []string
		rows   [][]string
	}{
		{CardsFile, cardHeader, cards},
		{PlansFile, planHeader, plans},
		{StatisticsFile, statisticHeader, stats},
	} {
		if err := writeFile(filepath.Join(dir, f.name), f.header, f.rows); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(path string, header []string, rows [][]string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close %s: %w", path, cerr)
		}
	}()

	bw := bufio.NewWriter(f)
	if _, err := bw.Write(bom); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	w := csv.NewWriter(bw)
	w.UseCRLF = true
	if err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return bw.Flush()
}

// Read parses the three CSV files in dir. Columns are matched by header
// name; an empty cell stands for a missing value.
func Read(dir string) (Archive, error) {
	var missing []string
	for _, name := range []string{CardsFile, PlansFile, StatisticsFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); errors.Is(err, os.ErrNotExist) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return Archive{}, fmt.Errorf("folder must contain %s; missing %s",
			strings.Join([]string{CardsFile, PlansFile, StatisticsFile}, ", "),
			strings.Join(missing, ", "))
	}

	var a Archive
	err := readFile(filepath.Join(dir, CardsFile), cardHeader[:4], func(r record) error {
		c := domain.Card{
			Question: r.text("question"),
			Answer:   r.text("answer"),
			Hash:     r.get("hash"),
		}
		var err error
		if c.ID, err = r.int64("id"); err != nil {
			return err
		}
		if c.CreatedAt, err = r.time("created_at"); err != nil {
			return err
		}
		if err := c.Validate(); err != nil {
			return err
		}
		a.Cards = append(a.Cards, c)
		return nil
	})
	if err != nil {
		return Archive{}, err
	}

	err = readFile(filepath.Join(dir, PlansFile), planHeader, func(r record) error {
		var (
			p   domain.ReviewPlan
			err error
		)
		if p.ID, err = r.int64("id"); err != nil {
			return err
		}
		if p.CardID, err = r.int64("card_id"); err != nil {
			return err
		}
		if p.PlannedOn, err = r.time("planned_on"); err != nil {
			return err
		}
		if r.get("reviewed_on") != "" {
			d, err := r.time("reviewed_on")
			if err != nil {
				return err
			}
			p.ReviewedOn = &d
		}
		if p.Rating, err = r.optionalInt("rating"); err != nil {
			return err
		}
		if p.IntervalDays, err = r.optionalInt("interval_days"); err != nil {
			return err
		}
		if p.Repeats, err = r.int("repeats"); err != nil {
			return err
		}
		if p.EaseFactor, err = r.float("ease_factor"); err != nil {
			return err
		}
		p.PlannedOn = domain.Day(p.PlannedOn)
		if err := p.Validate(); err != nil {
			return err
		}
		a.Plans = append(a.Plans, p)
		return nil
	})
	if err != nil {
		return Archive{}, err
	}

	err = readFile(filepath.Join(dir, StatisticsFile), statisticHeader, func(r record) error {
		var (
			s   domain.ReviewStatistic
			err error
		)
		if s.ID, err = r.int64("id"); err != nil {
			return err
		}
		if s.CardID, err = r.int64("card_id"); err != nil {
			return err
		}
		if s.ReviewedAt, err = r.time("reviewed_at"); err != nil {
			return err
		}
		ms, err := r.int("duration_ms")
		if err != nil {
			return err
		}
		s.DurationMs = int64(ms)
		if s.Correct, err = r.bool("correct"); err != nil {
			return err
		}
		if s.Rating, err = r.int("rating"); err != nil {
			return err
		}
		s.Note = r.text("notes")
		if err := s.Validate(); err != nil {
			return err
		}
		a.Statistics = append(a.Statistics, s)
		return nil
	})
	if err != nil {
		return Archive{}, err
	}
	return a, nil
}

func readFile(path string, required []string, row func(record) error) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, bom)))

	header, err := r.Read()
	if err != nil {
		return fmt.Errorf("%s: failed to read header: %w", filepath.Base(path), err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, name := range required {
		if _, ok := cols[name]; !ok {
			return fmt.Errorf("%s: missing column %q", filepath.Base(path), name)
		}
	}

	for line := 2; ; line++ {
		fields, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		if err := row(record{cols: cols, fields: fields}); err != nil {
			return fmt.Errorf("%s line %d: %w", filepath.Base(path), line, err)
		}
	}
}

type record struct {
	cols   map[string]int
	fields []string
}

func (r record) get(name string) string {
	i, ok := r.cols[name]
	if !ok || i >= len(r.fields) {
		return ""
	}
	return strings.TrimSpace(r.fields[i])
}

// text reads a free-text cell verbatim apart from unescaping.
func (r record) text(name string) string {
	i, ok := r.cols[name]
	if !ok || i >= len(r.fields) {
		return ""
	}
	return unescape(r.fields[i])
}

func (r record) int64(name string) (int64, error) {
	v, err := strconv.ParseInt(r.get(name), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("column %s: %w", name, err)
	}
	return v, nil
}

// int reads a count; an empty cell is zero.
func (r record) int(name string) (int, error) {
	s := r.get(name)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("column %s: %w", name, err)
	}
	return v, nil
}

func (r record) optionalInt(name string) (*int, error) {
	s := r.get(name)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil, fmt.Errorf("column %s: %w", name, err)
	}
	return &v, nil
}

func (r record) float(name string) (float64, error) {
	s := r.get(name)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("column %s: %w", name, err)
	}
	return v, nil
}

func (r record) bool(name string) (bool, error) {
	switch strings.ToLower(r.get(name)) {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no", "":
		return false, nil
	default:
		return false, fmt.Errorf("column %s: not a boolean: %q", name, r.get(name))
	}
}

// time accepts a timestamp, an ISO date-time or a bare date.
func (r record) time(name string) (time.Time, error) {
	s := r.get(name)
	if s == "" {
		return time.Time{}, fmt.Errorf("column %s is empty", name)
	}
	if t, err := domain.ParseTimestamp(s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", s, time.UTC); err == nil {
		return t, nil
	}
	if t, err := domain.ParseDate(s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("column %s: unrecognised time %q", name, s)
}

var escaper = strings.NewReplacer(`\`, `\\`, "\r", `\r`, "\n", `\n`)

// escape keeps every cell on one line: backslash, CR and LF are written as
// \\, \r and \n.
func escape(s string) string {
	return escaper.Replace(s)
}

// unescape reverses escape. A backslash before any other character is kept
// as it is.
func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 == len(s) {
			b.WriteByte(s[i])
			continue
		}
		switch s[i+1] {
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte(s[i])
			continue
		}
		i++
	}
	return b.String()
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func formatOptional(p *int) string {
	if p == nil {
		return ""
	}
	return strconv.Itoa(*p)
}
