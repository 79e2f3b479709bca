package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/conorfennell/recallloop/internal/domain"
	"github.com/conorfennell/recallloop/internal/review"
)

const reviewHelp = `Commands:
  r                 reveal the answer
  0-5 [y|n] [note]  rate the card, optionally marking it correct or not and adding a note
  n, b              skip to the next or back to the previous card
  p                 pause or resume the timer
  t                 show the time spent on this card
  q                 end the session
`

var errUnknownInput = errors.New("unknown command, type ? for help")

// terminal drives a review session from line-based input.
type terminal struct {
	session *review.Session
	passing int
	now     func() time.Time
	in      io.Reader
	out     io.Writer
}

func (t *terminal) run(ctx context.Context) error {
	if err := t.session.Start(ctx); err != nil {
		return err
	}
	if t.session.Reason() == review.NothingDue {
		fmt.Fprintln(t.out, "Nothing is due today.")
		return nil
	}

	fmt.Fprint(t.out, reviewHelp)
	t.show()

	sc := bufio.NewScanner(t.in)
	for t.session.IsRunning() {
		fmt.Fprint(t.out, "> ")
		if !sc.Scan() {
			t.session.Finish()
			fmt.Fprintln(t.out)
			break
		}
		err := t.handle(ctx, strings.TrimSpace(sc.Text()))
		var persistErr *review.PersistenceError
		switch {
		case err == nil:
		case errors.As(err, &persistErr):
			fmt.Fprintf(t.out, "Could not save the review, try again: %v\n", persistErr.Err)
		case errors.Is(err, review.ErrInvalidState), errors.Is(err, errUnknownInput), errors.Is(err, errBadRating):
			fmt.Fprintln(t.out, err)
		default:
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	fmt.Fprintf(t.out, "Session %s: %d cards reviewed.\n", t.session.Reason(), t.session.Reviewed())
	return nil
}

var errBadRating = fmt.Errorf("rating must be between %d and %d", domain.MinRating, domain.MaxRating)

func (t *terminal) handle(ctx context.Context, line string) error {
	switch line {
	case "":
		return nil
	case "?", "h", "help":
		fmt.Fprint(t.out, reviewHelp)
		return nil
	case "r":
		if err := t.session.Reveal(); err != nil {
			return err
		}
		t.show()
		return nil
	case "p":
		t.session.TogglePause()
		if t.session.IsPaused() {
			fmt.Fprintf(t.out, "Paused at %s.\n", t.session.ElapsedDisplay())
		} else {
			fmt.Fprintln(t.out, "Resumed.")
		}
		return nil
	case "t":
		fmt.Fprintf(t.out, "%s on this card.\n", t.session.ElapsedDisplay())
		return nil
	case "n", "b":
		delta := 1
		if line == "b" {
			delta = -1
		}
		if err := t.session.Navigate(ctx, delta); err != nil {
			return err
		}
		t.show()
		return nil
	case "q":
		t.session.Finish()
		return nil
	}

	sub, err := t.parseRating(line)
	if err != nil {
		return err
	}
	if err := t.session.Rate(ctx, sub); err != nil {
		return err
	}
	if t.session.IsRunning() {
		t.show()
	}
	return nil
}

// parseRating reads "RATING [y|n] [note...]". Without y or n a rating at or
// above the passing rating counts as correct. The note keeps its spacing.
func (t *terminal) parseRating(line string) (review.Submission, error) {
	ratingText, rest := cutField(line)
	rating, err := strconv.Atoi(ratingText)
	if err != nil {
		return review.Submission{}, errUnknownInput
	}
	if rating < domain.MinRating || rating > domain.MaxRating {
		return review.Submission{}, errBadRating
	}

	sub := review.Submission{Rating: rating, Correct: rating >= t.passing}
	if flag, after := cutField(rest); strings.EqualFold(flag, "y") || strings.EqualFold(flag, "n") {
		sub.Correct = strings.EqualFold(flag, "y")
		rest = after
	}
	sub.Note = strings.TrimLeftFunc(rest, unicode.IsSpace)
	return sub, nil
}

// cutField splits off the first whitespace-separated word of s.
func cutField(s string) (field, rest string) {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	i := strings.IndexFunc(s, unicode.IsSpace)
	if i < 0 {
		return s, ""
	}
	return s[:i], s[i:]
}

func (t *terminal) show() {
	card, ok := t.session.CurrentCard()
	if !ok {
		return
	}
	pos, total := t.session.Progress()
	fmt.Fprintf(t.out, "\n[%d/%d] %s\n", pos, total, summaryLine(t.session.Summary(), t.now()))
	if err := t.session.CardError(); err != nil {
		fmt.Fprintf(t.out, "warning: %v\n", err)
	}
	fmt.Fprintf(t.out, "Q: %s\n", card.Question)
	if card.AnswerVisible {
		fmt.Fprintf(t.out, "A: %s\n", card.Answer)
	}
}
