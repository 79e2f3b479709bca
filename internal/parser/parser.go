// Package parser reads flashcards from markdown deck files.
//
// A card starts at a line beginning with "Q:" and its answer at a line
// beginning with "A:". Following lines continue whichever block is open,
// and a line holding only "---" closes the card. Cards missing either
// side are skipped.
package parser

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/conorfennell/recallloop/internal/domain"
)

const (
	questionPrefix = "Q:"
	answerPrefix   = "A:"
	separator      = "---"
)

type block int

const (
	none block = iota
	question
	answer
)

// ParseFile reads the deck file at path.
func ParseFile(path string) ([]domain.Card, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return Parse(f)
}

// Parse extracts every complete card from r.
func Parse(r io.Reader) ([]domain.Card, error) {
	p := &deckParser{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		p.line(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	p.endCard()
	return p.cards, nil
}

type deckParser struct {
	cards   []domain.Card
	current domain.Card
	open    block
	lines   []string
}

func (p *deckParser) line(l string) {
	switch {
	case strings.TrimSpace(l) == separator:
		p.endCard()
	case strings.HasPrefix(l, questionPrefix):
		p.endCard()
		p.startBlock(question, l[len(questionPrefix):])
	case strings.HasPrefix(l, answerPrefix) && p.open != none:
		p.closeBlock()
		p.startBlock(answer, l[len(answerPrefix):])
	case p.open != none:
		p.lines = append(p.lines, l)
	}
}

func (p *deckParser) startBlock(b block, first string) {
	p.open = b
	p.lines = append(p.lines[:0], strings.TrimPrefix(first, " "))
}

// closeBlock stores the open block's text on the current card.
func (p *deckParser) closeBlock() {
	text := strings.TrimSpace(strings.Join(p.lines, "\n"))
	switch p.open {
	case question:
		p.current.Question = text
	case answer:
		p.current.Answer = text
	}
	p.lines = p.lines[:0]
	p.open = none
}

func (p *deckParser) endCard() {
	p.closeBlock()
	if p.current.Question != "" && p.current.Answer != "" {
		p.cards = append(p.cards, p.current)
	}
	p.current = domain.Card{}
}
