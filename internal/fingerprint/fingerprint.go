// Package fingerprint derives a stable identity for a card from its text,
// so re-importing a deck recognises cards it has already seen.
package fingerprint

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/conorfennell/recallloop/internal/domain"
)

// Normalize joins the question and answer after lowercasing, trimming and
// converting CRLF line endings, so cosmetic edits keep the same fingerprint.
func Normalize(question, answer string) string {
	clean := func(s string) string {
		s = strings.ReplaceAll(s, "\r\n", "\n")
		return strings.TrimSpace(strings.ToLower(s))
	}
	// The newline keeps "ab"+"c" apart from "a"+"bc".
	return clean(question) + "\n" + clean(answer)
}

// Of returns the hex SHA-256 of the normalised card text.
func Of(question, answer string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(Normalize(question, answer))))
}

// Card returns the fingerprint of c, ignoring any hash it already carries.
func Card(c domain.Card) string {
	return Of(c.Question, c.Answer)
}
