package fingerprint

import (
	"testing"

	"github.com/conorfennell/recallloop/internal/domain"
)

func TestNormalize(t *testing.T) {
	expected := "what is htmx?\na library for ajax."
	normalized := Normalize("  What is HTMX? \r\n", "A library for AJAX.")

	if normalized != expected {
		t.Errorf("Expected normalized string to be '%s', but got '%s'", expected, normalized)
	}
}

func TestOf(t *testing.T) {
	t.Run("generates correct hash", func(t *testing.T) {
		// sha256 of "q\na"
		expected := "27d2d5c8276a1f606af38834a9294ae5d3bfc6c5097c03e3fdd6e8c5c37e2ba7"
		if got := Of("Q", "A"); got != expected {
			t.Errorf("Expected hash '%s', but got '%s'", expected, got)
		}
	})

	t.Run("normalization produces same hash", func(t *testing.T) {
		a := Of("  What is HTMX? \r\n", "A library for AJAX.")
		b := Of("what is htmx?", "a library for ajax.")
		if a != b {
			t.Error("Expected cosmetic differences to produce the same hash")
		}
		if a != "65268830061dac567839a3cd5d75a7138e503d0a5aa7a316643c4ff3c90a7209" {
			t.Errorf("Unexpected hash '%s'", a)
		}
	})

	t.Run("field boundary matters", func(t *testing.T) {
		if Of("ab", "c") == Of("a", "bc") {
			t.Error("Expected different splits of the same text to hash differently")
		}
	})

	t.Run("card ignores stored hash", func(t *testing.T) {
		c := domain.Card{Question: "Q", Answer: "A", Hash: "stale"}
		if Card(c) != Of("Q", "A") {
			t.Error("Expected Card to hash the text only")
		}
	})
}
