package prompt

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func newTestPrompter(input string) (*Prompter, *bytes.Buffer) {
	var out bytes.Buffer
	return New(NewReader(strings.NewReader(input), &out), &out), &out
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"yes\n", true},
		{"Y\n", true},
		{"no\n", false},
		{"  n  \n", false},
	}
	for _, tt := range tests {
		p, _ := newTestPrompter(tt.input)
		got, err := p.Confirm("Proceed? ")
		if err != nil {
			t.Fatalf("Confirm(%q) error: %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("Confirm(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestConfirmRepromptsOnInvalidInput(t *testing.T) {
	p, out := newTestPrompter("maybe\nsure\nyes\n")
	got, err := p.Confirm("Proceed? ")
	if err != nil || !got {
		t.Fatalf("Confirm() = %v, %v", got, err)
	}
	if n := strings.Count(out.String(), "Invalid input"); n != 2 {
		t.Errorf("expected 2 invalid input messages, got %d:\n%s", n, out.String())
	}
	if n := strings.Count(out.String(), "Proceed? "); n != 3 {
		t.Errorf("expected prompt shown 3 times, got %d", n)
	}
}

func TestConfirmEOF(t *testing.T) {
	p, _ := newTestPrompter("")
	if _, err := p.Confirm("Proceed? "); !errors.Is(err, ErrAborted) {
		t.Errorf("err = %v, want ErrAborted", err)
	}
}

func TestChoose(t *testing.T) {
	p, _ := newTestPrompter("7\n3\n")
	got, err := p.Choose("Mode: ", []string{"1", "2", "3"})
	if err != nil || got != "3" {
		t.Errorf("Choose() = %q, %v", got, err)
	}
}

func TestRequiredText(t *testing.T) {
	p, out := newTestPrompter("\n   \nshopping\n")
	got, err := p.RequiredText("Search term: ", "Search term cannot be empty.")
	if err != nil || got != "shopping" {
		t.Fatalf("RequiredText() = %q, %v", got, err)
	}
	if n := strings.Count(out.String(), "cannot be empty"); n != 2 {
		t.Errorf("expected 2 empty messages, got %d", n)
	}
}

func TestReaderLastLineWithoutNewline(t *testing.T) {
	p, _ := newTestPrompter("no")
	got, err := p.Confirm("? ")
	if err != nil || got {
		t.Errorf("Confirm() = %v, %v", got, err)
	}
}
