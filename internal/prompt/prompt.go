// Package prompt reads validated answers from the operator.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/peterh/liner"
)

// ErrAborted is returned when the operator aborts a prompt (Ctrl+C, EOF).
var ErrAborted = errors.New("prompt aborted")

// LineReader reads one line after showing a prompt.
type LineReader interface {
	ReadLine(prompt string) (string, error)
	Close() error
}

// Prompter asks questions and validates the answers.
type Prompter struct {
	in  LineReader
	out io.Writer
}

// New wraps a LineReader. Validation messages go to out.
func New(in LineReader, out io.Writer) *Prompter {
	return &Prompter{in: in, out: out}
}

// NewTerminal uses liner line editing when stdin is a terminal and falls back
// to plain buffered reads otherwise (pipes, CI).
func NewTerminal() *Prompter {
	if isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		return New(newLinerReader(), os.Stdout)
	}
	return New(NewReader(os.Stdin, os.Stdout), os.Stdout)
}

// Close releases the terminal.
func (p *Prompter) Close() error { return p.in.Close() }

// Choose repeats question until the answer is one of options
// (case-insensitive) and returns it lower-cased.
func (p *Prompter) Choose(question string, options []string) (string, error) {
	for {
		line, err := p.in.ReadLine(question)
		if err != nil {
			return "", err
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		for _, o := range options {
			if answer == strings.ToLower(o) {
				return answer, nil
			}
		}
		fmt.Fprintf(p.out, "Invalid input. Please enter one of: %s\n", strings.Join(options, ", "))
	}
}

// Confirm asks a yes/no question.
func (p *Prompter) Confirm(question string) (bool, error) {
	answer, err := p.Choose(question, []string{"yes", "y", "no", "n"})
	if err != nil {
		return false, err
	}
	return answer == "yes" || answer == "y", nil
}

// Text returns the trimmed answer, which may be empty.
func (p *Prompter) Text(question string) (string, error) {
	line, err := p.in.ReadLine(question)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// RequiredText repeats question until a non-empty answer is given.
func (p *Prompter) RequiredText(question, emptyMsg string) (string, error) {
	for {
		s, err := p.Text(question)
		if err != nil {
			return "", err
		}
		if s != "" {
			return s, nil
		}
		fmt.Fprintln(p.out, emptyMsg)
	}
}

// Reader reads lines from any io.Reader, echoing prompts to out.
type Reader struct {
	r   *bufio.Reader
	out io.Writer
}

// NewReader creates a Reader.
func NewReader(r io.Reader, out io.Writer) *Reader {
	return &Reader{r: bufio.NewReader(r), out: out}
}

func (r *Reader) ReadLine(prompt string) (string, error) {
	fmt.Fprint(r.out, prompt)
	line, err := r.r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimRight(line, "\r\n"), nil
		}
		if errors.Is(err, io.EOF) {
			return "", ErrAborted
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (r *Reader) Close() error { return nil }

type linerReader struct {
	state *liner.State
}

func newLinerReader() *linerReader {
	st := liner.NewLiner()
	st.SetCtrlCAborts(true)
	return &linerReader{state: st}
}

// ReadLine shows prompt on its last line only; liner redraws a single line,
// so any leading lines of a multi-line prompt are printed first.
func (l *linerReader) ReadLine(prompt string) (string, error) {
	if i := strings.LastIndex(prompt, "\n"); i >= 0 {
		fmt.Print(prompt[:i+1])
		prompt = prompt[i+1:]
	}
	line, err := l.state.Prompt(prompt)
	if err != nil {
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			return "", ErrAborted
		}
		return "", err
	}
	if strings.TrimSpace(line) != "" {
		l.state.AppendHistory(line)
	}
	return line, nil
}

func (l *linerReader) Close() error { return l.state.Close() }
