// Package app is the interactive operator console: the main menu, the
// filter prompt, and the deactivate, delete, purge and preview flows.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/hme-tools/hme/internal/alias"
	"github.com/hme-tools/hme/internal/drain"
	"github.com/hme-tools/hme/internal/gate"
	"github.com/hme-tools/hme/internal/history"
	"github.com/hme-tools/hme/internal/prompt"
	"github.com/hme-tools/hme/internal/ui"
)

// Prompter asks the operator questions. *prompt.Prompter implements it.
type Prompter interface {
	Choose(question string, options []string) (string, error)
	Confirm(question string) (bool, error)
	Text(question string) (string, error)
	RequiredText(question, emptyMsg string) (string, error)
}

// Resetter brings the Hide My Email view back to its initial state between
// operations.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Recorder persists operations. *history.Store implements it.
type Recorder interface {
	StartOperation(mode alias.Mode, filter string) (*history.Operation, error)
	RecordAlias(opID string, action alias.Action, item alias.Item) error
	FinishOperation(op *history.Operation) error
}

// Options configure a Console. Reset and History may be nil.
type Options struct {
	Gate         gate.Options
	Drain        drain.Options
	RateInterval int  // print the processing rate every N items (5)
	Headless     bool // only changes the "Starting ..." banner
	Reset        Resetter
	History      Recorder
	Logger       *zap.Logger
}

// Console runs operations chosen from the main menu against one page.
type Console struct {
	page drain.Page
	ask  Prompter
	out  io.Writer
	gate *gate.Gate
	opts Options
	log  *zap.Logger
}

// New creates a Console.
func New(page drain.Page, ask Prompter, out io.Writer, opts Options) *Console {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if opts.RateInterval <= 0 {
		opts.RateInterval = 5
	}
	if opts.Drain.Logger == nil {
		opts.Drain.Logger = log
	}
	return &Console{
		page: page,
		ask:  ask,
		out:  out,
		gate: gate.New(out, ask, opts.Gate, log),
		opts: opts,
		log:  log,
	}
}

const menu = "Select a mode:\n" +
	"1. Deactivate active emails\n" +
	"2. Permanently delete inactive emails\n" +
	"3. Purge mode (deactivate then delete)\n" +
	"4. Preview mode (view emails without changes)\n" +
	"5. Exit\n" +
	"Enter choice (1, 2, 3, 4, or 5): "

// Run shows the main menu until the operator exits, declines another
// operation, aborts a prompt or ctx is cancelled. Failed operations are
// reported and the operator may start another one.
func (c *Console) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		keys := make([]string, len(alias.Modes))
		for i, m := range alias.Modes {
			keys[i] = string(m)
		}
		fmt.Fprintln(c.out)
		key, err := c.ask.Choose(menu, keys)
		if err != nil {
			return err
		}
		mode, err := alias.ParseMode(key)
		if err != nil {
			return err
		}
		if mode == alias.ModeExit {
			fmt.Fprintln(c.out, "Exiting... Thank you for using Hide My Email Manager!")
			return nil
		}

		if err := c.RunMode(ctx, mode); err != nil {
			if errors.Is(err, prompt.ErrAborted) || ctx.Err() != nil {
				return err
			}
			c.log.Error("operation failed", zap.Stringer("mode", mode), zap.Error(err))
			fmt.Fprintln(c.out, "\n--- ERROR ---")
			fmt.Fprintf(c.out, "An error occurred: %v\n", err)
		}

		again, err := c.askContinue()
		if err != nil || !again {
			return err
		}
		if c.opts.Reset != nil {
			if err := c.opts.Reset.Reset(ctx); err != nil {
				c.log.Warn("interface reset failed", zap.Error(err))
			}
		}
	}
}

// RunMode runs a single operation.
func (c *Console) RunMode(ctx context.Context, mode alias.Mode) error {
	c.log.Info("operation selected", zap.Stringer("mode", mode))
	switch mode {
	case alias.ModeDeactivate:
		_, err := c.single(ctx, mode, alias.Deactivate)
		return err
	case alias.ModeDelete:
		_, err := c.single(ctx, mode, alias.Delete)
		return err
	case alias.ModePurge:
		_, err := c.purge(ctx)
		return err
	case alias.ModePreview:
		return c.preview(ctx)
	}
	return fmt.Errorf("mode %s cannot be run", mode)
}

// askFilter returns the search term, or "" when the operator wants every
// email.
func (c *Console) askFilter() (string, error) {
	use, err := c.ask.Confirm("Do you want to filter by a specific search term?\n" +
		"(Searches both email addresses and labels/notes)\n" +
		"Enter (yes/no): ")
	if err != nil {
		return "", err
	}
	if !use {
		fmt.Fprintln(c.out, "No search filter will be applied - processing all emails...")
		return "", nil
	}
	term, err := c.ask.RequiredText("Enter the search term for emails to filter/purge: ", "Search term cannot be empty.")
	if err != nil {
		return "", err
	}
	fmt.Fprintf(c.out, "Will filter for emails containing '%s'...\n", term)
	return term, nil
}

func (c *Console) askContinue() (bool, error) {
	ui.Header(c.out, "")
	again, err := c.ask.Confirm("Would you like to perform another operation? (yes/no): ")
	if err != nil {
		return false, err
	}
	if !again {
		fmt.Fprintln(c.out, "Script finished.")
		return false, nil
	}
	ui.Header(c.out, "Returning to main menu...")
	return true, nil
}

// AskHeadless offers to continue without a visible browser window.
func AskHeadless(ask Prompter, out io.Writer) (bool, error) {
	ui.Header(out, "HEADLESS MODE OPTION")
	fmt.Fprintln(out, "Headless mode runs the browser in the background (no visible window).")
	fmt.Fprintln(out, "This can be less distracting and may run slightly faster.")
	fmt.Fprintln(out, "Note: You won't be able to see what's happening.")
	ui.Rule(out)

	yes, err := ask.Confirm("Would you like to switch to headless mode? (yes/no): ")
	if err != nil {
		return false, err
	}
	if yes {
		fmt.Fprintln(out, "Switching to headless mode...")
	} else {
		fmt.Fprintln(out, "Continuing with visible browser window...")
	}
	return yes, nil
}

// listing narrows section to filter, when set, and queries it.
func (c *Console) listing(ctx context.Context, section alias.Section, filter string) (alias.Listing, error) {
	if filter != "" {
		if err := c.page.ApplyFilter(ctx, section, filter); err != nil {
			return alias.Listing{}, fmt.Errorf("failed to filter %s emails: %w", section, err)
		}
	}
	l, err := c.page.Query(ctx, section)
	if err != nil {
		return alias.Listing{}, fmt.Errorf("failed to list %s emails: %w", section, err)
	}
	return l, nil
}
