// Package alias defines the Hide My Email domain types shared by the
// browser adapter, the confirmation gate and the drain loop.
package alias

import "fmt"

// Section identifies which list an operation works on.
type Section string

const (
	Active   Section = "active"
	Inactive Section = "inactive"
)

// Item is one alias row as rendered by the page. It is a plain value and is
// rebuilt on every query.
type Item struct {
	Address string `json:"address"`
	Label   string `json:"label,omitempty"`
}

// DisplayName returns "address → label", or just the address when unlabeled.
func (i Item) DisplayName() string {
	if i.Label != "" {
		return i.Address + " → " + i.Label
	}
	return i.Address
}

// Listing is the result of one query against a section.
type Listing struct {
	Total    int // overall count from the section header, normalized
	Relevant int // count after the filter (visible rows)
	Items    []Item
}

// Empty reports whether there is nothing left to act on.
func (l Listing) Empty() bool {
	return l.Total == 0 || l.Relevant == 0 || len(l.Items) == 0
}

// ActionKind is the discriminator of Action.
type ActionKind int

const (
	KindDeactivate ActionKind = iota + 1
	KindDelete
)

// Action describes one kind of per-item mutation.
type Action struct {
	Kind        ActionKind
	Section     Section
	Verb        string // "deactivate"
	Past        string // "deactivated"
	ButtonText  string // text of the button revealed after expanding a row
	ConfirmText string // label of the confirmation dialog button
	Destructive bool
}

var (
	Deactivate = Action{
		Kind:        KindDeactivate,
		Section:     Active,
		Verb:        "deactivate",
		Past:        "deactivated",
		ButtonText:  "Deactivate email address",
		ConfirmText: "Deactivate",
	}
	Delete = Action{
		Kind:        KindDelete,
		Section:     Inactive,
		Verb:        "delete",
		Past:        "deleted",
		ButtonText:  "Delete address",
		ConfirmText: "Delete",
		Destructive: true,
	}
)

func (a Action) String() string { return a.Verb }

// Mode is the operation chosen from the main menu.
type Mode string

const (
	ModeDeactivate Mode = "1"
	ModeDelete     Mode = "2"
	ModePurge      Mode = "3"
	ModePreview    Mode = "4"
	ModeExit       Mode = "5"
)

// Modes lists every mode in menu order.
var Modes = []Mode{ModeDeactivate, ModeDelete, ModePurge, ModePreview, ModeExit}

// ParseMode maps a menu key to a Mode.
func ParseMode(s string) (Mode, error) {
	for _, m := range Modes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

func (m Mode) String() string {
	switch m {
	case ModeDeactivate:
		return "deactivate"
	case ModeDelete:
		return "delete"
	case ModePurge:
		return "purge"
	case ModePreview:
		return "preview"
	case ModeExit:
		return "exit"
	}
	return "unknown"
}

// Destructive reports whether the mode permanently removes aliases.
func (m Mode) Destructive() bool {
	return m == ModeDelete || m == ModePurge
}
