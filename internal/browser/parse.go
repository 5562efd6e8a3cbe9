package browser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/hme-tools/hme/internal/alias"
	"github.com/hme-tools/hme/internal/config"
)

// ParseTotal reads the count from a section header such as "12 addresses"
// or "No inactive addresses".
func ParseTotal(header string) (int, error) {
	fields := strings.Fields(header)
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty section header")
	}
	first := strings.ToLower(fields[0])
	if first == "no" {
		return 0, nil
	}
	n, err := strconv.Atoi(strings.ReplaceAll(first, ",", ""))
	if err != nil {
		return 0, fmt.Errorf("unexpected section header %q", header)
	}
	return n, nil
}

// ParseSection extracts the alias rows from the outer HTML of a list
// section, in page order. Rows without an address are skipped.
func ParseSection(html string, sel config.Selectors) ([]alias.Item, error) {
	if strings.TrimSpace(html) == "" {
		return nil, nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse section: %w", err)
	}

	var items []alias.Item
	doc.Find(sel.Item).Each(func(_ int, row *goquery.Selection) {
		address := collapseText(row.Find(sel.Address).First().Text())
		if address == "" {
			return
		}
		items = append(items, alias.Item{Address: address, Label: rowLabel(row, sel)})
	})
	return items, nil
}

// collapseText folds runs of whitespace into single spaces, matching the
// text helper of the page scripts.
func collapseText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func rowLabel(row *goquery.Selection, sel config.Selectors) string {
	if label := row.Find(sel.Label).First(); label.Length() > 0 {
		text := strings.TrimSpace(label.Text())
		source := strings.TrimSpace(row.Find(sel.Source).First().Text())
		if text != "" && source != "" {
			return text + " (" + source + ")"
		}
		return text
	}

	title := row.Find(sel.Title).First()
	if title.Length() == 0 {
		return ""
	}
	// The first block of the title is the label; later ones are metadata.
	if first := title.Children().First(); first.Length() > 0 {
		return strings.TrimSpace(first.Text())
	}
	text := strings.TrimSpace(title.Text())
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = strings.TrimSpace(text[:i])
	}
	return text
}
