package browser

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/hme-tools/hme/internal/alias"
	"github.com/hme-tools/hme/internal/config"
)

const sectionHTML = `
<div>
  <ul>
    <li class="card-list-item-platter">
      <div class="card-title">
        <h2 class="Typography">Shopping</h2>
        <span class="Typography">amazon.com</span>
      </div>
      <div class="searchable-card-subtitle">dull.fox.shop@icloud.com</div>
      <button class="button-expand"></button>
    </li>
    <li class="card-list-item-platter">
      <div class="card-title"><h2 class="Typography">Newsletter</h2></div>
      <div class="searchable-card-subtitle"> quiet.owl@icloud.com </div>
    </li>
    <li class="card-list-item-platter">
      <div class="card-title"><p>Bank</p><p>Created 2023</p></div>
      <div class="searchable-card-subtitle">calm.bear@icloud.com</div>
    </li>
    <li class="card-list-item-platter">
      <div class="searchable-card-subtitle">bare.cat@icloud.com</div>
    </li>
    <li class="card-list-item-platter">
      <div class="card-title"><h2 class="Typography">Broken row</h2></div>
    </li>
  </ul>
</div>`

func TestParseSection(t *testing.T) {
	got, err := ParseSection(sectionHTML, config.DefaultSelectors())
	if err != nil {
		t.Fatalf("ParseSection() error: %v", err)
	}
	want := []alias.Item{
		{Address: "dull.fox.shop@icloud.com", Label: "Shopping (amazon.com)"},
		{Address: "quiet.owl@icloud.com", Label: "Newsletter"},
		{Address: "calm.bear@icloud.com", Label: "Bank"},
		{Address: "bare.cat@icloud.com"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseSection() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseSectionEmpty(t *testing.T) {
	for _, html := range []string{"", "   ", "<div><ul></ul></div>"} {
		got, err := ParseSection(html, config.DefaultSelectors())
		if err != nil || len(got) != 0 {
			t.Errorf("ParseSection(%q) = %v, %v", html, got, err)
		}
	}
}

func TestParseTotal(t *testing.T) {
	tests := []struct {
		header  string
		want    int
		wantErr bool
	}{
		{"12 addresses", 12, false},
		{"1 address", 1, false},
		{"No inactive addresses", 0, false},
		{"no addresses", 0, false},
		{"1,204 addresses", 1204, false},
		{"", 0, true},
		{"Hide My Email", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseTotal(tt.header)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseTotal(%q) error = %v, wantErr %v", tt.header, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseTotal(%q) = %d, want %d", tt.header, got, tt.want)
		}
	}
}

func TestParseSectionCollapsesAddressWhitespace(t *testing.T) {
	html := `<ul><li class="card-list-item-platter">
	  <div class="searchable-card-subtitle">
	    <span>nested.fox</span>
	    <span>@icloud.com</span>
	  </div>
	</li></ul>`
	got, err := ParseSection(html, config.DefaultSelectors())
	if err != nil {
		t.Fatalf("ParseSection() error: %v", err)
	}
	if len(got) != 1 || got[0].Address != "nested.fox @icloud.com" {
		t.Errorf("ParseSection() = %+v, want address %q", got, "nested.fox @icloud.com")
	}
}

func TestCollapseText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain@icloud.com", "plain@icloud.com"},
		{"  padded@icloud.com\n", "padded@icloud.com"},
		{"a\n\t  b   c", "a b c"},
		{"   ", ""},
	}
	for _, tt := range tests {
		if got := collapseText(tt.in); got != tt.want {
			t.Errorf("collapseText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
