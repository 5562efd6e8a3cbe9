package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"
)

const (
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	defaultICloudURL = "https://www.icloud.com/icloudplus/"
)

func checkFilePermissions(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %04o; should be 0600", path, perm)
	}
	return nil
}

type Config struct {
	Browser   Browser   `yaml:"browser"`
	Timing    Timing    `yaml:"timing"`
	Gate      Gate      `yaml:"gate"`
	Drain     Drain     `yaml:"drain"`
	History   History   `yaml:"history"`
	Log       Log       `yaml:"log"`
	Selectors Selectors `yaml:"selectors"`
}

// Browser holds Chrome launch settings
type Browser struct {
	ChromePath   string `yaml:"chrome_path,omitempty"` // empty: let chromedp find Chrome
	UserAgent    string `yaml:"user_agent"`
	WindowWidth  int    `yaml:"window_width"`
	WindowHeight int    `yaml:"window_height"`
	AskHeadless  *bool  `yaml:"ask_headless,omitempty"` // offer the headless switch after login (default true)
}

// ShouldAskHeadless reports whether to offer the headless switch.
func (b Browser) ShouldAskHeadless() bool {
	return b.AskHeadless == nil || *b.AskHeadless
}

type Timing struct {
	WaitTimeoutSec    int `yaml:"wait_timeout_sec"`
	LoginTimeoutSec   int `yaml:"login_timeout_sec"`
	ActionTimeoutSec  int `yaml:"action_timeout_sec"`
	ConfirmTimeoutSec int `yaml:"confirm_timeout_sec"`
	QueryTimeoutSec   int `yaml:"query_timeout_sec"`
	ProcessDelayMs    int `yaml:"process_delay_ms"`
	SearchDelayMs     int `yaml:"search_delay_ms"`
	ExpandDelayMs     int `yaml:"expand_delay_ms"`
}

func (t Timing) Wait() time.Duration         { return seconds(t.WaitTimeoutSec) }
func (t Timing) Login() time.Duration        { return seconds(t.LoginTimeoutSec) }
func (t Timing) Action() time.Duration       { return seconds(t.ActionTimeoutSec) }
func (t Timing) Confirm() time.Duration      { return seconds(t.ConfirmTimeoutSec) }
func (t Timing) Query() time.Duration        { return seconds(t.QueryTimeoutSec) }
func (t Timing) ProcessDelay() time.Duration { return millis(t.ProcessDelayMs) }
func (t Timing) SearchDelay() time.Duration  { return millis(t.SearchDelayMs) }
func (t Timing) ExpandDelay() time.Duration  { return millis(t.ExpandDelayMs) }

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
func millis(n int) time.Duration  { return time.Duration(n) * time.Millisecond }

// Gate holds the confirmation thresholds
type Gate struct {
	LargeThreshold    int `yaml:"large_threshold"`
	SecondsPerItem    int `yaml:"seconds_per_item"`
	PreviewLimit      int `yaml:"preview_limit"`
	PurgePreviewLimit int `yaml:"purge_preview_limit"`
	SummaryLimit      int `yaml:"summary_limit"`
	SummaryMin        int `yaml:"summary_min"`
}

type Drain struct {
	MaxStaleRetries int `yaml:"max_stale_retries"`
	RateInterval    int `yaml:"rate_interval"` // print the processing rate every N items
}

type History struct {
	Enabled *bool  `yaml:"enabled,omitempty"`
	Path    string `yaml:"path"`
}

// IsEnabled reports whether operations are recorded (default true).
func (h History) IsEnabled() bool {
	return h.Enabled == nil || *h.Enabled
}

type Log struct {
	File  string `yaml:"file"`
	Level string `yaml:"level"`
}

// Selectors locate elements of the iCloud pages. They track Apple's markup
// and can be overridden when it changes.
type Selectors struct {
	URL          string          `yaml:"url"`
	SignInButton string          `yaml:"sign_in_button"`
	PageRoute    string          `yaml:"page_route"`
	Tile         string          `yaml:"tile"`
	Frame        string          `yaml:"frame"`
	Item         string          `yaml:"item"`
	Address      string          `yaml:"address"`
	Label        string          `yaml:"label"`
	Source       string          `yaml:"source"`
	Title        string          `yaml:"title"`
	ExpandButton string          `yaml:"expand_button"`
	Active       SectionSelector `yaml:"active"`
	Inactive     SectionSelector `yaml:"inactive"`
}

// SectionSelector holds the XPaths of one list section inside the frame.
type SectionSelector struct {
	Header       string `yaml:"header"`
	Container    string `yaml:"container"`
	SearchButton string `yaml:"search_button"`
	SearchInput  string `yaml:"search_input"`
	Index        int    `yaml:"index"` // 1-based <section> position, used when the container is missing
}

// Section returns the selectors for the "active" or "inactive" list.
func (s Selectors) Section(name string) SectionSelector {
	if name == "inactive" {
		return s.Inactive
	}
	return s.Active
}

const sectionRoot = "/html/body/aside/div/div[1]/div/div/div[2]"

// Defaults returns a configuration with every field set.
func Defaults() *Config {
	home := homeDir()
	return &Config{
		Browser: Browser{
			UserAgent:    defaultUserAgent,
			WindowWidth:  1920,
			WindowHeight: 1080,
		},
		Timing: Timing{
			WaitTimeoutSec:    20,
			LoginTimeoutSec:   300,
			ActionTimeoutSec:  10,
			ConfirmTimeoutSec: 15,
			QueryTimeoutSec:   10,
			ProcessDelayMs:    2000,
			SearchDelayMs:     2000,
			ExpandDelayMs:     2000,
		},
		Gate: Gate{
			LargeThreshold:    20,
			SecondsPerItem:    3,
			PreviewLimit:      50,
			PurgePreviewLimit: 25,
			SummaryLimit:      10,
			SummaryMin:        5,
		},
		Drain: Drain{
			MaxStaleRetries: 10,
			RateInterval:    5,
		},
		History: History{
			Path: filepath.Join(home, ".hme", "history.db"),
		},
		Log: Log{
			File:  filepath.Join(home, ".hme", "hme.log"),
			Level: "info",
		},
		Selectors: DefaultSelectors(),
	}
}

// DefaultSelectors matches the current iCloud+ Hide My Email markup.
func DefaultSelectors() Selectors {
	return Selectors{
		URL:          defaultICloudURL,
		SignInButton: ".sign-in-button",
		PageRoute:    ".icloud-plus-page-route",
		Tile:         "article[aria-label='Hide My Email']",
		Frame:        "iframe[data-name='hidemyemail']",
		Item:         "li.card-list-item-platter",
		Address:      ".searchable-card-subtitle",
		Label:        ".card-title h2.Typography",
		Source:       ".card-title span.Typography",
		Title:        ".card-title",
		ExpandButton: ".button-expand",
		Active: SectionSelector{
			Header:       sectionRoot + "/section[1]/div/div/div[1]/h2",
			Container:    sectionRoot + "/section[1]/div/div/div[2]/div[2]",
			SearchButton: sectionRoot + "/section[1]/div/div/div[1]/div/div[1]/button",
			SearchInput:  sectionRoot + "/section[1]/div/div/div[2]/div[1]/div/input",
			Index:        1,
		},
		Inactive: SectionSelector{
			Header:       sectionRoot + "/section[3]/div/div[1]/h2",
			Container:    sectionRoot + "/section[3]/div",
			SearchButton: sectionRoot + "/section[3]/div/div[1]/div/div/button",
			SearchInput:  sectionRoot + "/section[3]/div/div[2]/div[1]/div/input",
			Index:        3,
		},
	}
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

func DefaultConfigPath() string {
	return filepath.Join(homeDir(), ".hme", "config.yaml")
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := checkFilePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: %v\n", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.fillDefaults()
	return cfg, nil
}

// fillDefaults restores zero values left by a partial file.
func (c *Config) fillDefaults() {
	d := Defaults()

	if c.Browser.UserAgent == "" {
		c.Browser.UserAgent = d.Browser.UserAgent
	}
	if c.Browser.WindowWidth == 0 {
		c.Browser.WindowWidth = d.Browser.WindowWidth
	}
	if c.Browser.WindowHeight == 0 {
		c.Browser.WindowHeight = d.Browser.WindowHeight
	}

	defaultInt(&c.Timing.WaitTimeoutSec, d.Timing.WaitTimeoutSec)
	defaultInt(&c.Timing.LoginTimeoutSec, d.Timing.LoginTimeoutSec)
	defaultInt(&c.Timing.ActionTimeoutSec, d.Timing.ActionTimeoutSec)
	defaultInt(&c.Timing.ConfirmTimeoutSec, d.Timing.ConfirmTimeoutSec)
	defaultInt(&c.Timing.QueryTimeoutSec, d.Timing.QueryTimeoutSec)
	// Delays keep an explicit 0 (no pause); missing keys already hold defaults.

	defaultInt(&c.Gate.LargeThreshold, d.Gate.LargeThreshold)
	defaultInt(&c.Gate.SecondsPerItem, d.Gate.SecondsPerItem)
	defaultInt(&c.Gate.PreviewLimit, d.Gate.PreviewLimit)
	defaultInt(&c.Gate.PurgePreviewLimit, d.Gate.PurgePreviewLimit)
	defaultInt(&c.Gate.SummaryLimit, d.Gate.SummaryLimit)
	defaultInt(&c.Gate.SummaryMin, d.Gate.SummaryMin)

	defaultInt(&c.Drain.MaxStaleRetries, d.Drain.MaxStaleRetries)
	defaultInt(&c.Drain.RateInterval, d.Drain.RateInterval)

	if c.History.Path == "" {
		c.History.Path = d.History.Path
	}
	if c.Log.File == "" {
		c.Log.File = d.Log.File
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}

	s, ds := &c.Selectors, d.Selectors
	for _, f := range []stringDefault{
		{&s.URL, ds.URL},
		{&s.SignInButton, ds.SignInButton},
		{&s.PageRoute, ds.PageRoute},
		{&s.Tile, ds.Tile},
		{&s.Frame, ds.Frame},
		{&s.Item, ds.Item},
		{&s.Address, ds.Address},
		{&s.Label, ds.Label},
		{&s.Source, ds.Source},
		{&s.Title, ds.Title},
		{&s.ExpandButton, ds.ExpandButton},
	} {
		if *f.v == "" {
			*f.v = f.def
		}
	}
	fillSection(&s.Active, ds.Active)
	fillSection(&s.Inactive, ds.Inactive)
}

type stringDefault struct {
	v   *string
	def string
}

func fillSection(s *SectionSelector, d SectionSelector) {
	if s.Header == "" {
		s.Header = d.Header
	}
	if s.Container == "" {
		s.Container = d.Container
	}
	if s.SearchButton == "" {
		s.SearchButton = d.SearchButton
	}
	if s.SearchInput == "" {
		s.SearchInput = d.SearchInput
	}
	if s.Index == 0 {
		s.Index = d.Index
	}
}

func defaultInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

// Save writes cfg atomically with owner-only permissions.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return os.Chmod(path, 0600)
}

func (c *Config) Validate() error {
	t := c.Timing
	for name, v := range map[string]int{
		"wait_timeout_sec":    t.WaitTimeoutSec,
		"login_timeout_sec":   t.LoginTimeoutSec,
		"action_timeout_sec":  t.ActionTimeoutSec,
		"confirm_timeout_sec": t.ConfirmTimeoutSec,
		"query_timeout_sec":   t.QueryTimeoutSec,
	} {
		if v <= 0 {
			return fmt.Errorf("timing: %s must be positive", name)
		}
	}
	if t.ProcessDelayMs < 0 || t.SearchDelayMs < 0 || t.ExpandDelayMs < 0 {
		return fmt.Errorf("timing: delays cannot be negative")
	}
	if c.Gate.LargeThreshold < 0 {
		return fmt.Errorf("gate: large_threshold cannot be negative")
	}
	if c.Gate.PreviewLimit <= 0 {
		return fmt.Errorf("gate: preview_limit must be positive")
	}
	if c.Drain.MaxStaleRetries <= 0 {
		return fmt.Errorf("drain: max_stale_retries must be positive")
	}

	s := c.Selectors
	if s.URL == "" || s.Frame == "" || s.Item == "" || s.Address == "" {
		return fmt.Errorf("selectors: url, frame, item and address are required")
	}
	for name, sec := range map[string]SectionSelector{"active": s.Active, "inactive": s.Inactive} {
		if sec.Header == "" || sec.Container == "" || sec.SearchButton == "" || sec.SearchInput == "" {
			return fmt.Errorf("selectors.%s: header, container, search_button and search_input are required", name)
		}
	}
	return nil
}
