// Package pager serves oversized tool outputs in bounded-size pages keyed
// by an opaque response identifier.
package pager

import (
	"errors"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	. "github.com/roelfdiedericks/tabclaw/internal/logging"
)

// ErrNotFound is returned for an unknown responseId or an out-of-range
// page. Callers never see stale data or a silent empty page.
var ErrNotFound = errors.New("paged result not found")

// Config tunes pagination behavior
type Config struct {
	ThresholdBytes int           // Results above this are paginated (default 16 KiB)
	PageSizeBytes  int           // Page chunk size (default 8 KiB)
	Retention      time.Duration // Paged results expire after this (default 10m)
}

// DefaultConfig returns the default pagination knobs
func DefaultConfig() Config {
	return Config{
		ThresholdBytes: 16 * 1024,
		PageSizeBytes:  8 * 1024,
		Retention:      10 * time.Minute,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.ThresholdBytes <= 0 {
		c.ThresholdBytes = d.ThresholdBytes
	}
	if c.PageSizeBytes <= 0 {
		c.PageSizeBytes = d.PageSizeBytes
	}
	if c.Retention <= 0 {
		c.Retention = d.Retention
	}
}

type entry struct {
	tabID   string
	pages   []string
	created time.Time
}

// Page is one retrievable chunk of a paged result
type Page struct {
	Content    string `json:"content"`
	Page       int    `json:"page"`
	TotalPages int    `json:"totalPages"`
}

// Pager holds paged results scoped to the tab conversation that produced
// them. Clearing that conversation invalidates its results; a retention
// sweep collects the rest.
type Pager struct {
	cfg Config

	mu      sync.Mutex
	entries map[string]*entry

	sched *cron.Cron
}

// New creates a Pager with the given config
func New(cfg Config) *Pager {
	cfg.applyDefaults()
	return &Pager{
		cfg:     cfg,
		entries: make(map[string]*entry),
	}
}

// Threshold returns the inline-size threshold in bytes
func (p *Pager) Threshold() int {
	return p.cfg.ThresholdBytes
}

// Store paginates payload if it exceeds the threshold. Returns the minted
// responseId and total page count, or stored=false when the payload fits
// inline and no id is minted.
func (p *Pager) Store(tabID string, payload string) (responseID string, totalPages int, stored bool) {
	if len(payload) <= p.cfg.ThresholdBytes {
		return "", 0, false
	}

	pages := chunk(payload, p.cfg.PageSizeBytes)
	id := uuid.New().String()

	p.mu.Lock()
	p.entries[id] = &entry{tabID: tabID, pages: pages, created: time.Now()}
	p.mu.Unlock()

	L_debug("pager: stored paged result", "responseId", id, "tab", tabID,
		"bytes", len(payload), "pages", len(pages))
	return id, len(pages), true
}

// GetPage returns one 0-based page of a stored result, or ErrNotFound for
// an unknown id or page >= totalPages.
func (p *Pager) GetPage(responseID string, page int) (*Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[responseID]
	if !ok {
		return nil, ErrNotFound
	}
	if page < 0 || page >= len(e.pages) {
		return nil, ErrNotFound
	}
	return &Page{
		Content:    e.pages[page],
		Page:       page,
		TotalPages: len(e.pages),
	}, nil
}

// InvalidateTab drops every paged result owned by a tab's conversation
func (p *Pager) InvalidateTab(tabID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	removed := 0
	for id, e := range p.entries {
		if e.tabID == tabID {
			delete(p.entries, id)
			removed++
		}
	}
	if removed > 0 {
		L_debug("pager: invalidated tab results", "tab", tabID, "removed", removed)
	}
}

// Sweep removes results older than the retention bound. Returns the number
// of results collected.
func (p *Pager) Sweep() int {
	cutoff := time.Now().Add(-p.cfg.Retention)
	p.mu.Lock()
	defer p.mu.Unlock()
	removed := 0
	for id, e := range p.entries {
		if e.created.Before(cutoff) {
			delete(p.entries, id)
			removed++
		}
	}
	if removed > 0 {
		L_debug("pager: retention sweep", "removed", removed)
	}
	return removed
}

// StartJanitor schedules a retention sweep every minute
func (p *Pager) StartJanitor() error {
	if p.sched != nil {
		return nil
	}
	p.sched = cron.New()
	if _, err := p.sched.AddFunc("@every 1m", func() { p.Sweep() }); err != nil {
		return err
	}
	p.sched.Start()
	L_debug("pager: janitor started", "retention", p.cfg.Retention.String())
	return nil
}

// StopJanitor stops the retention sweep
func (p *Pager) StopJanitor() {
	if p.sched != nil {
		p.sched.Stop()
		p.sched = nil
	}
}

// chunk splits s into pages of at most size bytes, never cutting a UTF-8
// rune in half. Split pages would mojibake on JSON encode.
func chunk(s string, size int) []string {
	if size <= 0 {
		return []string{s}
	}
	var pages []string
	for len(s) > size {
		cut := size
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		if cut == 0 {
			// not valid UTF-8, fall back to a byte cut
			cut = size
		}
		pages = append(pages, s[:cut])
		s = s[cut:]
	}
	pages = append(pages, s)
	return pages
}
