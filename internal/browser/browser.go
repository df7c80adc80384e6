// Package browser is the local Chromium executor. It drives pages over the
// DevTools protocol and implements the same operation surface a remote tab
// executor answers over the message channel, which makes it the natural
// backend for headless operation and for end-to-end runs without a panel.
package browser

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/roelfdiedericks/tabclaw/internal/executor"
	. "github.com/roelfdiedericks/tabclaw/internal/logging"
)

// Config controls browser attachment and per-operation limits
type Config struct {
	// ControlURL is the DevTools endpoint of a running Chromium
	// (e.g. ws://127.0.0.1:9222). Required.
	ControlURL string

	// Stealth opens pages with bot-detection countermeasures applied
	Stealth bool

	// OpTimeout bounds each DOM operation. Default 30s.
	OpTimeout time.Duration

	// ScreenshotMaxDim is the longest edge screenshots are resized to
	// before encoding. Default 1024.
	ScreenshotMaxDim int
}

func (c *Config) applyDefaults() {
	if c.OpTimeout <= 0 {
		c.OpTimeout = 30 * time.Second
	}
	if c.ScreenshotMaxDim <= 0 {
		c.ScreenshotMaxDim = 1024
	}
}

// Executor manages one page per tab identifier on a shared browser
// connection.
type Executor struct {
	cfg Config

	mu      sync.Mutex
	browser *rod.Browser
	pages   map[string]*rod.Page
}

// NewExecutor creates a local executor. Connect must be called before use.
func NewExecutor(cfg Config) *Executor {
	cfg.applyDefaults()
	return &Executor{
		cfg:   cfg,
		pages: make(map[string]*rod.Page),
	}
}

// Connect attaches to the browser's DevTools endpoint
func (e *Executor) Connect() error {
	if e.cfg.ControlURL == "" {
		return fmt.Errorf("browser: no control URL configured")
	}
	browser := rod.New().ControlURL(e.cfg.ControlURL)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("browser: failed to connect to %s: %w", e.cfg.ControlURL, err)
	}
	e.mu.Lock()
	e.browser = browser
	e.mu.Unlock()
	L_info("browser: connected", "controlURL", e.cfg.ControlURL, "stealth", e.cfg.Stealth)
	return nil
}

// Close detaches all pages and the browser connection
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for tabID, page := range e.pages {
		if err := page.Close(); err != nil {
			L_warn("browser: page close failed", "tab", tabID, "error", err)
		}
	}
	e.pages = make(map[string]*rod.Page)
	if e.browser == nil {
		return nil
	}
	err := e.browser.Close()
	e.browser = nil
	return err
}

// AttachTab opens a page for the tab identifier and navigates it. A second
// attach for the same identifier replaces the previous page.
func (e *Executor) AttachTab(tabID, url string) error {
	e.mu.Lock()
	browser := e.browser
	e.mu.Unlock()
	if browser == nil {
		return fmt.Errorf("browser: not connected")
	}

	var page *rod.Page
	var err error
	if e.cfg.Stealth {
		page, err = stealth.Page(browser)
	} else {
		page, err = browser.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		return fmt.Errorf("browser: failed to open page for tab %s: %w", tabID, err)
	}
	if url != "" {
		if err := page.Timeout(e.cfg.OpTimeout).Navigate(url); err != nil {
			_ = page.Close()
			return fmt.Errorf("browser: navigation failed for tab %s: %w", tabID, err)
		}
		if err := page.Timeout(e.cfg.OpTimeout).WaitLoad(); err != nil {
			L_warn("browser: page load wait failed", "tab", tabID, "error", err)
		}
	}

	e.mu.Lock()
	if old := e.pages[tabID]; old != nil {
		_ = old.Close()
	}
	e.pages[tabID] = page
	e.mu.Unlock()
	L_info("browser: tab attached", "tab", tabID, "url", url)
	return nil
}

// DetachTab closes a tab's page. Pending operations on the page fail.
func (e *Executor) DetachTab(tabID string) {
	e.mu.Lock()
	page := e.pages[tabID]
	delete(e.pages, tabID)
	e.mu.Unlock()
	if page != nil {
		_ = page.Close()
		L_info("browser: tab detached", "tab", tabID)
	}
}

// TabConnected reports whether the tab has an attached page
func (e *Executor) TabConnected(tabID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pages[tabID] != nil
}

// page returns the tab's page scoped to the operation timeout
func (e *Executor) page(tabID string) (*rod.Page, error) {
	e.mu.Lock()
	page := e.pages[tabID]
	e.mu.Unlock()
	if page == nil {
		return nil, fmt.Errorf("%w: tab %s", executor.ErrTabUnreachable, tabID)
	}
	return page.Timeout(e.cfg.OpTimeout), nil
}
