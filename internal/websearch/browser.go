package websearch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"sleuthnerd/internal/logging"
)

// BrowserFetcher renders pages in a headless Chrome for sites that
// serve an empty shell to plain HTTP clients. The browser is launched
// lazily on first use and reused across calls.
type BrowserFetcher struct {
	binPath string
	timeout time.Duration

	mu      sync.Mutex
	browser *rod.Browser
}

// NewBrowserFetcher creates a fetcher. binPath may be empty, in which
// case the launcher locates or downloads a Chrome binary itself.
func NewBrowserFetcher(binPath string, timeout time.Duration) *BrowserFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &BrowserFetcher{
		binPath: binPath,
		timeout: timeout,
	}
}

// ensureConnected returns a live browser handle, launching or
// relaunching Chrome as needed.
func (b *BrowserFetcher) ensureConnected() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browser != nil {
		if _, err := b.browser.Version(); err == nil {
			return b.browser, nil
		}
		logging.BrowserWarn("Stale browser connection, relaunching")
		_ = b.browser.Close()
		b.browser = nil
	}

	launch := launcher.New().Headless(true)
	if b.binPath != "" {
		launch = launch.Bin(b.binPath)
	}
	controlURL, err := launch.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chrome: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}

	b.browser = browser
	logging.BrowserDebug("Headless browser connected at %s", controlURL)
	return browser, nil
}

// HTML navigates to rawURL in a fresh page and returns the rendered
// document after the load event.
func (b *BrowserFetcher) HTML(ctx context.Context, rawURL string) (string, error) {
	browser, err := b.ensureConnected()
	if err != nil {
		return "", err
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: rawURL})
	if err != nil {
		return "", fmt.Errorf("create page: %w", err)
	}
	defer page.Close()

	page = page.Context(ctx).Timeout(b.timeout)
	if err := page.WaitLoad(); err != nil {
		// The DOM may still hold usable content after a load timeout.
		logging.BrowserDebug("Load wait for %s: %v", rawURL, err)
	}

	html, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("read page html: %w", err)
	}
	return html, nil
}

// Close shuts the browser down. Safe to call when never started.
func (b *BrowserFetcher) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browser == nil {
		return nil
	}
	err := b.browser.Close()
	b.browser = nil
	return err
}
