package scraper

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"rankpool/config"
	"rankpool/logging"
	"rankpool/models"
)

const defaultFetchBudget = 45 * time.Second

// BrowserAdapter renders ranking pages in Chromium. Categories either have
// their own URL or are reached by clicking a tab on the landing page. The
// browser lives for one Begin/End session; a Fetch outside a session
// launches and releases its own.
type BrowserAdapter struct {
	src        *config.SourceConfig
	proxy      config.ProxyConfig
	containers []string
	now        func() time.Time

	mu      sync.Mutex
	pw      *playwright.Playwright
	context playwright.BrowserContext
	tabPage playwright.Page
	nav     *navigator
}

func NewBrowserAdapter(src *config.SourceConfig, proxy config.ProxyConfig) *BrowserAdapter {
	containers := make([]string, 0, len(src.Selectors))
	for _, g := range src.Selectors {
		containers = append(containers, g.Container)
	}
	if src.Browser.WaitSelector != "" {
		containers = append(containers, src.Browser.WaitSelector)
	}
	return &BrowserAdapter{src: src, proxy: proxy, containers: containers, now: time.Now}
}

func (a *BrowserAdapter) ID() string {
	return a.src.ID
}

func (a *BrowserAdapter) Begin(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.launch()
}

func (a *BrowserAdapter) End() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.release()
}

func (a *BrowserAdapter) Close() error {
	a.End()
	return nil
}

func (a *BrowserAdapter) Fetch(ctx context.Context, cat models.Category) (*models.RawPage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	scoped := a.context == nil
	if err := a.launch(); err != nil {
		return nil, err
	}
	if scoped {
		defer a.release()
	}

	budget := defaultFetchBudget
	if deadline, ok := ctx.Deadline(); ok {
		budget = time.Until(deadline)
	}
	if budget <= 0 {
		return nil, &TimeoutError{URL: a.src.BaseURL, Err: context.DeadlineExceeded}
	}

	if cat.Navigate != "" {
		return a.fetchTab(cat, budget)
	}
	return a.fetchURL(cat, budget)
}

func (a *BrowserAdapter) launch() error {
	if a.context != nil {
		return nil
	}

	pw, err := playwright.Run()
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	cwd, _ := os.Getwd()
	userDataDir := filepath.Join(cwd, "browser_data", a.src.ID)

	b := a.src.Browser
	opts := playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless: playwright.Bool(b.IsHeadless()),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
		IsMobile: playwright.Bool(b.Mobile),
		HasTouch: playwright.Bool(b.Touch),
	}
	if b.UserAgent != "" {
		opts.UserAgent = playwright.String(b.UserAgent)
	}
	if b.ViewportWidth > 0 && b.ViewportHeight > 0 {
		opts.Viewport = &playwright.Size{Width: b.ViewportWidth, Height: b.ViewportHeight}
	}
	if b.Locale != "" {
		opts.Locale = playwright.String(b.Locale)
	}
	if p := browserProxy(a.proxy.URL); p != nil {
		opts.Proxy = p
	}

	bctx, err := pw.Chromium.LaunchPersistentContext(userDataDir, opts)
	if err != nil {
		pw.Stop()
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	a.pw = pw
	a.context = bctx
	return nil
}

// release closes everything launch opened. Safe to call repeatedly.
func (a *BrowserAdapter) release() {
	if a.tabPage != nil {
		a.tabPage.Close()
		a.tabPage = nil
	}
	a.nav = nil
	if a.context != nil {
		if err := a.context.Close(); err != nil {
			logging.Logf(models.LogLevelWarn, a.src.ID, "closing browser context: %v", err)
		}
		a.context = nil
	}
	if a.pw != nil {
		a.pw.Stop()
		a.pw = nil
	}
}

func browserProxy(raw string) *playwright.Proxy {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil
	}
	p := &playwright.Proxy{Server: u.Scheme + "://" + u.Host}
	if u.User != nil {
		p.Username = playwright.String(u.User.Username())
		if pw, ok := u.User.Password(); ok {
			p.Password = playwright.String(pw)
		}
	}
	return p
}

func (a *BrowserAdapter) fetchURL(cat models.Category, budget time.Duration) (*models.RawPage, error) {
	target, err := categoryURL(a.src, cat, a.src.BaseURL)
	if err != nil {
		return nil, err
	}

	page, err := a.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	defer page.Close()

	var capt *capture
	if a.src.Browser.Intercept != "" {
		capt = newCapture(a.src.Browser.Intercept)
		page.OnResponse(capt.onResponse)
	}

	deadline := time.Now().Add(budget)
	resp, err := page.Goto(target, playwright.PageGotoOptions{
		Timeout:   playwright.Float(ms(budget)),
		WaitUntil: waitUntil(a.src.Browser.WaitUntil),
	})
	status := 0
	if resp != nil {
		status = resp.Status()
	}
	if err != nil {
		if !errors.Is(err, playwright.ErrTimeout) {
			return nil, classifyError(err, status, target)
		}
		// Pages that never go network-idle still render; keep what we have.
		logging.Logf(models.LogLevelDebug, a.src.ID, "navigation to %s did not settle: %v", target, err)
	}
	if status == 403 || status == 429 {
		return nil, &BlockedError{URL: target, Status: status}
	}

	a.settle(page, time.Until(deadline))

	html, err := page.Content()
	if err != nil {
		return nil, classifyError(err, status, target)
	}
	if marker := detectBlock(html, a.src.BlockMarkers, a.containers); marker != "" {
		return nil, &BlockedError{URL: target, Status: status, Marker: marker}
	}

	out := &models.RawPage{
		Kind:      models.PageDOM,
		Source:    a.src.ID,
		Category:  cat.Code,
		URL:       target,
		Status:    status,
		HTML:      html,
		FetchedAt: a.now(),
	}
	if capt != nil {
		out.Kind = models.PageJSON
		out.Bodies = capt.collect(2 * time.Second)
		logging.Logf(models.LogLevelDebug, a.src.ID, "category %s: captured %d responses", cat.Code, len(out.Bodies))
	}
	return out, nil
}

func (a *BrowserAdapter) fetchTab(cat models.Category, budget time.Duration) (*models.RawPage, error) {
	if a.nav == nil {
		page, err := a.context.NewPage()
		if err != nil {
			return nil, fmt.Errorf("failed to create page: %w", err)
		}
		a.tabPage = page
		a.nav = newNavigator(&pwDriver{adapter: a, page: page}, a.src.Browser.LandingURL, a.src.Browser.TabSelector)
	}

	landing := a.src.Browser.LandingURL
	html, err := a.nav.Show(cat.Navigate, budget)
	if err != nil {
		var blocked *BlockedError
		var timeout *TimeoutError
		if errors.As(err, &blocked) || errors.As(err, &timeout) {
			return nil, err
		}
		if errors.Is(err, playwright.ErrTimeout) {
			return nil, &TimeoutError{URL: landing, Err: err}
		}
		return nil, &NetworkError{URL: landing, Err: err}
	}

	return &models.RawPage{
		Kind:      models.PageDOM,
		Source:    a.src.ID,
		Category:  cat.Code,
		URL:       landing + "#" + url.QueryEscape(cat.Navigate),
		Status:    200,
		HTML:      html,
		FetchedAt: a.now(),
	}, nil
}

// settle waits for the content selector, scrolls to trigger lazy loading
// and gives late requests time to land.
func (a *BrowserAdapter) settle(page playwright.Page, remaining time.Duration) {
	b := a.src.Browser
	deadline := time.Now().Add(remaining)
	if b.WaitSelector != "" && remaining > 0 {
		err := page.Locator(b.WaitSelector).First().WaitFor(playwright.LocatorWaitForOptions{
			Timeout: playwright.Float(ms(remaining)),
		})
		if err != nil {
			logging.Logf(models.LogLevelDebug, a.src.ID, "wait for %s: %v", b.WaitSelector, err)
		}
	}
	for i := 0; i < b.ScrollSteps && time.Now().Before(deadline); i++ {
		page.Evaluate(`window.scrollBy(0, window.innerHeight)`)
		humanDelay(page, 400, 900)
	}
	if left := time.Until(deadline); b.SettleMS > 0 && left > 0 {
		page.WaitForTimeout(ms(min(time.Duration(b.SettleMS)*time.Millisecond, left)))
	}
}

func humanDelay(page playwright.Page, minMs, maxMs int) {
	delay := minMs + rand.Intn(maxMs-minMs)
	page.WaitForTimeout(float64(delay))
}

func ms(d time.Duration) float64 {
	return float64(d / time.Millisecond)
}

func waitUntil(s string) *playwright.WaitUntilState {
	switch strings.ToLower(s) {
	case "domcontentloaded":
		return playwright.WaitUntilStateDomcontentloaded
	case "load":
		return playwright.WaitUntilStateLoad
	case "commit":
		return playwright.WaitUntilStateCommit
	default:
		return playwright.WaitUntilStateNetworkidle
	}
}

// pwDriver drives the long-lived tab page for the navigator.
type pwDriver struct {
	adapter *BrowserAdapter
	page    playwright.Page
}

func (d *pwDriver) Open(target string, timeout time.Duration) error {
	resp, err := d.page.Goto(target, playwright.PageGotoOptions{
		Timeout:   playwright.Float(ms(timeout)),
		WaitUntil: waitUntil(d.adapter.src.Browser.WaitUntil),
	})
	if err != nil && !errors.Is(err, playwright.ErrTimeout) {
		return err
	}
	if resp != nil && (resp.Status() == 403 || resp.Status() == 429) {
		return &BlockedError{URL: target, Status: resp.Status()}
	}
	return nil
}

func (d *pwDriver) ClickTab(selector, name string, timeout time.Duration) error {
	tab := d.page.Locator(fmt.Sprintf("%s:has-text(%q)", selector, name)).First()
	if err := tab.Click(playwright.LocatorClickOptions{Timeout: playwright.Float(ms(timeout))}); err != nil {
		return err
	}
	humanDelay(d.page, 800, 1500)
	return nil
}

func (d *pwDriver) Snapshot(timeout time.Duration) (string, error) {
	d.adapter.settle(d.page, timeout)
	html, err := d.page.Content()
	if err != nil {
		return "", err
	}
	a := d.adapter
	if marker := detectBlock(html, a.src.BlockMarkers, a.containers); marker != "" {
		return "", &BlockedError{URL: a.src.Browser.LandingURL, Marker: marker}
	}
	return html, nil
}

// capture collects JSON responses from the intercepted host in the order
// they arrived.
type capture struct {
	host string

	mu     sync.Mutex
	wg     sync.WaitGroup
	next   int
	bodies map[int][]byte
}

func newCapture(host string) *capture {
	return &capture{host: host, bodies: make(map[int][]byte)}
}

func (c *capture) onResponse(r playwright.Response) {
	if !strings.Contains(r.URL(), c.host) || r.Status() != 200 {
		return
	}
	if ct := r.Headers()["content-type"]; ct != "" && !strings.Contains(ct, "json") {
		return
	}

	c.mu.Lock()
	seq := c.next
	c.next++
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		body, err := r.Body()
		if err != nil || len(body) == 0 {
			return
		}
		c.add(seq, body)
	}()
}

func (c *capture) add(seq int, body []byte) {
	c.mu.Lock()
	c.bodies[seq] = body
	c.mu.Unlock()
}

// collect waits up to timeout for pending body reads.
func (c *capture) collect(timeout time.Duration) [][]byte {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	seqs := make([]int, 0, len(c.bodies))
	for s := range c.bodies {
		seqs = append(seqs, s)
	}
	sort.Ints(seqs)
	out := make([][]byte, 0, len(seqs))
	for _, s := range seqs {
		out = append(out, c.bodies[s])
	}
	return out
}
