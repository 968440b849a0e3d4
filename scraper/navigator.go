package scraper

import (
	"errors"
	"fmt"
	"time"
)

var errNavBudget = errors.New("navigation budget exhausted")

// pageDriver is the slice of a browser page the tab navigator needs.
type pageDriver interface {
	Open(url string, timeout time.Duration) error
	ClickTab(selector, name string, timeout time.Duration) error
	Snapshot(timeout time.Duration) (string, error)
}

type navState int

const (
	navCold   navState = iota // landing page not loaded
	navLanded                 // landing page loaded, cursor names the visible tab
	navStale                  // last step failed, reload before the next one
)

func (s navState) String() string {
	switch s {
	case navCold:
		return "cold"
	case navLanded:
		return "landed"
	case navStale:
		return "stale"
	}
	return fmt.Sprintf("navState(%d)", int(s))
}

// navigator walks the tabs of a single-page ranking view. It remembers
// which tab is showing so consecutive categories only click, and after a
// failure it reloads the landing page instead of restarting the browser.
type navigator struct {
	driver     pageDriver
	landing    string
	tabSel     string
	maxReloads int

	state  navState
	cursor string
	now    func() time.Time
}

func newNavigator(driver pageDriver, landing, tabSel string) *navigator {
	return &navigator{driver: driver, landing: landing, tabSel: tabSel, maxReloads: 1, now: time.Now}
}

// Show brings the named tab into view and returns the rendered DOM. Every
// step, reloads included, shares one deadline of budget from the call.
func (n *navigator) Show(name string, budget time.Duration) (string, error) {
	deadline := n.now().Add(budget)
	remaining := func() (time.Duration, error) {
		left := deadline.Sub(n.now())
		if left <= 0 {
			return 0, &TimeoutError{URL: n.landing, Err: errNavBudget}
		}
		return left, nil
	}

	var lastErr error
	for try := 0; try <= n.maxReloads; try++ {
		if n.state != navLanded {
			left, err := remaining()
			if err != nil {
				return "", err
			}
			if err := n.driver.Open(n.landing, left); err != nil {
				n.fail()
				lastErr = fmt.Errorf("open %s: %w", n.landing, err)
				continue
			}
			n.state = navLanded
			n.cursor = ""
		}

		if n.cursor != name {
			left, err := remaining()
			if err != nil {
				n.fail()
				return "", err
			}
			if err := n.driver.ClickTab(n.tabSel, name, left); err != nil {
				n.fail()
				lastErr = fmt.Errorf("tab %q: %w", name, err)
				continue
			}
			n.cursor = name
		}

		left, err := remaining()
		if err != nil {
			n.fail()
			return "", err
		}
		html, err := n.driver.Snapshot(left)
		if err != nil {
			n.fail()
			lastErr = fmt.Errorf("snapshot %q: %w", name, err)
			continue
		}
		return html, nil
	}
	return "", lastErr
}

func (n *navigator) fail() {
	n.state = navStale
	n.cursor = ""
}
