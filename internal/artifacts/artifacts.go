// internal/artifacts/artifacts.go
package artifacts

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/go-homedir"
	"golang.org/x/net/publicsuffix"

	"github.com/xkilldash9x/layout-breaker/internal/mutation"
)

// EntirePagesDir holds the whole-page screenshots of every task.
const EntirePagesDir = "entire-pages"

// NewExecutionID returns "<month>-<day>-<6 hex>" for the given time.
func NewExecutionID(now time.Time) string {
	id := uuid.New()
	return fmt.Sprintf("%d-%d-%x", int(now.Month()), now.Day(), id[:3])
}

// Layout names every file a run writes under one root folder.
type Layout struct {
	Root        string
	ExecutionID string
}

// NewLayout resolves folder (expanding a leading ~) to an absolute root.
func NewLayout(folder, executionID string) (Layout, error) {
	expanded, err := homedir.Expand(folder)
	if err != nil {
		return Layout{}, fmt.Errorf("invalid folder %q: %w", folder, err)
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return Layout{}, fmt.Errorf("invalid folder %q: %w", folder, err)
	}
	return Layout{Root: abs, ExecutionID: executionID}, nil
}

// Task is the naming scope of one (site, viewport, manipulation) task.
type Task struct {
	layout Layout
	kind   mutation.Kind
	stem   string
}

// Task returns the naming scope for a task.
func (l Layout) Task(site string, vp mutation.Viewport, kind mutation.Kind) Task {
	return Task{
		layout: l,
		kind:   kind,
		stem:   fmt.Sprintf("%s-%s-%s", l.ExecutionID, SiteSlug(site), vp),
	}
}

// ContainerPath is the screenshot path of one container, grouped by manipulation.
func (t Task) ContainerPath(c mutation.Container) string {
	return filepath.Join(t.layout.Root, string(t.kind), fmt.Sprintf("%s-%s-%d.png", t.stem, t.kind, c.Index))
}

// PagePath is the whole-page screenshot before any overlay.
func (t Task) PagePath() string {
	return t.entirePage(string(t.kind) + "-plain")
}

// SucceededPath is the whole-page screenshot outlining the containers that produced a capture.
func (t Task) SucceededPath() string {
	return t.entirePage(string(t.kind))
}

// ContainersPath is the whole-page screenshot outlining every selected container.
func (t Task) ContainersPath() string {
	return t.entirePage(string(t.kind) + "-containers")
}

func (t Task) entirePage(postfix string) string {
	return filepath.Join(t.layout.Root, EntirePagesDir, fmt.Sprintf("%s-%s.png", t.stem, postfix))
}

// SiteSlug turns a site URL into a file name fragment: the host without a
// leading "www." followed by the path, with anything outside [a-z0-9.-]
// replaced by underscores.
func SiteSlug(site string) string {
	u, err := url.Parse(site)
	if err != nil || u.Hostname() == "" {
		return sanitize(site)
	}
	host := strings.ToLower(u.Hostname())
	name := host
	if registered, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		name = registered
		if sub := strings.TrimSuffix(strings.TrimSuffix(host, registered), "."); sub != "" && sub != "www" {
			name = strings.TrimPrefix(sub, "www.") + "." + registered
		}
	}
	if p := strings.Trim(u.Path, "/"); p != "" {
		name += "_" + p
	}
	return sanitize(name)
}

func sanitize(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "site"
	}
	return out
}
