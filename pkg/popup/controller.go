// Package popup tracks which anchor owns the definition popup and when the
// popup is dismissed.
//
// Controller is the reference model of the hover state machine. The adapter
// script injected by package linker runs the same transitions in the
// browser: anchor enter and popup enter map to Activate and EnterSurface,
// anchor leave and popup leave schedule the dismissal.
package popup

import (
	"sync"
	"time"

	"github.com/google/safehtml"
	"github.com/jmylchreest/ecmalinks/pkg/htmltree"
	"github.com/jmylchreest/ecmalinks/pkg/semantics"
	"golang.org/x/net/html"
)

// Surface displays popup content next to an anchor.
// Implementations must not call back into the Controller.
type Surface interface {
	Show(anchor *html.Node, content safehtml.HTML)
	Hide()
}

// Renderer produces the popup content for a function name.
type Renderer func(function string) (safehtml.HTML, error)

// IndexRenderer renders the overload groups of ix, recomputed on each call.
func IndexRenderer(ix *semantics.Index) Renderer {
	return func(function string) (safehtml.HTML, error) {
		groups, err := ix.Groups(function)
		if err != nil {
			return safehtml.HTML{}, err
		}
		return semantics.RenderGroups(groups)
	}
}

// Timer is the part of *time.Timer the controller uses.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Option configures a Controller.
type Option func(*Controller)

// WithAfterFunc replaces the timer source.
func WithAfterFunc(af AfterFunc) Option {
	return func(c *Controller) { c.afterFunc = af }
}

// WithRenderer replaces the content renderer.
func WithRenderer(r Renderer) Option {
	return func(c *Controller) { c.render = r }
}

// Controller holds the single active anchor and the pending dismissal.
// Dismissal waits for the grace period so the pointer can travel from the
// anchor onto the popup; entering the popup or any anchor cancels it.
type Controller struct {
	surface   Surface
	render    Renderer
	grace     time.Duration
	afterFunc AfterFunc

	mu      sync.Mutex
	active  *html.Node
	pending Timer
	gen     uint64
}

// NewController creates a controller showing groups from ix on surface.
func NewController(ix *semantics.Index, surface Surface, grace time.Duration, opts ...Option) *Controller {
	c := &Controller{
		surface:   surface,
		render:    IndexRenderer(ix),
		grace:     grace,
		afterFunc: realAfterFunc,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Activate makes anchor the active anchor. Any pending dismissal is
// cancelled. Re-activating the active anchor does not re-render.
func (c *Controller) Activate(anchor *html.Node) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancelLocked()
	if anchor == c.active {
		return nil
	}

	content, err := c.render(htmltree.TextContent(anchor))
	if err != nil {
		return err
	}
	c.active = anchor
	c.surface.Show(anchor, content)
	return nil
}

// Deactivate is called when the pointer leaves an anchor.
func (c *Controller) Deactivate() {
	c.scheduleDismiss()
}

// EnterSurface is called when the pointer enters the popup. It keeps the
// popup open for the active anchor.
func (c *Controller) EnterSurface() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		c.cancelLocked()
	}
}

// LeaveSurface is called when the pointer leaves the popup.
func (c *Controller) LeaveSurface() {
	c.scheduleDismiss()
}

// Active returns the active anchor, or nil while the popup is hidden.
func (c *Controller) Active() *html.Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Controller) scheduleDismiss() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancelLocked()
	gen := c.gen
	c.pending = c.afterFunc(c.grace, func() { c.dismiss(gen) })
}

// cancelLocked invalidates the pending dismissal. Bumping the generation
// covers a timer that already fired and is waiting for the lock.
func (c *Controller) cancelLocked() {
	c.gen++
	if c.pending != nil {
		c.pending.Stop()
		c.pending = nil
	}
}

func (c *Controller) dismiss(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		return
	}
	c.pending = nil
	c.active = nil
	c.surface.Hide()
}
