package testing

import (
	"context"
	"fmt"
	"sync"

	"github.com/desertthunder/reelsync/internal/shared"
)

// FakeBrowser is a scripted browser automation agent.
//
// An element exists when its selector is a key of Elements, Fields or Attributes.
type FakeBrowser struct {
	mu sync.Mutex

	// Statuses are returned by successive LoadPage calls; the last one repeats. Empty means 200.
	Statuses []int
	// Redirects maps a requested URL to where the page ends up.
	Redirects  map[string]string
	Elements   map[string]bool
	Fields     map[string]string
	Attributes map[string]map[string]string
	// OnClick mutates page state after a successful click on the selector.
	OnClick map[string]func(b *FakeBrowser)

	Loaded  []string
	Clicked []string
	Filled  map[string]string
	Closed  bool

	current string
	loads   int
}

// NewFakeBrowser returns a browser with empty page state.
func NewFakeBrowser() *FakeBrowser {
	return &FakeBrowser{
		Redirects:  map[string]string{},
		Elements:   map[string]bool{},
		Fields:     map[string]string{},
		Attributes: map[string]map[string]string{},
		OnClick:    map[string]func(*FakeBrowser){},
		Filled:     map[string]string{},
	}
}

// SetAttribute sets an attribute on selector, creating the element. Safe to call from OnClick.
func (b *FakeBrowser) SetAttribute(selector, name, value string) {
	if b.Attributes[selector] == nil {
		b.Attributes[selector] = map[string]string{}
	}
	b.Attributes[selector][name] = value
}

func (b *FakeBrowser) LoadPage(ctx context.Context, url string) (bool, int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.Loaded = append(b.Loaded, url)
	status := 200
	if n := len(b.Statuses); n > 0 {
		status = b.Statuses[min(b.loads, n-1)]
	}
	b.loads++

	if status == 0 {
		return false, 0
	}
	b.current = url
	if to, ok := b.Redirects[url]; ok {
		b.current = to
	}
	return status < 400, status
}

func (b *FakeBrowser) CurrentURL(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current, nil
}

func (b *FakeBrowser) FindAndClick(ctx context.Context, selector string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.exists(selector) {
		return fmt.Errorf("%w: %s", shared.ErrElementNotFound, selector)
	}
	b.Clicked = append(b.Clicked, selector)
	if fn, ok := b.OnClick[selector]; ok {
		fn(b)
	}
	return nil
}

func (b *FakeBrowser) ReadField(ctx context.Context, selector string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	v, ok := b.Fields[selector]
	if !ok {
		return "", fmt.Errorf("%w: %s", shared.ErrElementNotFound, selector)
	}
	return v, nil
}

func (b *FakeBrowser) ReadAttribute(ctx context.Context, selector, name string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	attrs, ok := b.Attributes[selector]
	if !ok {
		return "", fmt.Errorf("%w: %s", shared.ErrElementNotFound, selector)
	}
	return attrs[name], nil
}

func (b *FakeBrowser) Fill(ctx context.Context, selector, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.exists(selector) {
		return fmt.Errorf("%w: %s", shared.ErrElementNotFound, selector)
	}
	b.Filled[selector] = text
	return nil
}

func (b *FakeBrowser) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Closed = true
	return nil
}

// Clicks returns a copy of the clicked selectors in order.
func (b *FakeBrowser) Clicks() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.Clicked...)
}

func (b *FakeBrowser) exists(selector string) bool {
	if b.Elements[selector] {
		return true
	}
	if _, ok := b.Fields[selector]; ok {
		return true
	}
	_, ok := b.Attributes[selector]
	return ok
}
