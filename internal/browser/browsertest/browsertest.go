// Package browsertest is a scripted, in-memory rendering engine for exercising the pipeline
// without a real browser.
package browsertest

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AlfredBerg/rod-maps-scraper/internal/browser"
)

// Node is a fake DOM node. Children are looked up by the exact selector string.
type Node struct {
	Text     string
	Attrs    map[string]string
	Children map[string]*Node
	// Err is returned by every read on this node
	Err     error
	OnClick func()
	// RenderAfter keeps a root child absent for the first RenderAfter lookups on its page after
	// navigation, like a panel drawn by script after the load event.
	RenderAfter int
}

// Document is what a URL renders to.
type Document struct {
	// Root children are what Page.Element resolves
	Root *Node
	// Items are what Page.Elements(ItemSelector) resolves, lazily rendered according to Counts
	ItemSelector string
	Items        []*Node
	// Counts[i] is the number of rendered items after i scrolls; the last value repeats.
	// Empty means every item is rendered from the start.
	Counts []int
	// NavigateErr fails navigation to this document
	NavigateErr error
	// NavigateDelay is slept before navigation returns
	NavigateDelay time.Duration
}

type Browser struct {
	mu          sync.Mutex
	Documents   map[string]*Document
	NewPageErr  error
	navigations []string
	handles     int
	opened      int
	closedPages int
	closed      bool
	// OnNavigate runs after every successful navigation
	OnNavigate func(url string)
}

func New(docs map[string]*Document) *Browser {
	return &Browser{Documents: docs}
}

func (b *Browser) NewPage() (browser.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.NewPageErr != nil {
		return nil, b.NewPageErr
	}
	if b.closed {
		return nil, errors.New("browser closed")
	}
	b.opened++
	return &page{browser: b}, nil
}

func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Navigations returns every URL navigated to, in order.
func (b *Browser) Navigations() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.navigations...)
}

// Handles returns the number of item handles handed out by Elements so far.
func (b *Browser) Handles() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handles
}

// PagesOpened returns the number of pages created so far.
func (b *Browser) PagesOpened() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opened
}

// PagesClosed returns the number of pages closed so far.
func (b *Browser) PagesClosed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closedPages
}

const pollInterval = time.Millisecond

type page struct {
	browser *Browser
	doc     *Document
	scrolls int
	// root lookups since navigation
	lookups int
	// set while a second goroutine uses the page, which would be a pool bug
	busy sync.Mutex
}

func (p *page) Navigate(url string) error {
	if !p.busy.TryLock() {
		panic("browsertest: page used concurrently")
	}
	defer p.busy.Unlock()

	p.browser.mu.Lock()
	doc, ok := p.browser.Documents[url]
	p.browser.navigations = append(p.browser.navigations, url)
	p.browser.mu.Unlock()

	if !ok {
		return fmt.Errorf("no document for %s", url)
	}
	time.Sleep(doc.NavigateDelay)
	if doc.NavigateErr != nil {
		return doc.NavigateErr
	}
	p.doc = doc
	p.scrolls = 0
	p.lookups = 0
	if p.browser.OnNavigate != nil {
		p.browser.OnNavigate(url)
	}
	return nil
}

func (p *page) Element(selector string) (browser.Element, error) {
	if p.doc == nil || p.doc.Root == nil {
		return nil, nil
	}
	p.lookups++
	child, ok := p.doc.Root.Children[selector]
	if !ok || p.lookups <= child.RenderAfter {
		return nil, nil
	}
	return &element{node: child, page: p}, nil
}

func (p *page) Elements(selector string) ([]browser.Element, error) {
	n := p.rendered(selector)
	if n == 0 {
		return nil, nil
	}
	p.browser.mu.Lock()
	p.browser.handles += n
	p.browser.mu.Unlock()

	out := make([]browser.Element, 0, n)
	for _, item := range p.doc.Items[:n] {
		out = append(out, &element{node: item, page: p})
	}
	return out, nil
}

func (p *page) Count(selector string) (int, error) {
	return p.rendered(selector), nil
}

func (p *page) rendered(selector string) int {
	if p.doc == nil || selector != p.doc.ItemSelector {
		return 0
	}
	n := len(p.doc.Items)
	if len(p.doc.Counts) > 0 {
		i := p.scrolls
		if i >= len(p.doc.Counts) {
			i = len(p.doc.Counts) - 1
		}
		n = min(p.doc.Counts[i], len(p.doc.Items))
	}
	return n
}

// WaitElement polls until the selector renders or the timeout passes.
func (p *page) WaitElement(selector string, timeout time.Duration) (browser.Element, error) {
	deadline := time.Now().Add(timeout)
	for {
		el, err := p.Element(selector)
		if err != nil {
			return nil, err
		}
		if el != nil {
			return el, nil
		}
		if !time.Now().Before(deadline) {
			return nil, browser.ErrNotFound
		}
		time.Sleep(pollInterval)
	}
}

func (p *page) Close() error {
	p.browser.mu.Lock()
	defer p.browser.mu.Unlock()
	p.browser.closedPages++
	return nil
}

type element struct {
	node *Node
	page *page
}

func (e *element) Element(selector string) (browser.Element, error) {
	if e.node.Err != nil {
		return nil, e.node.Err
	}
	child, ok := e.node.Children[selector]
	if !ok {
		return nil, nil
	}
	return &element{node: child, page: e.page}, nil
}

func (e *element) Text() (string, error) {
	if e.node.Err != nil {
		return "", e.node.Err
	}
	return e.node.Text, nil
}

func (e *element) Attribute(name string) (*string, error) {
	if e.node.Err != nil {
		return nil, e.node.Err
	}
	v, ok := e.node.Attrs[name]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

// ScrollBy advances the owning page's lazy rendering by one step.
func (e *element) ScrollBy(dy int) error {
	if e.node.Err != nil {
		return e.node.Err
	}
	e.page.scrolls++
	return nil
}

func (e *element) Click() error {
	if e.node.Err != nil {
		return e.node.Err
	}
	if e.node.OnClick != nil {
		e.node.OnClick()
	}
	return nil
}

// Listing builds an item node the way a results feed renders one. Empty values are left out.
func Listing(name, address, category, link, phone, rating, reviews string) *Node {
	n := &Node{Children: map[string]*Node{}}
	set := func(selector, text string) {
		if text != "" {
			n.Children[selector] = &Node{Text: text}
		}
	}
	set(".fontHeadlineSmall", name)
	set(`.W4Efsd > span:last-of-type span[dir="ltr"]`, address)
	set(".W4Efsd > span:first-child span", category)
	set(".UsdlK", phone)
	set(".MW4etd", rating)
	set(`.UY7F9 span[dir="ltr"]`, reviews)
	if link != "" {
		n.Children["a[href]"] = &Node{Attrs: map[string]string{"href": link}}
	}
	return n
}

// Place builds the document a maps link renders to: the place header, optionally with a website link.
func Place(website string) *Document {
	root := &Node{Children: map[string]*Node{"h1.DUwDvf": {Text: "Place"}}}
	if website != "" {
		root.Children[`a[data-item-id="authority"]`] = &Node{Attrs: map[string]string{"href": website}}
	}
	return &Document{Root: root}
}
