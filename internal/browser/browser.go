// Package browser is the narrow contract the scraping pipeline uses to drive a rendering engine.
// Every call is fallible; callers treat a failure as an absent value.
package browser

import (
	"errors"
	"time"
)

// ErrNotFound is returned by WaitElement when nothing matched before the timeout.
var ErrNotFound = errors.New("element not found")

// Browser is one browsing context. Closing it closes every page it opened.
type Browser interface {
	NewPage() (Page, error)
	Close() error
}

type Page interface {
	Navigate(url string) error
	// Element returns nil, nil when nothing matches the selector.
	Element(selector string) (Element, error)
	Elements(selector string) ([]Element, error)
	// Count returns the number of matches without holding on to them.
	Count(selector string) (int, error)
	WaitElement(selector string, timeout time.Duration) (Element, error)
	Close() error
}

type Element interface {
	// Element returns nil, nil when nothing under this element matches the selector.
	Element(selector string) (Element, error)
	Text() (string, error)
	// Attribute returns nil, nil when the attribute is not set.
	Attribute(name string) (*string, error)
	ScrollBy(dy int) error
	Click() error
}
