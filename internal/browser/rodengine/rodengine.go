// Package rodengine implements the browser contract on top of go-rod.
package rodengine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AlfredBerg/rod-maps-scraper/internal/browser"
	"github.com/AlfredBerg/rod-maps-scraper/internal/js"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type Options struct {
	Headless bool
	// ActionTimeout bounds every single engine call
	ActionTimeout time.Duration
	UserAgent     string
	Logger        *zap.Logger
}

// Engine is a launched browser with one isolated browsing context. Sessions get an Engine each.
type Engine struct {
	opts     Options
	launcher *launcher.Launcher
	root     *rod.Browser
	context  *rod.Browser
}

func Launch(opts Options) (*Engine, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = 10 * time.Second
	}

	l := launcher.New().
		Headless(opts.Headless).
		Set("disable-gpu").
		Set("disable-dev-shm-usage")

	url, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launching browser: %w", err)
	}

	root := rod.New().ControlURL(url)
	if err := root.Connect(); err != nil {
		l.Cleanup()
		return nil, fmt.Errorf("connecting to browser: %w", err)
	}

	incognito, err := root.Incognito()
	if err != nil {
		_ = root.Close()
		l.Cleanup()
		return nil, fmt.Errorf("opening browsing context: %w", err)
	}

	//Don't download files in the browser, e.g. pdf files
	err = proto.BrowserSetDownloadBehavior{
		Behavior:         proto.BrowserSetDownloadBehaviorBehaviorDeny,
		BrowserContextID: incognito.BrowserContextID,
	}.Call(incognito)
	if err != nil {
		opts.Logger.Debug("failed denying downloads", zap.Error(err))
	}

	return &Engine{opts: opts, launcher: l, root: root, context: incognito}, nil
}

func (e *Engine) NewPage() (browser.Page, error) {
	p, err := e.context.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("creating page: %w", err)
	}

	if _, err := p.EvalOnNewDocument(js.HIDE_WEBDRIVER); err != nil {
		e.opts.Logger.Debug("failed installing page script", zap.Error(err))
	}
	if e.opts.UserAgent != "" {
		err = p.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: e.opts.UserAgent})
		if err != nil {
			e.opts.Logger.Debug("failed setting user agent", zap.Error(err))
		}
	}

	//Avoid alerts blocking the page
	go p.EachEvent(func(ev *proto.PageJavascriptDialogOpening) {
		_ = proto.PageHandleJavaScriptDialog{Accept: false}.Call(p)
	})()

	return &page{page: p, timeout: e.opts.ActionTimeout}, nil
}

// Close disposes the browsing context, closes the browser and removes its profile.
func (e *Engine) Close() error {
	var err error
	err = multierr.Append(err, e.context.Close())
	err = multierr.Append(err, e.root.Close())
	e.launcher.Cleanup()
	return err
}

type page struct {
	page    *rod.Page
	timeout time.Duration
}

func (p *page) Navigate(url string) error {
	tp := p.page.Timeout(p.timeout)
	defer tp.CancelTimeout()

	if err := tp.Navigate(url); err != nil {
		return err
	}
	return tp.WaitLoad()
}

func (p *page) Element(selector string) (browser.Element, error) {
	has, el, err := p.page.Has(selector)
	if err != nil || !has {
		return nil, err
	}
	return &element{el: el, timeout: p.timeout}, nil
}

func (p *page) Elements(selector string) ([]browser.Element, error) {
	els, err := p.page.Elements(selector)
	if err != nil {
		return nil, err
	}
	out := make([]browser.Element, 0, len(els))
	for _, el := range els {
		out = append(out, &element{el: el, timeout: p.timeout})
	}
	return out, nil
}

func (p *page) Count(selector string) (int, error) {
	tp := p.page.Timeout(p.timeout)
	defer tp.CancelTimeout()

	res, err := tp.Eval(js.COUNT_MATCHES, selector)
	if err != nil {
		return 0, err
	}
	return res.Value.Int(), nil
}

func (p *page) WaitElement(selector string, timeout time.Duration) (browser.Element, error) {
	if timeout <= 0 {
		el, err := p.Element(selector)
		if err == nil && el == nil {
			return nil, browser.ErrNotFound
		}
		return el, err
	}

	tp := p.page.Timeout(timeout)
	el, err := tp.Element(selector)
	tp.CancelTimeout()
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, browser.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	// detach from the expired wait context
	return &element{el: el.Context(p.page.GetContext()), timeout: p.timeout}, nil
}

func (p *page) Close() error {
	return p.page.Close()
}

type element struct {
	el      *rod.Element
	timeout time.Duration
}

func (e *element) Element(selector string) (browser.Element, error) {
	has, el, err := e.el.Has(selector)
	if err != nil || !has {
		return nil, err
	}
	return &element{el: el, timeout: e.timeout}, nil
}

func (e *element) Text() (string, error) {
	te := e.el.Timeout(e.timeout)
	defer te.CancelTimeout()

	res, err := te.Eval(js.TEXT_CONTENT)
	if err != nil {
		return "", err
	}
	if res.Value.Nil() {
		return "", nil
	}
	return res.Value.Str(), nil
}

func (e *element) Attribute(name string) (*string, error) {
	te := e.el.Timeout(e.timeout)
	defer te.CancelTimeout()
	return te.Attribute(name)
}

func (e *element) ScrollBy(dy int) error {
	te := e.el.Timeout(e.timeout)
	defer te.CancelTimeout()

	_, err := te.Eval(js.SCROLL_BY, dy)
	return err
}

func (e *element) Click() error {
	te := e.el.Timeout(e.timeout)
	defer te.CancelTimeout()
	return te.Click(proto.InputMouseButtonLeft, 1)
}
