package browser

import (
	"context"
	"errors"
	"sync"

	"github.com/playwright-community/playwright-go"
)

type fakePage struct {
	mu        sync.Mutex
	url       string
	landURL   string
	gotoErr   error
	gotos     []string
	content   string
	closed    int
	csrfToken interface{}
	csrfCalls int
	fetch     func(arg map[string]interface{}) (interface{}, error)
	fetchArgs []map[string]interface{}
	aborted   []string
}

func newFakePage() *fakePage {
	return &fakePage{
		url:       "about:blank",
		landURL:   DefaultBaseURL + "/",
		csrfToken: "token-1",
	}
}

func (p *fakePage) Goto(url string, _ ...playwright.PageGotoOptions) (playwright.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gotos = append(p.gotos, url)
	if p.gotoErr != nil {
		return nil, p.gotoErr
	}
	p.url = p.landURL
	return nil, nil
}

func (p *fakePage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *fakePage) Evaluate(expression string, arg ...interface{}) (interface{}, error) {
	switch expression {
	case csrfScript:
		p.mu.Lock()
		defer p.mu.Unlock()
		p.csrfCalls++
		return p.csrfToken, nil
	case abortScript:
		p.mu.Lock()
		defer p.mu.Unlock()
		p.aborted = append(p.aborted, arg[0].(string))
		return true, nil
	case fetchScript:
		m := arg[0].(map[string]interface{})
		p.mu.Lock()
		p.fetchArgs = append(p.fetchArgs, m)
		fetch := p.fetch
		p.mu.Unlock()
		if fetch == nil {
			return map[string]interface{}{"ok": true, "status": 200, "statusText": "OK", "text": ""}, nil
		}
		return fetch(m)
	}
	return nil, errors.New("unexpected script")
}

func (p *fakePage) Content() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.content, nil
}

func (p *fakePage) SetDefaultTimeout(float64) {}

func (p *fakePage) Close(...playwright.PageCloseOptions) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

func (p *fakePage) abortedIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.aborted...)
}

type fakeContext struct {
	mu      sync.Mutex
	cookies [][]playwright.OptionalCookie
	closed  int
}

func (c *fakeContext) AddCookies(cookies []playwright.OptionalCookie) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cookies = append(c.cookies, cookies)
	return nil
}

func (c *fakeContext) Close(...playwright.BrowserContextCloseOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

type fakeLauncher struct {
	mu       sync.Mutex
	page     *fakePage
	context  *fakeContext
	err      error
	sessions int
	releases int
	closes   int
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{page: newFakePage(), context: &fakeContext{}}
}

func (l *fakeLauncher) NewSession(ctx context.Context, _ Options) (*Handles, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	l.sessions++
	return NewHandles(l.page, l.context, func() {
		l.mu.Lock()
		l.releases++
		l.mu.Unlock()
	}), nil
}

func (l *fakeLauncher) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closes++
	return nil
}

func (l *fakeLauncher) counts() (sessions, releases, closes int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sessions, l.releases, l.closes
}

func testCookies() []playwright.OptionalCookie {
	domain := ".google.com"
	path := "/"
	return []playwright.OptionalCookie{{Name: "SID", Value: "sid", Domain: &domain, Path: &path}}
}
