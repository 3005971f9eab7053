package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/reelsync/internal/shared"
	"github.com/desertthunder/reelsync/internal/transport"
)

// BrowserAgent drives a signed-in browser for services without a bulk API.
//
// Element lookups fail with an error wrapping [shared.ErrElementNotFound].
type BrowserAgent interface {
	// LoadPage navigates to url and reports whether it loaded along with the HTTP status.
	// A zero status means the status could not be determined.
	LoadPage(ctx context.Context, url string) (bool, int)
	CurrentURL(ctx context.Context) (string, error)
	FindAndClick(ctx context.Context, selector string) error
	// ReadField returns the visible text of the element.
	ReadField(ctx context.Context, selector string) (string, error)
	ReadAttribute(ctx context.Context, selector, name string) (string, error)
	// Fill replaces the element's value with text.
	Fill(ctx context.Context, selector, text string) error
	Close(ctx context.Context) error
}

// webElementKey identifies element references in W3C WebDriver payloads.
const webElementKey = "element-6066-11e4-a52e-4f735466cecf"

const navigationStatusScript = `const e = window.performance.getEntriesByType('navigation')[0];
return e && e.responseStatus ? e.responseStatus : 0;`

// WebDriver is a [BrowserAgent] speaking the W3C WebDriver protocol to chromedriver
// or a Selenium server. The session starts on first use.
type WebDriver struct {
	client       *transport.Client
	baseURL      string
	capabilities map[string]any
	implicitWait time.Duration
	logger       *log.Logger

	mu      sync.Mutex
	session string
}

// NewWebDriver creates an agent for the endpoint in cfg. A nil client gets a
// single-retry client suited to a local driver.
func NewWebDriver(cfg shared.IMDbConfig, client *transport.Client, logger *log.Logger) *WebDriver {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	if client == nil {
		policy := transport.DefaultPolicy(2, 500*time.Millisecond)
		policy.Retryable = func(status int, err error) bool {
			return err != nil && !errors.Is(err, context.Canceled)
		}
		client = transport.New(policy, transport.WithTimeout(60*time.Second))
	}

	args := []string{"--disable-gpu", "--window-size=1920,1080", "--log-level=3"}
	if cfg.Headless {
		args = append(args, "--headless=new")
	}
	if cfg.ProfileDir != "" {
		args = append(args, "--user-data-dir="+cfg.ProfileDir)
	}

	return &WebDriver{
		client:  client,
		baseURL: strings.TrimRight(cfg.WebDriverURL, "/"),
		capabilities: map[string]any{
			"browserName":        "chrome",
			"pageLoadStrategy":   "normal",
			"goog:chromeOptions": map[string]any{"args": args},
		},
		implicitWait: 10 * time.Second,
		logger:       logger,
	}
}

type wdError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// command sends one WebDriver command and returns the "value" member of the response.
func (d *WebDriver) command(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	endpoint := d.baseURL + path

	var res *transport.Result
	switch method {
	case http.MethodGet:
		res = d.client.Get(ctx, endpoint, nil)
	case http.MethodPost:
		if body == nil {
			body = struct{}{}
		}
		res = d.client.PostJSON(ctx, endpoint, nil, body)
	default:
		req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		res = d.client.Do(ctx, req)
	}

	if res.Err != nil {
		return nil, fmt.Errorf("%w: webdriver: %v", shared.ErrServiceUnavailable, res.Err)
	}

	var envelope struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(res.Body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: webdriver returned status %d with unreadable body", shared.ErrAPIRequest, res.StatusCode)
	}

	if !res.OK() {
		var wde wdError
		_ = json.Unmarshal(envelope.Value, &wde)
		if wde.Error == "no such element" || wde.Error == "stale element reference" {
			return nil, fmt.Errorf("%w: %s", shared.ErrElementNotFound, wde.Message)
		}
		return nil, fmt.Errorf("%w: webdriver %s: %s", shared.ErrAPIRequest, wde.Error, wde.Message)
	}
	return envelope.Value, nil
}

func (d *WebDriver) ensureSession(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.session != "" {
		return d.session, nil
	}

	body := map[string]any{"capabilities": map[string]any{"alwaysMatch": d.capabilities}}
	value, err := d.command(ctx, http.MethodPost, "/session", body)
	if err != nil {
		return "", fmt.Errorf("failed to start browser session: %w", err)
	}

	var created struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(value, &created); err != nil || created.SessionID == "" {
		return "", fmt.Errorf("%w: webdriver returned no session id", shared.ErrAPIRequest)
	}
	d.session = created.SessionID

	timeouts := map[string]any{"implicit": d.implicitWait.Milliseconds(), "pageLoad": 30_000}
	if _, err := d.command(ctx, http.MethodPost, sessionPath(d.session, "/timeouts"), timeouts); err != nil {
		d.logger.Warn("could not set browser timeouts", "error", err)
	}

	d.logger.Debug("browser session started", "session", d.session)
	return d.session, nil
}

func sessionPath(id, suffix string) string {
	return "/session/" + url.PathEscape(id) + suffix
}

func (d *WebDriver) sessionCommand(ctx context.Context, method, suffix string, body any) (json.RawMessage, error) {
	id, err := d.ensureSession(ctx)
	if err != nil {
		return nil, err
	}
	return d.command(ctx, method, sessionPath(id, suffix), body)
}

// find returns the element reference for selector. Selectors starting with "/" or "(" use XPath.
func (d *WebDriver) find(ctx context.Context, selector string) (string, error) {
	using := "css selector"
	if strings.HasPrefix(selector, "/") || strings.HasPrefix(selector, "(") {
		using = "xpath"
	}

	value, err := d.sessionCommand(ctx, http.MethodPost, "/element", map[string]string{"using": using, "value": selector})
	if err != nil {
		return "", err
	}

	var ref map[string]string
	if err := json.Unmarshal(value, &ref); err != nil || ref[webElementKey] == "" {
		return "", fmt.Errorf("%w: %s", shared.ErrElementNotFound, selector)
	}
	return ref[webElementKey], nil
}

func (d *WebDriver) LoadPage(ctx context.Context, pageURL string) (bool, int) {
	if _, err := d.sessionCommand(ctx, http.MethodPost, "/url", map[string]string{"url": pageURL}); err != nil {
		d.logger.Warn("navigation failed", "url", pageURL, "error", err)
		return false, 0
	}

	value, err := d.sessionCommand(ctx, http.MethodPost, "/execute/sync", map[string]any{"script": navigationStatusScript, "args": []any{}})
	if err != nil {
		d.logger.Warn("could not read page status", "url", pageURL, "error", err)
		return false, 0
	}

	var status int
	if err := json.Unmarshal(value, &status); err != nil || status == 0 {
		return false, 0
	}
	return status < 400, status
}

func (d *WebDriver) CurrentURL(ctx context.Context) (string, error) {
	value, err := d.sessionCommand(ctx, http.MethodGet, "/url", nil)
	if err != nil {
		return "", err
	}
	var current string
	if err := json.Unmarshal(value, &current); err != nil {
		return "", fmt.Errorf("failed to decode current url: %w", err)
	}
	return current, nil
}

// FindAndClick clicks through script so overlays cannot intercept the click.
func (d *WebDriver) FindAndClick(ctx context.Context, selector string) error {
	id, err := d.find(ctx, selector)
	if err != nil {
		return err
	}
	body := map[string]any{
		"script": "arguments[0].click();",
		"args":   []any{map[string]string{webElementKey: id}},
	}
	_, err = d.sessionCommand(ctx, http.MethodPost, "/execute/sync", body)
	return err
}

func (d *WebDriver) ReadField(ctx context.Context, selector string) (string, error) {
	id, err := d.find(ctx, selector)
	if err != nil {
		return "", err
	}
	return d.readString(ctx, "/element/"+url.PathEscape(id)+"/text")
}

// ReadAttribute reads DOM properties (value, innerHTML) as properties and everything else as attributes.
func (d *WebDriver) ReadAttribute(ctx context.Context, selector, name string) (string, error) {
	id, err := d.find(ctx, selector)
	if err != nil {
		return "", err
	}
	kind := "attribute"
	if name == "value" || name == "innerHTML" {
		kind = "property"
	}
	return d.readString(ctx, "/element/"+url.PathEscape(id)+"/"+kind+"/"+url.PathEscape(name))
}

func (d *WebDriver) readString(ctx context.Context, suffix string) (string, error) {
	value, err := d.sessionCommand(ctx, http.MethodGet, suffix, nil)
	if err != nil {
		return "", err
	}
	var s *string
	if err := json.Unmarshal(value, &s); err != nil {
		return "", fmt.Errorf("failed to decode element value: %w", err)
	}
	if s == nil {
		return "", nil
	}
	return *s, nil
}

func (d *WebDriver) Fill(ctx context.Context, selector, text string) error {
	id, err := d.find(ctx, selector)
	if err != nil {
		return err
	}
	element := "/element/" + url.PathEscape(id)
	if _, err := d.sessionCommand(ctx, http.MethodPost, element+"/clear", nil); err != nil {
		return err
	}
	_, err = d.sessionCommand(ctx, http.MethodPost, element+"/value", map[string]string{"text": text})
	return err
}

// Close ends the browser session. Closing without a session is a no-op.
func (d *WebDriver) Close(ctx context.Context) error {
	d.mu.Lock()
	session := d.session
	d.mu.Unlock()
	if session == "" {
		return nil
	}

	_, err := d.command(ctx, http.MethodDelete, sessionPath(session, ""), nil)

	d.mu.Lock()
	d.session = ""
	d.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to close browser session: %w", err)
	}
	d.logger.Debug("browser session closed", "session", session)
	return nil
}
