// Package launch turns a redeemed grant into the response that logs the
// browser into the tool.
package launch

import (
	"bytes"
	"crypto/rand"
	"embed"
	"encoding/base64"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Masterminds/sprig/v3"

	"go.pilab.hu/toolgate"
)

//go:embed templates/*.html
var templateFS embed.FS

// Client-side timing. The inject poll is bounded to MaxAttempts*PollInterval.
const (
	DefaultSubmitDelay  = 1500 * time.Millisecond
	DefaultPollInterval = 500 * time.Millisecond
	DefaultMaxAttempts  = 40
)

// ErrUnsafeLoginURL is returned for login URLs that are not absolute http(s).
var ErrUnsafeLoginURL = errors.New("launch: login url must be absolute http or https")

// Kind names a delivery strategy.
type Kind string

const (
	KindRedirect          Kind = "redirect"
	KindFormAutoSubmit    Kind = "form_auto_submit"
	KindCrossWindowInject Kind = "cross_window_inject"
)

// Select picks the strategy kind for grant. Grants without credentials are
// always redirected.
func Select(grant *toolgate.Grant) Kind {
	if !grant.HasCredentials() {
		return KindRedirect
	}

	switch grant.Delivery {
	case toolgate.DeliveryRedirect:
		return KindRedirect
	case toolgate.DeliveryInject:
		return KindCrossWindowInject
	default:
		return KindFormAutoSubmit
	}
}

// Strategy delivers a redeemed grant to the browser.
type Strategy interface {
	Kind() Kind
	Deliver(w http.ResponseWriter, r *http.Request, grant *toolgate.Grant) error
}

// Options configures a Renderer.
type Options struct {
	// ReturnURL is linked from the error page. Defaults to "/".
	ReturnURL string
	// BlockInspection adds a script that swallows the context menu and the
	// devtools shortcuts. It does not protect anything.
	BlockInspection bool

	SubmitDelay  time.Duration
	PollInterval time.Duration
	MaxAttempts  int
}

// Renderer owns the parsed page templates.
type Renderer struct {
	tmpl *template.Template
	opts Options
}

// NewRenderer parses the embedded templates.
func NewRenderer(opts Options) (*Renderer, error) {
	if opts.ReturnURL == "" {
		opts.ReturnURL = "/"
	}
	if opts.SubmitDelay <= 0 {
		opts.SubmitDelay = DefaultSubmitDelay
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}

	tmpl, err := template.New("launch").
		Funcs(sprig.HtmlFuncMap()).
		ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("launch: parse templates: %w", err)
	}

	return &Renderer{tmpl: tmpl, opts: opts}, nil
}

// Strategy returns the strategy Select picks for grant.
func (rn *Renderer) Strategy(grant *toolgate.Grant) Strategy {
	switch Select(grant) {
	case KindCrossWindowInject:
		return &CrossWindowInject{renderer: rn}
	case KindFormAutoSubmit:
		return &FormAutoSubmit{renderer: rn}
	default:
		return Redirect{}
	}
}

// Launch delivers grant with the selected strategy.
func (rn *Renderer) Launch(w http.ResponseWriter, r *http.Request, grant *toolgate.Grant) error {
	return rn.Strategy(grant).Deliver(w, r, grant)
}

// Redirect sends the browser to the grant's login target, which is the tool
// URL when no credential login URL is configured.
type Redirect struct{}

func (Redirect) Kind() Kind { return KindRedirect }

func (Redirect) Deliver(w http.ResponseWriter, r *http.Request, grant *toolgate.Grant) error {
	if !isHTTPURL(grant.LoginURL) {
		return ErrUnsafeLoginURL
	}

	setNoStoreHeaders(w)
	http.Redirect(w, r, grant.LoginURL, http.StatusFound)
	return nil
}

// FormAutoSubmit renders a hidden POST form that the page script fills in
// and submits.
type FormAutoSubmit struct {
	renderer *Renderer
}

func (*FormAutoSubmit) Kind() Kind { return KindFormAutoSubmit }

func (s *FormAutoSubmit) Deliver(w http.ResponseWriter, r *http.Request, grant *toolgate.Grant) error {
	if !grant.HasCredentials() {
		return Redirect{}.Deliver(w, r, grant)
	}
	return s.renderer.renderLaunch(w, "form.html", grant)
}

// CrossWindowInject opens the login page in a new window and fills its
// inputs from the opener. Browsers only allow that for same-origin tools.
// Delivery failures (popup blocked, cross-origin field access denied) stay
// in the browser: the page falls back to the form submit, then to a manual
// link, and never reports back to the server.
type CrossWindowInject struct {
	renderer *Renderer
}

func (*CrossWindowInject) Kind() Kind { return KindCrossWindowInject }

func (s *CrossWindowInject) Deliver(w http.ResponseWriter, r *http.Request, grant *toolgate.Grant) error {
	if !grant.HasCredentials() {
		return Redirect{}.Deliver(w, r, grant)
	}
	return s.renderer.renderLaunch(w, "inject.html", grant)
}

type pageConfig struct {
	Payload      string `json:"payload"`
	LoginURL     string `json:"loginURL"`
	SubmitDelay  int64  `json:"submitDelay"`
	PollInterval int64  `json:"pollInterval"`
	MaxAttempts  int    `json:"maxAttempts"`
}

type launchPage struct {
	Nonce           string
	ToolName        string
	LoginURL        string
	UsernameFields  []string
	PasswordFields  []string
	BlockInspection bool
	Config          pageConfig
}

func (rn *Renderer) renderLaunch(w http.ResponseWriter, name string, grant *toolgate.Grant) error {
	if !isHTTPURL(grant.LoginURL) {
		return ErrUnsafeLoginURL
	}

	encoded, err := EncodePayload(grant.Credentials)
	if err != nil {
		return err
	}
	nonce, err := newNonce()
	if err != nil {
		return err
	}

	page := launchPage{
		Nonce:           nonce,
		ToolName:        grant.ToolName,
		LoginURL:        grant.LoginURL,
		UsernameFields:  UsernameFields(grant.Credentials),
		PasswordFields:  PasswordFields(grant.Credentials),
		BlockInspection: rn.opts.BlockInspection,
		Config: pageConfig{
			Payload:      encoded,
			LoginURL:     grant.LoginURL,
			SubmitDelay:  rn.opts.SubmitDelay.Milliseconds(),
			PollInterval: rn.opts.PollInterval.Milliseconds(),
			MaxAttempts:  rn.opts.MaxAttempts,
		},
	}

	return rn.render(w, http.StatusOK, name, nonce, launchFormAction, page)
}

type errorPage struct {
	Nonce     string
	Title     string
	Message   string
	ReturnURL string
}

// ErrorPage describes how a redemption error is shown.
func ErrorPage(err error) (title, message string) {
	switch {
	case errors.Is(err, toolgate.ErrExpired):
		return "Link Expired", "This access link has expired."
	case errors.Is(err, toolgate.ErrAlreadyUsed):
		return "Link Used", "This one-time link has already been used."
	default:
		return "Invalid Access Link", "This access link is invalid or expired."
	}
}

// RenderError writes the error page. The status is always 403 so the page
// does not reveal which check failed beyond its wording.
func (rn *Renderer) RenderError(w http.ResponseWriter, err error) error {
	nonce, nerr := newNonce()
	if nerr != nil {
		return nerr
	}
	title, message := ErrorPage(err)

	return rn.render(w, http.StatusForbidden, "error.html", nonce, "'none'", errorPage{
		Nonce:     nonce,
		Title:     title,
		Message:   message,
		ReturnURL: rn.opts.ReturnURL,
	})
}

func (rn *Renderer) render(w http.ResponseWriter, status int, name, nonce, formAction string, data any) error {
	var buf bytes.Buffer
	if err := rn.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return fmt.Errorf("launch: render %s: %w", name, err)
	}

	h := w.Header()
	setNoStoreHeaders(w)
	h.Set("Content-Type", "text/html; charset=utf-8")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("Content-Security-Policy", fmt.Sprintf(
		"default-src 'none'; script-src 'nonce-%s'; style-src 'nonce-%s'; form-action %s; base-uri 'none'; frame-ancestors 'none'",
		nonce, nonce, formAction))

	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}

func setNoStoreHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Cache-Control", "no-store")
	h.Set("Pragma", "no-cache")
	h.Set("Referrer-Policy", "no-referrer")
	h.Set("X-Robots-Tag", "noindex, nofollow")
}

func newNonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("launch: nonce: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme == "http" || scheme == "https"
}

// launchFormAction is the CSP form-action of launch pages. Browsers apply
// form-action to the redirects that follow a submit, and login POSTs often
// hop to an SSO or app origin, so the login origin alone would block them.
const launchFormAction = "*"
