// Package invoke issues HTTP requests on behalf of console commands, either
// through the host's own handler without a socket or over the network.
package invoke

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
)

const (
	// DefaultTimeout bounds a request when none is configured.
	DefaultTimeout = 10 * time.Second
	// DefaultPreviewLimit is the number of body characters shown unless
	// full output is requested.
	DefaultPreviewLimit = 2000
)

// Methods are the request methods the console accepts.
var Methods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch}

var (
	// ErrUnsupportedMethod is returned for methods outside Methods.
	ErrUnsupportedMethod = errors.New("unsupported method")
	// ErrInvalidBody is returned when a request body is not JSON.
	ErrInvalidBody = errors.New("invalid JSON")
	// ErrNoHandler is returned for in-process targets when the host has no handler.
	ErrNoHandler = errors.New("no in-process handler")
)

// Options configures an Invoker.
type Options struct {
	// Handler serves in-process requests.
	Handler http.Handler
	// SelfHosts lists host[:port] values that address the host itself.
	// Absolute URLs naming one of them are served in-process.
	SelfHosts []string
	// Client performs external requests; nil means a client with Timeout.
	Client *http.Client
	// Timeout bounds every request.
	Timeout time.Duration
	// PreviewLimit is the body preview length in characters.
	PreviewLimit int
}

// Invoker performs console HTTP requests.
type Invoker struct {
	handler      http.Handler
	selfHosts    []string
	client       *http.Client
	timeout      time.Duration
	previewLimit int
}

// New creates an Invoker.
func New(opts Options) *Invoker {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.PreviewLimit <= 0 {
		opts.PreviewLimit = DefaultPreviewLimit
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: opts.Timeout}
	}
	return &Invoker{
		handler:      opts.Handler,
		selfHosts:    opts.SelfHosts,
		client:       opts.Client,
		timeout:      opts.Timeout,
		previewLimit: opts.PreviewLimit,
	}
}

// PreviewLimit returns the configured preview length.
func (iv *Invoker) PreviewLimit() int { return iv.previewLimit }

// Request describes one console request.
type Request struct {
	Method string
	// Target is a path ("/health") or an absolute URL.
	Target string
	// Body is an optional JSON document. Comments and trailing commas are
	// accepted.
	Body string
}

// Response is the captured outcome of a request.
type Response struct {
	Method     string
	Target     string
	StatusCode int
	Status     string
	Header     http.Header
	// Body is the payload after Content-Encoding has been removed.
	Body      []byte
	Elapsed   time.Duration
	InProcess bool
}

// ParseMethod normalizes a method name and rejects unsupported ones.
func ParseMethod(s string) (string, error) {
	m := strings.ToUpper(strings.TrimSpace(s))
	if !slices.Contains(Methods, m) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedMethod, m)
	}
	return m, nil
}

// Do performs req. Targets that are paths, or URLs naming a self host, are
// served by the in-process handler; everything else goes over the network.
func (iv *Invoker) Do(ctx context.Context, req Request) (*Response, error) {
	method, err := ParseMethod(req.Method)
	if err != nil {
		return nil, err
	}
	var body []byte
	if strings.TrimSpace(req.Body) != "" {
		body = jsonc.ToJSON([]byte(req.Body))
		if !json.Valid(body) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidBody, req.Body)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, iv.timeout)
	defer cancel()

	target, inProcess, err := iv.route(req.Target)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept-Encoding", "gzip, zstd")
	httpReq.Header.Set("User-Agent", "devconsole")

	start := time.Now()
	var resp *Response
	if inProcess {
		resp, err = iv.serve(ctx, httpReq)
	} else {
		resp, err = iv.fetch(httpReq)
	}
	if err != nil {
		return nil, err
	}
	resp.Method = method
	resp.Target = req.Target
	resp.Elapsed = time.Since(start)
	resp.InProcess = inProcess

	decoded, err := decodeContent(resp.Header.Get("Content-Encoding"), resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	resp.Body = decoded
	return resp, nil
}

// route resolves a target to a request URL and reports whether it is served
// in-process.
func (iv *Invoker) route(target string) (string, bool, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", false, errors.New("empty target")
	}
	if strings.HasPrefix(target, "/") {
		return "http://localhost" + target, true, nil
	}
	u, err := url.Parse(target)
	if err != nil {
		return "", false, fmt.Errorf("parse target: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false, fmt.Errorf("parse target: unsupported scheme %q", u.Scheme)
	}
	return target, slices.Contains(iv.selfHosts, u.Host), nil
}

// serve runs the request through the host handler. The handler runs on its
// own goroutine so a stalled handler cannot outlive the request timeout.
func (iv *Invoker) serve(ctx context.Context, req *http.Request) (*Response, error) {
	if iv.handler == nil {
		return nil, ErrNoHandler
	}
	rec := httptest.NewRecorder()
	done := make(chan any, 1)
	go func() {
		defer func() { done <- recover() }()
		iv.handler.ServeHTTP(rec, req)
	}()

	select {
	case p := <-done:
		if p != nil {
			return nil, fmt.Errorf("handler panic: %v", p)
		}
	case <-ctx.Done():
		return nil, fmt.Errorf("in-process request: %w", ctx.Err())
	}

	res := rec.Result()
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return &Response{
		StatusCode: res.StatusCode,
		Status:     statusLine(res.StatusCode),
		Header:     res.Header,
		Body:       data,
	}, nil
}

func (iv *Invoker) fetch(req *http.Request) (*Response, error) {
	res, err := iv.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return &Response{
		StatusCode: res.StatusCode,
		Status:     statusLine(res.StatusCode),
		Header:     res.Header,
		Body:       data,
	}, nil
}

func statusLine(code int) string {
	if text := http.StatusText(code); text != "" {
		return fmt.Sprintf("%d %s", code, text)
	}
	return fmt.Sprint(code)
}

// Render formats the response for the console. Unless full is set the body
// is cut to limit characters.
func (r *Response) Render(full bool, limit int) string {
	contentType := r.Header.Get("Content-Type")
	body := prettyBody(contentType, r.Body)
	if !full && limit > 0 {
		if runes := []rune(body); len(runes) > limit {
			body = string(runes[:limit]) + "..."
		}
	}
	if contentType == "" {
		contentType = "none"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "HTTP %s %s\n", r.Method, r.Target)
	fmt.Fprintf(&b, "Status: %s\n", r.Status)
	fmt.Fprintf(&b, "Headers: content-type=%s\n", contentType)
	fmt.Fprintf(&b, "Time: %s\n", r.Elapsed.Round(time.Microsecond))
	b.WriteString("\n")
	b.WriteString(body)
	return b.String()
}
