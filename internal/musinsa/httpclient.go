package musinsa

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/xkilldash9x/musinsa-manager/internal/browser"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
)

// AcceptLanguage matches what a Korean desktop Chrome sends.
const AcceptLanguage = "ko,en;q=0.9,en-US;q=0.8,zh;q=0.7,zh-CN;q=0.6,zh-TW;q=0.5,zh-HK;q=0.4"

// maxBody caps how much of a response is read into memory.
const maxBody = 8 << 20

// CookieSource supplies the logged-in tab's cookies and identity.
type CookieSource interface {
	Cookies(ctx context.Context) ([]browser.Cookie, error)
	UserAgent() string
}

// HTTPClient performs requests directly over net/http, impersonating the logged-in tab:
// its cookies are copied into a jar and its user agent is reused.
type HTTPClient struct {
	endpoints Endpoints
	client    *http.Client
	jar       *cookiejar.Jar
	userAgent string
	logger    *zap.Logger
}

// NewHTTPClient builds a client with an empty jar. Call Seed before sending authenticated
// requests.
func NewHTTPClient(endpoints Endpoints, timeout time.Duration, transport http.RoundTripper, logger *zap.Logger) (*HTTPClient, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("musinsa: failed to create cookie jar: %w", err)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		endpoints: endpoints,
		jar:       jar,
		client: &http.Client{
			Jar:       jar,
			Timeout:   timeout,
			Transport: newDecodingTransport(transport),
		},
		logger: logger.Named("http_client"),
	}, nil
}

// Seed copies every site cookie from src into the jar and adopts src's user agent. The
// cookies are widened to the registrable domain so they reach every API subdomain.
func (c *HTTPClient) Seed(ctx context.Context, src CookieSource) (int, error) {
	all, err := src.Cookies(ctx)
	if err != nil {
		return 0, err
	}
	domain := strings.TrimPrefix(c.endpoints.CookieDomain(), ".")
	site := browser.FilterCookies(all, domain)
	origin, err := url.Parse(c.endpoints.Origin())
	if err != nil {
		return 0, fmt.Errorf("musinsa: bad origin: %w", err)
	}

	jarCookies := make([]*http.Cookie, 0, len(site))
	for _, ck := range site {
		hc := &http.Cookie{
			Name:     ck.Name,
			Value:    ck.Value,
			Domain:   domain,
			Path:     ck.Path,
			Secure:   ck.Secure,
			HttpOnly: ck.HTTPOnly,
		}
		if ck.Expires > 0 {
			hc.Expires = time.Unix(int64(ck.Expires), 0)
		}
		jarCookies = append(jarCookies, hc)
	}
	c.jar.SetCookies(origin, jarCookies)
	c.userAgent = src.UserAgent()
	c.logger.Debug("Seeded cookie jar.", zap.Int("cookies", len(jarCookies)))
	return len(jarCookies), nil
}

// CookieHeader renders the jar's cookies for rawURL as a Cookie header value.
func (c *HTTPClient) CookieHeader(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	parts := make([]string, 0, 8)
	for _, ck := range c.jar.Cookies(u) {
		parts = append(parts, ck.Name+"="+ck.Value)
	}
	return strings.Join(parts, "; ")
}

// Do implements Doer.
func (c *HTTPClient) Do(ctx context.Context, req Request) (*Response, error) {
	return c.send(ctx, req.Method, req.URL, req.Headers, strings.NewReader(req.Body))
}

// Put uploads raw bytes, used for presigned storage URLs.
func (c *HTTPClient) Put(ctx context.Context, rawURL, contentType string, body []byte) (*Response, error) {
	return c.send(ctx, http.MethodPut, rawURL, map[string]string{"Content-Type": contentType}, bytes.NewReader(body))
}

func (c *HTTPClient) send(ctx context.Context, method, rawURL string, headers map[string]string, body io.Reader) (*Response, error) {
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("musinsa: failed to build request: %w", err)
	}
	req.Header.Set("Accept-Language", AcceptLanguage)
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("musinsa: %s %s: %w", method, rawURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("musinsa: failed to read %s response: %w", rawURL, err)
	}
	return &Response{Status: resp.StatusCode, Body: data}, nil
}
