// Package stealth hardens an automation tab so it resembles an ordinary desktop Chrome.
package stealth

import (
	"context"
	_ "embed"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"
)

//go:embed fingerprint.js
var fingerprintScript string

// ClientHints mirrors the Sec-CH-UA data advertised for a persona.
type ClientHints struct {
	Brands          []*emulation.UserAgentBrandVersion `json:"brands"`
	FullVersionList []*emulation.UserAgentBrandVersion `json:"fullVersionList,omitempty"`
	Mobile          bool                               `json:"mobile"`
	Platform        string                             `json:"platform"`
	PlatformVersion string                             `json:"platformVersion"`
	Architecture    string                             `json:"architecture,omitempty"`
	Bitness         string                             `json:"bitness,omitempty"`
}

// Persona is the browser identity a tab keeps for its whole lifetime.
type Persona struct {
	UserAgent           string       `json:"userAgent"`
	Platform            string       `json:"platform"`
	Languages           []string     `json:"languages"`
	HardwareConcurrency int          `json:"hardwareConcurrency,omitempty"`
	DeviceMemory        int          `json:"deviceMemory,omitempty"`
	WebGLVendor         string       `json:"webGLVendor,omitempty"`
	WebGLRenderer       string       `json:"webGLRenderer,omitempty"`
	ClientHints         *ClientHints `json:"clientHints,omitempty"`
}

// chromeMajors is the pool user agents are drawn from.
var chromeMajors = []string{"120", "121", "122"}

// PersonaFor builds the Windows desktop persona for a Chrome major version.
func PersonaFor(major string) Persona {
	full := major + ".0.0.0"
	return Persona{
		UserAgent:           "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/" + full + " Safari/537.36",
		Platform:            "Win32",
		Languages:           []string{"ko-KR", "ko", "en-US", "en"},
		HardwareConcurrency: 8,
		DeviceMemory:        8,
		WebGLVendor:         "Intel Open Source Technology Center",
		WebGLRenderer:       "Mesa DRI Intel(R) UHD Graphics 620",
		ClientHints: &ClientHints{
			Brands: []*emulation.UserAgentBrandVersion{
				{Brand: "Not_A Brand", Version: "8"},
				{Brand: "Chromium", Version: major},
				{Brand: "Google Chrome", Version: major},
			},
			FullVersionList: []*emulation.UserAgentBrandVersion{
				{Brand: "Not_A Brand", Version: "8.0.0.0"},
				{Brand: "Chromium", Version: full},
				{Brand: "Google Chrome", Version: full},
			},
			Platform:        "Windows",
			PlatformVersion: "10.0.0",
			Architecture:    "x86",
			Bitness:         "64",
		},
	}
}

// RandomPersona picks a persona from the pool.
func RandomPersona() Persona {
	return PersonaFor(chromeMajors[rand.IntN(len(chromeMajors))])
}

// DefaultHeaders are added to site requests that do not already carry them.
func DefaultHeaders(p Persona) map[string]string {
	h := map[string]string{
		"Accept-Language":    "ko-KR,ko;q=0.9,en-US;q=0.8",
		"Accept-Encoding":    "gzip, deflate, br",
		"Sec-Fetch-Dest":     "document",
		"Sec-Fetch-Mode":     "navigate",
		"Sec-Fetch-Site":     "same-origin",
		"Sec-Ch-Ua-Mobile":   "?0",
		"Sec-Ch-Ua-Platform": `"Windows"`,
	}
	if p.ClientHints != nil {
		parts := make([]string, 0, len(p.ClientHints.Brands))
		for _, b := range p.ClientHints.Brands {
			parts = append(parts, fmt.Sprintf("%q;v=%q", b.Brand, b.Version))
		}
		h["Sec-Ch-Ua"] = strings.Join(parts, ", ")
	}
	return h
}

// Apply returns the CDP actions that install a persona on the current tab.
// Interception of site and analytics requests is enabled here; paused requests are
// resolved by Interceptor.Handle, which the tab's event listener must call.
func Apply(p Persona, ic *Interceptor, logger *zap.Logger) chromedp.Action {
	l := logger.Named("stealth")
	return chromedp.Tasks{
		network.Enable(),
		network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": DefaultHeaders(p)["Accept-Language"]}),
		setUserAgentAndClientHints(p, l),
		injectFingerprintScript(p, l),
		chromedp.ActionFunc(func(ctx context.Context) error {
			patterns := ic.Patterns()
			if len(patterns) == 0 {
				return nil
			}
			if err := fetch.Enable().WithPatterns(patterns).Do(ctx); err != nil {
				l.Error("Failed to enable request interception", zap.Error(err))
				return fmt.Errorf("stealth: failed to enable fetch domain: %w", err)
			}
			return nil
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			l.Debug("Stealth persona applied", zap.String("userAgent", p.UserAgent))
			return nil
		}),
	}
}

func injectFingerprintScript(p Persona, logger *zap.Logger) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		personaJSON, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("stealth: failed to marshal persona: %w", err)
		}
		script := fmt.Sprintf("const MM_PERSONA = %s;\n%s", personaJSON, fingerprintScript)
		if _, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx); err != nil {
			logger.Error("Failed to register fingerprint script", zap.Error(err))
			return fmt.Errorf("stealth: failed to add script on new document: %w", err)
		}
		return nil
	})
}

func setUserAgentAndClientHints(p Persona, logger *zap.Logger) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		override := emulation.SetUserAgentOverride(p.UserAgent).
			WithPlatform(p.Platform).
			WithAcceptLanguage(strings.Join(p.Languages, ","))
		if ch := p.ClientHints; ch != nil {
			override = override.WithUserAgentMetadata(&emulation.UserAgentMetadata{
				Brands:          ch.Brands,
				FullVersionList: ch.FullVersionList,
				Mobile:          ch.Mobile,
				Platform:        ch.Platform,
				PlatformVersion: ch.PlatformVersion,
				Architecture:    ch.Architecture,
				Bitness:         ch.Bitness,
			})
		}
		if err := override.Do(ctx); err != nil {
			logger.Error("Failed to set user agent override", zap.Error(err))
			return fmt.Errorf("stealth: failed to set user agent override: %w", err)
		}
		return nil
	})
}

// Interceptor decides what happens to paused requests: analytics and ad hosts are failed,
// site requests continue with any missing default headers filled in.
type Interceptor struct {
	blocked    []string
	siteDomain string
	headers    map[string]string
	logger     *zap.Logger
}

// NewInterceptor builds an interceptor for one persona.
func NewInterceptor(p Persona, siteDomain string, blocked []string, logger *zap.Logger) *Interceptor {
	return &Interceptor{
		blocked:    append([]string(nil), blocked...),
		siteDomain: siteDomain,
		headers:    DefaultHeaders(p),
		logger:     logger.Named("intercept"),
	}
}

// Patterns lists the fetch patterns to pause on.
func (ic *Interceptor) Patterns() []*fetch.RequestPattern {
	if ic == nil {
		return nil
	}
	patterns := make([]*fetch.RequestPattern, 0, len(ic.blocked)+1)
	for _, d := range ic.blocked {
		patterns = append(patterns, &fetch.RequestPattern{URLPattern: "*" + d + "*", RequestStage: fetch.RequestStageRequest})
	}
	if ic.siteDomain != "" {
		patterns = append(patterns, &fetch.RequestPattern{URLPattern: "*" + ic.siteDomain + "*", RequestStage: fetch.RequestStageRequest})
	}
	return patterns
}

// IsBlocked reports whether a URL belongs to a blocked host.
func (ic *Interceptor) IsBlocked(rawURL string) bool {
	for _, d := range ic.blocked {
		if strings.Contains(rawURL, d) {
			return true
		}
	}
	return false
}

// Handle resolves a paused request. It must be called from a goroutine, never from the
// event listener itself, because it issues CDP commands. ctx must carry the tab.
func (ic *Interceptor) Handle(ctx context.Context, ev *fetch.EventRequestPaused) {
	cmdCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	c := chromedp.FromContext(cmdCtx)
	if c == nil || c.Target == nil {
		return
	}
	exec := cdp.WithExecutor(cmdCtx, c.Target)

	if ic.IsBlocked(ev.Request.URL) {
		if err := fetch.FailRequest(ev.RequestID, network.ErrorReasonBlockedByClient).Do(exec); err != nil {
			ic.logger.Debug("Failed to block request", zap.String("url", ev.Request.URL), zap.Error(err))
		}
		return
	}

	headers := MergeHeaders(ev.Request.Headers, ic.headers)
	if err := fetch.ContinueRequest(ev.RequestID).WithHeaders(headers).Do(exec); err != nil {
		ic.logger.Debug("Failed to continue request with headers", zap.String("url", ev.Request.URL), zap.Error(err))
		if err := fetch.ContinueRequest(ev.RequestID).Do(exec); err != nil {
			_ = fetch.FailRequest(ev.RequestID, network.ErrorReasonAborted).Do(exec)
		}
	}
}

// MergeHeaders keeps every original header and adds defaults only where the request has
// no header of that name (case-insensitive). Output is sorted by name.
func MergeHeaders(original map[string]interface{}, defaults map[string]string) []*fetch.HeaderEntry {
	present := make(map[string]bool, len(original))
	out := make([]*fetch.HeaderEntry, 0, len(original)+len(defaults))
	for name, value := range original {
		str, ok := value.(string)
		if !ok {
			continue
		}
		present[strings.ToLower(name)] = true
		out = append(out, &fetch.HeaderEntry{Name: name, Value: str})
	}
	for name, value := range defaults {
		if present[strings.ToLower(name)] {
			continue
		}
		out = append(out, &fetch.HeaderEntry{Name: name, Value: value})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
