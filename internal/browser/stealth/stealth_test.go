package stealth

import (
	"testing"

	"github.com/chromedp/cdproto/fetch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPersonaFor(t *testing.T) {
	p := PersonaFor("121")
	assert.Contains(t, p.UserAgent, "Chrome/121.0.0.0")
	assert.Contains(t, p.UserAgent, "Windows NT 10.0")
	require.NotNil(t, p.ClientHints)
	assert.Equal(t, "Windows", p.ClientHints.Platform)
	assert.Equal(t, "121", p.ClientHints.Brands[1].Version)
}

func TestRandomPersonaComesFromPool(t *testing.T) {
	for i := 0; i < 20; i++ {
		p := RandomPersona()
		found := false
		for _, m := range chromeMajors {
			if p.UserAgent == PersonaFor(m).UserAgent {
				found = true
			}
		}
		assert.True(t, found, "unexpected user agent %s", p.UserAgent)
	}
}

func TestDefaultHeaders(t *testing.T) {
	h := DefaultHeaders(PersonaFor("120"))
	assert.Equal(t, "ko-KR,ko;q=0.9,en-US;q=0.8", h["Accept-Language"])
	assert.Equal(t, "same-origin", h["Sec-Fetch-Site"])
	assert.Equal(t, `"Not_A Brand";v="8", "Chromium";v="120", "Google Chrome";v="120"`, h["Sec-Ch-Ua"])
}

func TestMergeHeadersKeepsExisting(t *testing.T) {
	merged := MergeHeaders(
		map[string]interface{}{"accept-language": "en", "Referer": "https://www.musinsa.com/", "X-Num": 5},
		map[string]string{"Accept-Language": "ko-KR", "Sec-Fetch-Mode": "navigate"},
	)
	byName := map[string]string{}
	for _, h := range merged {
		byName[h.Name] = h.Value
	}
	assert.Equal(t, "en", byName["accept-language"])
	assert.NotContains(t, byName, "Accept-Language")
	assert.Equal(t, "navigate", byName["Sec-Fetch-Mode"])
	assert.Equal(t, "https://www.musinsa.com/", byName["Referer"])
	assert.NotContains(t, byName, "X-Num", "non-string values are dropped")
}

func TestInterceptorPatternsAndBlocking(t *testing.T) {
	ic := NewInterceptor(PersonaFor("122"), "musinsa.com", []string{"google-analytics.com", "hotjar.com"}, zap.NewNop())

	patterns := ic.Patterns()
	require.Len(t, patterns, 3)
	assert.Equal(t, "*google-analytics.com*", patterns[0].URLPattern)
	assert.Equal(t, fetch.RequestStageRequest, patterns[0].RequestStage)
	assert.Equal(t, "*musinsa.com*", patterns[2].URLPattern)

	assert.True(t, ic.IsBlocked("https://www.google-analytics.com/g/collect?v=2"))
	assert.True(t, ic.IsBlocked("https://static.hotjar.com/c/hotjar.js"))
	assert.False(t, ic.IsBlocked("https://www.musinsa.com/mypage"))

	var nilIC *Interceptor
	assert.Nil(t, nilIC.Patterns())
}

func TestFingerprintScriptEmbedded(t *testing.T) {
	assert.Contains(t, fingerprintScript, "MM_PERSONA")
	assert.Contains(t, fingerprintScript, "hardwareConcurrency")
}
