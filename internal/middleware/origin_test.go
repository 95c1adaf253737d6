package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRefererOrigin(t *testing.T) {
	assert.Equal(t, "https://app.example", refererOrigin("https://app.example/path?q=1"))
	assert.Equal(t, "http://localhost:3000", refererOrigin("http://localhost:3000/"))
	assert.Empty(t, refererOrigin("/relative/path"))
	assert.Empty(t, refererOrigin("::bad"))
}

func TestOriginSetCheck(t *testing.T) {
	set := newOriginSet([]string{"https://app.example/", " http://localhost:3000 "})

	tests := []struct {
		name       string
		headers    map[string]string
		production bool
		allowed    bool
		source     string
	}{
		{"exact origin", map[string]string{"Origin": "https://app.example"}, true, true, "origin"},
		{"origin wins over referer", map[string]string{"Origin": "https://evil.example", "Referer": "https://app.example/"}, false, false, "origin"},
		{"origin with path is not exact", map[string]string{"Origin": "https://app.example/x"}, false, false, "origin"},
		{"referer fallback", map[string]string{"Referer": "http://localhost:3000/dashboard"}, true, true, "referer"},
		{"bad referer", map[string]string{"Referer": "https://evil.example/"}, false, false, "referer"},
		{"no headers in development", nil, false, true, "none"},
		{"no headers in production", nil, true, false, "none"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/rpc", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}

			_, source, ok := set.check(req, tt.production)
			assert.Equal(t, tt.allowed, ok)
			assert.Equal(t, tt.source, source)
		})
	}
}
