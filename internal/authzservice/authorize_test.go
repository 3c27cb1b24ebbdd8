package authzservice

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestValidateResourceParameter(t *testing.T) {
	requestURL := mustParseURL(t, "https://broker.example:8443/oauth/authorize")

	tests := []struct {
		name     string
		resource string
		want     bool
	}{
		{"exact /mcp", "https://broker.example:8443/mcp", true},
		{"nested under /mcp/", "https://broker.example:8443/mcp/session-1", true},
		{"has fragment", "https://broker.example:8443/mcp#frag", false},
		{"percent-encoded path", "https://broker.example:8443/mcp%2Fsession", false},
		{"different host", "https://other.example:8443/mcp", false},
		{"different scheme", "http://broker.example:8443/mcp", false},
		{"different port", "https://broker.example:9000/mcp", false},
		{"wrong path", "https://broker.example:8443/other", false},
		{"relative", "/mcp", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ValidateResourceParameter(tc.resource, requestURL))
		})
	}
}

func TestParseAuthRequestDefaultsCodeChallengeMethod(t *testing.T) {
	q := url.Values{
		"response_type":  {"code"},
		"client_id":      {"abc"},
		"scope":          {"org:read org:write"},
		"code_challenge": {"xyz"},
	}
	req := ParseAuthRequest(q)
	assert.Equal(t, "plain", req.CodeChallengeMethod)
	require.Len(t, req.Scope, 2)
	assert.Equal(t, "org:read", req.Scope[0])
	assert.Equal(t, "org:write", req.Scope[1])
}

func TestValidateRejectsNonHTTPRedirectScheme(t *testing.T) {
	s := New(nil)
	req := AuthRequest{ResponseType: "code", RedirectURI: "javascript:alert(1)"}
	_, err := s.Validate(nil, req, mustParseURL(t, "https://broker.example/oauth/authorize"))
	require.Error(t, err)
	assert.Equal(t, "invalid_request", err.Code)
}

func TestValidateRejectsNonCodeResponseType(t *testing.T) {
	s := New(nil)
	req := AuthRequest{ResponseType: "token"}
	_, err := s.Validate(nil, req, mustParseURL(t, "https://broker.example/oauth/authorize"))
	require.Error(t, err)
	assert.Equal(t, "unsupported_response_type", err.Code)
}
