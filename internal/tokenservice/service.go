// Package tokenservice implements the /oauth/token endpoint's core:
// client authentication dispatch, the authorization-code grant, and the
// refresh-token grant. It is modeled on server/handlers.go's dispatch
// (handleToken → withClientFromStorage → handleAuthCode /
// handleRefreshToken), generalized to this server's encrypted-credential
// binding instead of ID-token issuance.
package tokenservice

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-mcp-oauth/internal/oauthstore"
	"github.com/getsentry/sentry-mcp-oauth/internal/oautherr"
	"github.com/getsentry/sentry-mcp-oauth/internal/refreshcoordinator"
	"github.com/getsentry/sentry-mcp-oauth/internal/telemetry"
	"github.com/getsentry/sentry-mcp-oauth/internal/upstream"
)

// Grant types this service dispatches on.
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
)

// upstreamNearExpiryThreshold is how close to expiry an upstream access
// token must be before a refresh forces an upstream rotation.
const upstreamNearExpiryThreshold = 120 * time.Second

// Request is a fully-parsed /oauth/token request: grant_type plus whichever
// of the authorization_code/refresh_token fields apply, and the client
// credentials the HTTP layer extracted per RFC 6749 §2.3.
type Request struct {
	GrantType string
	Client    ClientCredentials

	// authorization_code grant
	Code         string
	RedirectURI  string
	CodeVerifier string

	// refresh_token grant
	RefreshToken string
}

// Response is the RFC 6749 §5.1 successful token response.
type Response struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope,omitempty"`
}

// Service implements the token endpoint's grant handling.
type Service struct {
	store       oauthstore.Storage
	coordinator *refreshcoordinator.Coordinator
	logger      *slog.Logger
	metrics     *telemetry.Metrics
	now         func() time.Time
}

// New returns a token Service. metrics may be nil, in which case fatal
// invariant violations are still logged but not counted.
func New(store oauthstore.Storage, coordinator *refreshcoordinator.Coordinator, logger *slog.Logger, metrics *telemetry.Metrics) *Service {
	return &Service{store: store, coordinator: coordinator, logger: logger, metrics: metrics, now: time.Now}
}

// invariantViolation logs and counts a fatal internal invariant violation,
// returning the server_error it always surfaces downstream.
func (s *Service) invariantViolation(ctx context.Context, msg string, args ...any) *oautherr.Error {
	s.logger.ErrorContext(ctx, "token service: invariant violation: "+msg, args...)
	if s.metrics != nil {
		s.metrics.InvariantViolations.Inc()
	}
	return oautherr.New(oautherr.ServerError, "")
}

// Handle authenticates the client and dispatches on req.GrantType. An
// unsupported grant type yields unsupported_grant_type.
func (s *Service) Handle(ctx context.Context, req Request) (*Response, *oautherr.Error) {
	client, clientErr := s.authenticateClient(ctx, req.Client)
	if clientErr != nil {
		return nil, clientErr
	}

	switch req.GrantType {
	case GrantTypeAuthorizationCode:
		return s.handleAuthorizationCode(ctx, req, client)
	case GrantTypeRefreshToken:
		return s.handleRefreshToken(ctx, req, client)
	default:
		return nil, oautherr.New(oautherr.UnsupportedGrantType, "")
	}
}

func scopeString(scope []string) string {
	out := ""
	for i, s := range scope {
		if i > 0 {
			out += " "
		}
		out += s
	}
	return out
}

func decodeCredentials(raw []byte) (upstream.Credentials, error) {
	var c upstream.Credentials
	err := json.Unmarshal(raw, &c)
	return c, err
}

func encodeCredentials(c upstream.Credentials) ([]byte, error) {
	return json.Marshal(c)
}
