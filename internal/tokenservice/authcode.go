package tokenservice

import (
	"context"
	"errors"

	"github.com/getsentry/sentry-mcp-oauth/internal/cryptoutil"
	"github.com/getsentry/sentry-mcp-oauth/internal/oauthstore"
	"github.com/getsentry/sentry-mcp-oauth/internal/oautherr"
	"github.com/getsentry/sentry-mcp-oauth/internal/tokenstring"
)

// handleAuthorizationCode implements the authorization-code grant: the
// ordered validation checks, atomic single-use consumption, and token
// minting.
func (s *Service) handleAuthorizationCode(ctx context.Context, req Request, client oauthstore.Client) (*Response, *oautherr.Error) {
	if req.Code == "" {
		return nil, oautherr.New(oautherr.InvalidRequest, "Required param: code.")
	}

	parsed, err := tokenstring.Parse(req.Code)
	if err != nil {
		return nil, oautherr.New(oautherr.InvalidGrant, "malformed authorization code")
	}

	grant, err := s.store.GetGrant(ctx, parsed.UserID, parsed.GrantID)
	if err != nil {
		if !errors.Is(err, oauthstore.ErrNotFound) {
			s.logger.ErrorContext(ctx, "token service: failed to load grant", "err", err)
			return nil, oautherr.New(oautherr.ServerError, "")
		}
		return nil, oautherr.New(oautherr.InvalidGrant, "not found or expired")
	}

	if !grant.HasPendingAuthCode() {
		return nil, oautherr.New(oautherr.InvalidGrant, "Authorization code has already been used")
	}

	if cryptoutil.HashSecret(req.Code) != grant.AuthCodeID {
		return nil, oautherr.New(oautherr.InvalidGrant, "code does not match grant")
	}

	if grant.ClientID != client.ClientID {
		return nil, oautherr.New(oautherr.InvalidGrant, "code was not issued to this client")
	}

	if grant.RedirectURI != "" && req.RedirectURI != grant.RedirectURI {
		return nil, oautherr.New(oautherr.InvalidGrant, "redirect_uri did not match the authorization request")
	}

	if grant.CodeChallenge != "" {
		if req.CodeVerifier == "" {
			return nil, oautherr.New(oautherr.InvalidGrant, "Missing code_verifier")
		}
		if !cryptoutil.VerifyPKCE(req.CodeVerifier, grant.CodeChallenge, grant.CodeChallengeMethod) {
			return nil, oautherr.New(oautherr.InvalidGrant, "Invalid code_verifier")
		}
	}

	// Atomic consumption: capture the wrapped key before clearing it, write
	// the cleared grant first, and only then unwrap. A second concurrent
	// exchange that reads the grant after this write observes
	// HasPendingAuthCode() == false and fails above.
	wrappedKey := grant.AuthCodeWrappedKey
	cleared := grant.ClearAuthCode()
	if err := s.store.SaveGrant(ctx, cleared, 0); err != nil {
		s.logger.ErrorContext(ctx, "token service: failed to persist consumed grant", "err", err)
		return nil, oautherr.New(oautherr.ServerError, "")
	}

	aeadKey, err := cryptoutil.UnwrapKey(wrappedKey, req.Code)
	if err != nil {
		return nil, s.invariantViolation(ctx, "failed to unwrap grant key for an unconsumed authorization code", "err", err)
	}

	return s.mintTokens(ctx, cleared, aeadKey)
}

// mintTokens generates the access/refresh token pair bound to aeadKey and
// persists them, denormalizing clientId/scope/encryptedProps from grant.
func (s *Service) mintTokens(ctx context.Context, grant oauthstore.Grant, aeadKey []byte) (*Response, *oautherr.Error) {
	accessToken, err := tokenstring.New(grant.UserID, grant.ID, cryptoutil.TokenSecretLength)
	if err != nil {
		return nil, oautherr.New(oautherr.ServerError, "")
	}
	refreshToken, err := tokenstring.New(grant.UserID, grant.ID, cryptoutil.TokenSecretLength)
	if err != nil {
		return nil, oautherr.New(oautherr.ServerError, "")
	}

	accessWrapped, err := cryptoutil.WrapKey(aeadKey, accessToken)
	if err != nil {
		return nil, oautherr.New(oautherr.ServerError, "")
	}
	refreshWrapped, err := cryptoutil.WrapKey(aeadKey, refreshToken)
	if err != nil {
		return nil, oautherr.New(oautherr.ServerError, "")
	}

	now := s.now()
	accessRecord := oauthstore.Token{
		ID:                   cryptoutil.HashSecret(accessToken),
		GrantID:              grant.ID,
		UserID:               grant.UserID,
		CreatedAt:            now.Unix(),
		ExpiresAt:            now.Add(oauthstore.AccessTokenTTL).Unix(),
		Audience:             grant.Resource,
		WrappedEncryptionKey: accessWrapped,
		ClientID:             grant.ClientID,
		Scope:                grant.Scope,
		EncryptedProps:       grant.EncryptedProps,
	}
	refreshRecord := oauthstore.Token{
		ID:                   cryptoutil.HashSecret(refreshToken),
		GrantID:              grant.ID,
		UserID:               grant.UserID,
		CreatedAt:            now.Unix(),
		ExpiresAt:            now.Add(oauthstore.RefreshTokenTTL).Unix(),
		Audience:             grant.Resource,
		WrappedEncryptionKey: refreshWrapped,
		ClientID:             grant.ClientID,
		Scope:                grant.Scope,
		EncryptedProps:       grant.EncryptedProps,
	}

	if err := s.store.SaveToken(ctx, accessRecord, int64(oauthstore.AccessTokenTTL.Seconds())); err != nil {
		s.logger.ErrorContext(ctx, "token service: failed to persist access token", "err", err)
		return nil, oautherr.New(oautherr.ServerError, "")
	}
	if err := s.store.SaveToken(ctx, refreshRecord, int64(oauthstore.RefreshTokenTTL.Seconds())); err != nil {
		s.logger.ErrorContext(ctx, "token service: failed to persist refresh token", "err", err)
		return nil, oautherr.New(oautherr.ServerError, "")
	}

	return &Response{
		AccessToken:  accessToken,
		TokenType:    "bearer",
		ExpiresIn:    int64(oauthstore.AccessTokenTTL.Seconds()),
		RefreshToken: refreshToken,
		Scope:        scopeString(grant.Scope),
	}, nil
}
