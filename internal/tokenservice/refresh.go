package tokenservice

import (
	"context"
	"errors"

	"github.com/getsentry/sentry-mcp-oauth/internal/cryptoutil"
	"github.com/getsentry/sentry-mcp-oauth/internal/oauthstore"
	"github.com/getsentry/sentry-mcp-oauth/internal/oautherr"
	"github.com/getsentry/sentry-mcp-oauth/internal/tokenstring"
	"github.com/getsentry/sentry-mcp-oauth/internal/upstream"
)

// handleRefreshToken implements the refresh-token grant: loading and
// validating the presented token, deciding whether an upstream refresh is
// actually required, coordinating that refresh across replicas, and
// rotating the downstream token pair.
func (s *Service) handleRefreshToken(ctx context.Context, req Request, client oauthstore.Client) (*Response, *oautherr.Error) {
	if req.RefreshToken == "" {
		return nil, oautherr.New(oautherr.InvalidRequest, "Required param: refresh_token.")
	}

	parsed, err := tokenstring.Parse(req.RefreshToken)
	if err != nil {
		return nil, oautherr.New(oautherr.InvalidGrant, "malformed refresh token")
	}

	tokenID := cryptoutil.HashSecret(req.RefreshToken)
	token, err := s.store.GetToken(ctx, parsed.UserID, parsed.GrantID, tokenID)
	if err != nil {
		if !errors.Is(err, oauthstore.ErrNotFound) {
			s.logger.ErrorContext(ctx, "token service: failed to load refresh token", "err", err)
			return nil, oautherr.New(oautherr.ServerError, "")
		}
		return nil, oautherr.New(oautherr.InvalidGrant, "not found or expired")
	}

	now := s.now()
	if token.Expired(now) {
		return nil, oautherr.New(oautherr.InvalidGrant, "refresh token has expired")
	}

	if token.ClientID != client.ClientID {
		return nil, oautherr.New(oautherr.InvalidGrant, "refresh token was not issued to this client")
	}

	aeadKey, err := cryptoutil.UnwrapKey(token.WrappedEncryptionKey, req.RefreshToken)
	if err != nil {
		s.logger.ErrorContext(ctx, "token service: failed to unwrap refresh token key", "err", err)
		return nil, oautherr.New(oautherr.ServerError, "")
	}

	creds, decryptErr := s.decryptCredentials(ctx, token.EncryptedProps, aeadKey, parsed.UserID, parsed.GrantID)
	if decryptErr != nil {
		return nil, decryptErr
	}

	rotatedKey := aeadKey
	finalCreds := creds
	var downstreamTTL int64

	if creds.AccessTokenExpiresAt != 0 && creds.AccessTokenExpiresAt-now.Unix() > int64(upstreamNearExpiryThreshold.Seconds()) {
		downstreamTTL = creds.AccessTokenExpiresAt - now.Unix()
		if downstreamTTL > int64(oauthstore.AccessTokenTTL.Seconds()) {
			downstreamTTL = int64(oauthstore.AccessTokenTTL.Seconds())
		}
	} else {
		outcome, upstreamErr := s.coordinator.Refresh(ctx, parsed.UserID, creds.RefreshToken)
		if upstreamErr != nil {
			s.logUpstreamFailure(ctx, upstreamErr)
			return nil, oautherr.New(oautherr.InvalidGrant, "failed to refresh upstream credentials")
		}
		if outcome.Credentials.RefreshToken == "" {
			s.logger.WarnContext(ctx, "token service: upstream refresh omitted refresh_token", "user_id", parsed.UserID)
			return nil, oautherr.New(oautherr.InvalidGrant, "failed to refresh upstream credentials")
		}

		finalCreds = outcome.Credentials
		downstreamTTL = outcome.AccessTokenTTL
		if downstreamTTL <= 0 || downstreamTTL > int64(oauthstore.AccessTokenTTL.Seconds()) {
			downstreamTTL = int64(oauthstore.AccessTokenTTL.Seconds())
		}

		if finalCreds != creds {
			freshKey, keyErr := cryptoutil.GenerateAEADKey()
			if keyErr != nil {
				return nil, oautherr.New(oautherr.ServerError, "")
			}
			rotatedKey = freshKey

			newPlaintext, encodeErr := encodeCredentials(finalCreds)
			if encodeErr != nil {
				return nil, oautherr.New(oautherr.ServerError, "")
			}
			blob, encryptErr := cryptoutil.Encrypt(newPlaintext, rotatedKey)
			if encryptErr != nil {
				return nil, oautherr.New(oautherr.ServerError, "")
			}

			grant, grantErr := s.store.GetGrant(ctx, parsed.UserID, parsed.GrantID)
			if grantErr == nil {
				grant.EncryptedProps = blob
				// ttl=0 preserves the grant's no-expiry lifetime set at code
				// consumption; re-encryption updates encryptedProps only, not
				// how long the durable consent record lives.
				if saveErr := s.store.SaveGrant(ctx, grant, 0); saveErr != nil {
					s.logger.ErrorContext(ctx, "token service: failed to persist rotated upstream credentials", "err", saveErr)
				}
			}
		}
	}

	return s.rotateTokens(ctx, parsed.UserID, parsed.GrantID, token, client, rotatedKey, finalCreds, downstreamTTL)
}

// decryptCredentials decrypts the token's denormalized credentials with the
// already-unwrapped aeadKey, falling back to the parent grant's
// encryptedProps if the token's own copy fails to decrypt or decode.
func (s *Service) decryptCredentials(ctx context.Context, blob cryptoutil.EncryptedBlob, aeadKey []byte, userID, grantID string) (upstream.Credentials, *oautherr.Error) {
	plaintext, err := cryptoutil.Decrypt(blob, aeadKey)
	if err == nil {
		creds, decodeErr := decodeCredentials(plaintext)
		if decodeErr == nil {
			return creds, nil
		}
	}

	grant, grantErr := s.store.GetGrant(ctx, userID, grantID)
	if grantErr != nil {
		return upstream.Credentials{}, s.invariantViolation(ctx, "failed to decrypt token credentials and grant fallback unavailable", "err", grantErr)
	}

	fallbackPlaintext, err := cryptoutil.Decrypt(grant.EncryptedProps, aeadKey)
	if err != nil {
		return upstream.Credentials{}, s.invariantViolation(ctx, "failed to decrypt both token and grant credentials", "err", err)
	}
	creds, decodeErr := decodeCredentials(fallbackPlaintext)
	if decodeErr != nil {
		return upstream.Credentials{}, s.invariantViolation(ctx, "failed to decode fallback credentials", "err", decodeErr)
	}
	return creds, nil
}

func (s *Service) logUpstreamFailure(ctx context.Context, upstreamErr *upstream.UpstreamError) {
	if upstreamErr.Classification == upstream.OperatorFacing {
		s.logger.ErrorContext(ctx, "token service: upstream refresh failed", "correlation_id", upstreamErr.CorrelationID, "status", upstreamErr.Status)
		return
	}
	s.logger.WarnContext(ctx, "token service: upstream refresh rejected", "correlation_id", upstreamErr.CorrelationID, "status", upstreamErr.Status)
}

// rotateTokens mints a new access/refresh token pair bound to aeadKey,
// persists them with previousRefreshTokenId set on the new refresh token,
// and leaves the consumed refresh token to expire via TTL rather than
// deleting it outright.
func (s *Service) rotateTokens(ctx context.Context, userID, grantID string, oldToken oauthstore.Token, client oauthstore.Client, aeadKey []byte, creds upstream.Credentials, downstreamTTL int64) (*Response, *oautherr.Error) {
	newPlaintext, err := encodeCredentials(creds)
	if err != nil {
		return nil, oautherr.New(oautherr.ServerError, "")
	}
	blob, err := cryptoutil.Encrypt(newPlaintext, aeadKey)
	if err != nil {
		return nil, oautherr.New(oautherr.ServerError, "")
	}

	accessToken, err := tokenstring.New(userID, grantID, cryptoutil.TokenSecretLength)
	if err != nil {
		return nil, oautherr.New(oautherr.ServerError, "")
	}
	refreshToken, err := tokenstring.New(userID, grantID, cryptoutil.TokenSecretLength)
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
		GrantID:              grantID,
		UserID:               userID,
		CreatedAt:            now.Unix(),
		ExpiresAt:            now.Unix() + downstreamTTL,
		Audience:             oldToken.Audience,
		WrappedEncryptionKey: accessWrapped,
		ClientID:             client.ClientID,
		Scope:                oldToken.Scope,
		EncryptedProps:       blob,
	}
	refreshRecord := oauthstore.Token{
		ID:                     cryptoutil.HashSecret(refreshToken),
		GrantID:                grantID,
		UserID:                 userID,
		CreatedAt:              now.Unix(),
		ExpiresAt:              now.Add(oauthstore.RefreshTokenTTL).Unix(),
		Audience:               oldToken.Audience,
		WrappedEncryptionKey:   refreshWrapped,
		ClientID:               client.ClientID,
		Scope:                  oldToken.Scope,
		EncryptedProps:         blob,
		PreviousRefreshTokenID: oldToken.ID,
	}

	if err := s.store.SaveToken(ctx, accessRecord, downstreamTTL); err != nil {
		s.logger.ErrorContext(ctx, "token service: failed to persist rotated access token", "err", err)
		return nil, oautherr.New(oautherr.ServerError, "")
	}
	if err := s.store.SaveToken(ctx, refreshRecord, int64(oauthstore.RefreshTokenTTL.Seconds())); err != nil {
		s.logger.ErrorContext(ctx, "token service: failed to persist rotated refresh token", "err", err)
		return nil, oautherr.New(oautherr.ServerError, "")
	}

	return &Response{
		AccessToken:  accessToken,
		TokenType:    "bearer",
		ExpiresIn:    downstreamTTL,
		RefreshToken: refreshToken,
		Scope:        scopeString(oldToken.Scope),
	}, nil
}
