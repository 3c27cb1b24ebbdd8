package tokenservice

import (
	"context"
	"errors"

	"github.com/getsentry/sentry-mcp-oauth/internal/cryptoutil"
	"github.com/getsentry/sentry-mcp-oauth/internal/oauthstore"
	"github.com/getsentry/sentry-mcp-oauth/internal/oautherr"
)

// ClientCredentials is whatever the /oauth/token request carried for client
// authentication, already extracted from either HTTP Basic auth or
// client_id/client_secret form fields by the HTTP handler layer (RFC 6749
// §2.3). HasSecret distinguishes "no secret field present" from "secret
// field present but empty".
type ClientCredentials struct {
	ClientID  string
	Secret    string
	HasSecret bool
}

// authenticateClient classifies the presented credentials against the
// stored client record, generalized from server/handlers.go's
// withClientFromStorage.
func (s *Service) authenticateClient(ctx context.Context, creds ClientCredentials) (oauthstore.Client, *oautherr.Error) {
	client, err := s.store.GetClient(ctx, creds.ClientID)
	if err != nil {
		if !errors.Is(err, oauthstore.ErrNotFound) {
			s.logger.ErrorContext(ctx, "token service: failed to load client", "err", err)
			return oauthstore.Client{}, oautherr.New(oautherr.ServerError, "")
		}
		return oauthstore.Client{}, oautherr.InvalidClientErr("Invalid client credentials.")
	}

	if client.IsPublic() {
		return client, nil
	}

	if !creds.HasSecret {
		return oauthstore.Client{}, oautherr.InvalidClientErr("Invalid client credentials.")
	}

	if !cryptoutil.VerifySecret(creds.Secret, client.ClientSecret) {
		return oauthstore.Client{}, oautherr.InvalidClientErr("Invalid client credentials.")
	}

	return client, nil
}
