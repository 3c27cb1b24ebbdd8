package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/getsentry/sentry-mcp-oauth/internal/cryptoutil"
	"github.com/getsentry/sentry-mcp-oauth/internal/oauthstore"
)

// registrationRequest is the RFC 7591 client metadata this server accepts.
type registrationRequest struct {
	RedirectURIs            []string `json:"redirect_uris"`
	ClientName              string   `json:"client_name,omitempty"`
	ClientURI               string   `json:"client_uri,omitempty"`
	LogoURI                 string   `json:"logo_uri,omitempty"`
	PolicyURI               string   `json:"policy_uri,omitempty"`
	TosURI                  string   `json:"tos_uri,omitempty"`
	Contacts                []string `json:"contacts,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
}

type registrationResponse struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            string   `json:"client_secret,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	ClientName              string   `json:"client_name,omitempty"`
	ClientURI               string   `json:"client_uri,omitempty"`
	LogoURI                 string   `json:"logo_uri,omitempty"`
	PolicyURI               string   `json:"policy_uri,omitempty"`
	TosURI                  string   `json:"tos_uri,omitempty"`
	Contacts                []string `json:"contacts,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at"`
}

// handleRegister implements dynamic client registration (RFC 7591), modeled
// on the decode-validate-mint-201 shape in server/client_registration.go.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writePlainError(w, http.StatusBadRequest, "invalid_client_metadata")
		return
	}
	if len(req.RedirectURIs) == 0 {
		writePlainError(w, http.StatusBadRequest, "redirect_uris is required")
		return
	}

	authMethod := oauthstore.TokenEndpointAuthMethod(req.TokenEndpointAuthMethod)
	switch authMethod {
	case "":
		authMethod = oauthstore.AuthMethodClientSecretPost
	case oauthstore.AuthMethodNone, oauthstore.AuthMethodClientSecretBasic, oauthstore.AuthMethodClientSecretPost:
	default:
		writePlainError(w, http.StatusBadRequest, "unsupported token_endpoint_auth_method")
		return
	}

	grantTypes := req.GrantTypes
	if len(grantTypes) == 0 {
		grantTypes = []string{"authorization_code", "refresh_token"}
	}
	responseTypes := req.ResponseTypes
	if len(responseTypes) == 0 {
		responseTypes = []string{"code"}
	}

	clientID, err := cryptoutil.RandomString(cryptoutil.ClientIDLength)
	if err != nil {
		writePlainError(w, http.StatusInternalServerError, "server_error")
		return
	}

	var plainSecret, storedSecret string
	if authMethod != oauthstore.AuthMethodNone {
		plainSecret, err = cryptoutil.RandomString(cryptoutil.ClientSecretLength)
		if err != nil {
			writePlainError(w, http.StatusInternalServerError, "server_error")
			return
		}
		storedSecret = cryptoutil.HashSecret(plainSecret)
	}

	now := time.Now().Unix()
	client := oauthstore.Client{
		ClientID:                clientID,
		ClientSecret:            storedSecret,
		RedirectURIs:            req.RedirectURIs,
		ClientName:              req.ClientName,
		ClientURI:               req.ClientURI,
		LogoURI:                 req.LogoURI,
		PolicyURI:               req.PolicyURI,
		TosURI:                  req.TosURI,
		Contacts:                req.Contacts,
		TokenEndpointAuthMethod: authMethod,
		GrantTypes:              grantTypes,
		ResponseTypes:           responseTypes,
		RegistrationDate:        now,
	}

	if err := s.store.SaveClient(r.Context(), client); err != nil {
		writePlainError(w, http.StatusInternalServerError, "server_error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(registrationResponse{
		ClientID:                client.ClientID,
		ClientSecret:            plainSecret,
		RedirectURIs:            client.RedirectURIs,
		ClientName:              client.ClientName,
		ClientURI:               client.ClientURI,
		LogoURI:                 client.LogoURI,
		PolicyURI:               client.PolicyURI,
		TosURI:                  client.TosURI,
		Contacts:                client.Contacts,
		TokenEndpointAuthMethod: string(client.TokenEndpointAuthMethod),
		GrantTypes:              client.GrantTypes,
		ResponseTypes:           client.ResponseTypes,
		ClientIDIssuedAt:        now,
	})
}
