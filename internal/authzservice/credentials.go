package authzservice

import (
	"encoding/json"

	"github.com/getsentry/sentry-mcp-oauth/internal/upstream"
)

func marshalCredentials(c upstream.Credentials) ([]byte, error) {
	return json.Marshal(c)
}
