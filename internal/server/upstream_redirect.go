package server

import "net/url"

// buildUpstreamAuthorizeURL constructs the redirect to Sentry's own
// authorization endpoint. It carries no logic beyond RFC 6749 §4.1.1 query
// parameters.
func buildUpstreamAuthorizeURL(host, clientID, redirectURI, state string, scope []string) string {
	u := url.URL{Scheme: "https", Host: host, Path: "/oauth/authorize/"}
	q := u.Query()
	q.Set("response_type", "code")
	q.Set("client_id", clientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("state", state)
	if len(scope) > 0 {
		q.Set("scope", joinScope(scope))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func joinScope(scope []string) string {
	out := ""
	for i, s := range scope {
		if i > 0 {
			out += " "
		}
		out += s
	}
	return out
}
