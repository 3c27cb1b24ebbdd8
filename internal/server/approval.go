package server

import (
	"html/template"
	"net/http"
)

// approvalPageTemplate is the narrowest possible stand-in for the
// approval-dialog UI: a form POSTing back to /oauth/authorize with the
// signed request and the user's decision. A production deployment replaces
// this with its own templates; the core only needs the round trip to
// exist.
var approvalPageTemplate = template.Must(template.New("approval").Parse(`<!DOCTYPE html>
<title>Authorize {{.ClientName}}</title>
<h1>{{.ClientName}} is requesting access</h1>
<p>Scopes: {{range .Scope}}<code>{{.}}</code> {{end}}</p>
<form method="POST" action="/oauth/authorize">
  <input type="hidden" name="signed_request" value="{{.SignedRequest}}">
  <label>User ID <input type="text" name="user_id" required></label>
  <button type="submit" name="approve" value="true">Approve</button>
  <button type="submit" name="approve" value="false">Deny</button>
</form>
`))

type approvalPageData struct {
	ClientName    string
	Scope         []string
	SignedRequest string
}

func renderApprovalPage(w http.ResponseWriter, clientName string, scope []string, signedRequest string) {
	if clientName == "" {
		clientName = "This application"
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = approvalPageTemplate.Execute(w, approvalPageData{ClientName: clientName, Scope: scope, SignedRequest: signedRequest})
}
