// SPDX-FileCopyrightText: Copyright 2025 openiddict-core contributors
// SPDX-License-Identifier: Apache-2.0

package httpapi

import (
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"net/url"

	"github.com/khandakerakash/openiddict-core/pkg/logger"
	"github.com/khandakerakash/openiddict-core/pkg/message"
	"github.com/khandakerakash/openiddict-core/pkg/server"
)

// DiscoveryCacheMaxAge is the Cache-Control max-age for the discovery and
// JWKS endpoints (1 hour), balancing caching against key rotation.
const DiscoveryCacheMaxAge = 3600

// formPostTemplate renders the form_post response mode: an auto-submitting
// HTML form carrying the response parameters.
var formPostTemplate = template.Must(template.New("form_post").Parse(`<!DOCTYPE html>
<html>
<head><title>Submitting...</title></head>
<body onload="document.forms[0].submit()">
<form method="post" action="{{.Action}}">
{{- range $name, $values := .Values}}{{range $values}}
<input type="hidden" name="{{$name}}" value="{{.}}"/>
{{- end}}{{end}}
<noscript><button type="submit">Continue</button></noscript>
</form>
</body>
</html>
`))

// writeJSON writes a JSON document with the proper headers.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Errorw("failed to encode response", "error", err)
	}
}

// writeTokenStyleResponse renders a token/introspection response: JSON,
// with 400 for protocol errors and 401 for failed client authentication.
func writeTokenStyleResponse(w http.ResponseWriter, t *server.Transaction) {
	status := http.StatusOK
	if code := t.Response.Error(); code != "" {
		status = http.StatusBadRequest
		if code == message.ErrorInvalidClient {
			status = http.StatusUnauthorized
			w.Header().Set("WWW-Authenticate", `Basic realm="token", charset="UTF-8"`)
		}
	}
	writeMessageJSON(w, status, t)
}

// writeUserinfoResponse renders the userinfo document, using the
// WWW-Authenticate challenge format of RFC 6750 for bearer failures.
// Clients registered for signed userinfo receive the JWT form instead of
// plain JSON.
func writeUserinfoResponse(w http.ResponseWriter, t *server.Transaction) {
	if code := t.Response.Error(); code != "" {
		w.Header().Set("WWW-Authenticate",
			fmt.Sprintf(`Bearer error=%q, error_description=%q`, code, t.Response.ErrorDescription()))
		writeMessageJSON(w, http.StatusUnauthorized, t)
		return
	}
	if signed := t.StringProperty(server.PropertySignedUserinfo); signed != "" {
		w.Header().Set("Content-Type", "application/jwt")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write([]byte(signed))
		return
	}
	writeMessageJSON(w, http.StatusOK, t)
}

// writeCachedJSONResponse renders the discovery and JWKS documents with
// cache headers.
func writeCachedJSONResponse(w http.ResponseWriter, t *server.Transaction) {
	if t.Response.Error() != "" {
		writeMessageJSON(w, http.StatusInternalServerError, t)
		return
	}
	data, err := t.Response.MarshalJSON()
	if err != nil {
		logger.Errorw("failed to encode discovery document", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json;charset=UTF-8")
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", DiscoveryCacheMaxAge))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	_, _ = w.Write(data)
}

// writeMessageJSON serializes the response message preserving parameter
// shapes (arrays, nested objects).
func writeMessageJSON(w http.ResponseWriter, status int, t *server.Transaction) {
	data, err := t.Response.MarshalJSON()
	if err != nil {
		logger.Errorw("failed to encode response message", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeAuthorizationResponse returns the authorization result to the
// client. With a validated redirect target the parameters travel in the
// query, the fragment or an auto-submitted form; without one (the request
// never passed redirect validation) the error document is rendered
// directly.
func writeAuthorizationResponse(w http.ResponseWriter, r *http.Request, t *server.Transaction) {
	target := t.StringProperty(server.PropertyValidatedRedirectURI)
	if target == "" {
		status := http.StatusBadRequest
		if t.Response.Error() == "" {
			status = http.StatusOK
		}
		writeMessageJSON(w, status, t)
		return
	}

	mode := t.StringProperty(server.PropertyResponseMode)
	values := t.Response.Values()

	switch mode {
	case message.ResponseModeFormPost:
		w.Header().Set("Content-Type", "text/html;charset=UTF-8")
		w.Header().Set("Cache-Control", "no-store")
		err := formPostTemplate.Execute(w, struct {
			Action string
			Values url.Values
		}{Action: target, Values: values})
		if err != nil {
			logger.Errorw("failed to render form_post page", "error", err)
		}

	case message.ResponseModeFragment:
		redirect := target + "#" + values.Encode()
		http.Redirect(w, r, redirect, http.StatusFound)

	default:
		u, err := url.Parse(target)
		if err != nil {
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		query := u.Query()
		for name, vs := range values {
			for _, v := range vs {
				query.Add(name, v)
			}
		}
		u.RawQuery = query.Encode()
		http.Redirect(w, r, u.String(), http.StatusFound)
	}
}

// writeLogoutResponse redirects to the validated post-logout target, or
// answers 200 (or the error document) when none was requested.
func writeLogoutResponse(w http.ResponseWriter, r *http.Request, t *server.Transaction) {
	if t.Response.Error() != "" {
		writeMessageJSON(w, http.StatusBadRequest, t)
		return
	}
	target := t.StringProperty(server.PropertyValidatedPostLogoutRedirectURI)
	if target == "" {
		w.WriteHeader(http.StatusOK)
		return
	}

	u, err := url.Parse(target)
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	query := u.Query()
	for name, vs := range t.Response.Values() {
		for _, v := range vs {
			query.Add(name, v)
		}
	}
	u.RawQuery = query.Encode()
	http.Redirect(w, r, u.String(), http.StatusFound)
}
