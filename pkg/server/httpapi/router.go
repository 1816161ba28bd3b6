// SPDX-FileCopyrightText: Copyright 2025 openiddict-core contributors
// SPDX-License-Identifier: Apache-2.0

// Package httpapi binds the protocol core to net/http: it builds a
// transaction per request, extracts the protocol message from the
// transport, runs the pipeline and renders the response message back as
// HTTP.
package httpapi

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/khandakerakash/openiddict-core/pkg/logger"
	"github.com/khandakerakash/openiddict-core/pkg/message"
	"github.com/khandakerakash/openiddict-core/pkg/server"
)

// Router exposes the protocol endpoints over HTTP.
type Router struct {
	server *server.Server
}

// NewRouter creates a router for the given server.
func NewRouter(s *server.Server) *Router {
	return &Router{server: s}
}

// Routes registers the endpoints on a chi router.
func (rt *Router) Routes(r chi.Router) {
	opts := rt.server.Options()

	r.Get(server.PathAuthorization, rt.authorize)
	r.Post(server.PathAuthorization, rt.authorize)
	if opts.EnableTokenEndpoint {
		r.Post(server.PathToken, rt.token)
	}
	if opts.EnableIntrospectionEndpoint {
		r.Post(server.PathIntrospection, rt.introspect)
	}
	if opts.EnableRevocationEndpoint {
		r.Post(server.PathRevocation, rt.revoke)
	}
	if opts.EnableUserinfoEndpoint {
		r.Get(server.PathUserinfo, rt.userinfo)
		r.Post(server.PathUserinfo, rt.userinfo)
	}
	if opts.EnableLogoutEndpoint {
		r.Get(server.PathLogout, rt.logout)
		r.Post(server.PathLogout, rt.logout)
	}
	r.Get(server.PathConfiguration, rt.configuration)
	r.Get(server.PathServerMeta, rt.configuration)
	r.Get(server.PathJWKS, rt.jwks)
}

// Handler returns a standalone http.Handler serving the endpoints.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	rt.Routes(r)
	return r
}

// newTransaction builds the per-request transaction, inferring the issuer
// from the HTTP host when the options leave it empty.
func (rt *Router) newTransaction(r *http.Request, endpoint server.EndpointType) (*server.Transaction, error) {
	t := rt.server.NewTransaction(endpoint)
	if t.Issuer == "" {
		issuer, err := inferIssuer(r)
		if err != nil {
			return nil, err
		}
		t.Issuer = issuer
	}
	return t, nil
}

// inferIssuer computes scheme://host from the request. Behind a reverse
// proxy the host is expected to configure Options.Issuer instead.
func inferIssuer(r *http.Request) (string, error) {
	if r.Host == "" {
		return "", fmt.Errorf("invalid_operation: the Host header is missing")
	}
	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}
	issuer := scheme + "://" + r.Host
	u, err := url.Parse(issuer)
	if err != nil || !u.IsAbs() {
		return "", fmt.Errorf("invalid_operation: the computed issuer %q is not absolute", issuer)
	}
	return issuer, nil
}

// extractMessage builds the request message from the query string (GET) or
// the form body (POST). HTTP Basic credentials are merged into the
// client_id/client_secret parameters so the pipeline sees one
// authentication surface.
func extractMessage(r *http.Request) (*message.Request, error) {
	var values url.Values
	switch r.Method {
	case http.MethodGet:
		values = r.URL.Query()
	default:
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("parse form: %w", err)
		}
		values = r.PostForm
	}

	request := message.RequestFromValues(values)

	if clientID, clientSecret, ok := r.BasicAuth(); ok {
		request.Set(message.ParamClientID, message.StringParameter(clientID))
		request.Set(message.ParamClientSecret, message.StringParameter(clientSecret))
	}
	return request, nil
}

// process runs the pipeline for a prepared transaction. Failures degrade to
// a server_error response document.
func (rt *Router) process(w http.ResponseWriter, r *http.Request, t *server.Transaction) bool {
	logger.Debugw("processing protocol request",
		"endpoint", t.EndpointType.String(),
		"request", t.Request,
	)
	if err := rt.server.ProcessRequest(r.Context(), t); err != nil {
		if r.Context().Err() != nil {
			// Client went away; nothing sensible to write.
			return false
		}
		logger.Errorw("protocol pipeline failure",
			"endpoint", t.EndpointType.String(),
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			message.ParamError: message.ErrorServerError,
		})
		return false
	}
	return true
}

func (rt *Router) authorize(w http.ResponseWriter, r *http.Request) {
	t, err := rt.newTransaction(r, server.EndpointAuthorization)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	request, err := extractMessage(r)
	if err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	t.Request = request

	if !rt.process(w, r, t) {
		return
	}
	writeAuthorizationResponse(w, r, t)
}

func (rt *Router) token(w http.ResponseWriter, r *http.Request) {
	t, err := rt.newTransaction(r, server.EndpointToken)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	request, err := extractMessage(r)
	if err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	t.Request = request

	if !rt.process(w, r, t) {
		return
	}
	writeTokenStyleResponse(w, t)
}

func (rt *Router) introspect(w http.ResponseWriter, r *http.Request) {
	t, err := rt.newTransaction(r, server.EndpointIntrospection)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	request, err := extractMessage(r)
	if err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	t.Request = request

	if !rt.process(w, r, t) {
		return
	}
	writeTokenStyleResponse(w, t)
}

func (rt *Router) revoke(w http.ResponseWriter, r *http.Request) {
	t, err := rt.newTransaction(r, server.EndpointRevocation)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	request, err := extractMessage(r)
	if err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	t.Request = request

	if !rt.process(w, r, t) {
		return
	}
	// RFC 7009: success is an empty 200 regardless of token state.
	if t.Response.Error() != "" {
		writeTokenStyleResponse(w, t)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (rt *Router) userinfo(w http.ResponseWriter, r *http.Request) {
	t, err := rt.newTransaction(r, server.EndpointUserinfo)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	request, err := extractMessage(r)
	if err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	// The bearer token is the canonical credential for userinfo.
	if bearer := bearerToken(r); bearer != "" {
		request.Set(message.ParamAccessToken, message.StringParameter(bearer))
	}
	t.Request = request

	if !rt.process(w, r, t) {
		return
	}
	writeUserinfoResponse(w, t)
}

func (rt *Router) logout(w http.ResponseWriter, r *http.Request) {
	t, err := rt.newTransaction(r, server.EndpointLogout)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	request, err := extractMessage(r)
	if err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	t.Request = request

	if !rt.process(w, r, t) {
		return
	}
	writeLogoutResponse(w, r, t)
}

func (rt *Router) configuration(w http.ResponseWriter, r *http.Request) {
	t, err := rt.newTransaction(r, server.EndpointConfiguration)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	t.Request = message.NewRequest()

	if !rt.process(w, r, t) {
		return
	}
	writeCachedJSONResponse(w, t)
}

func (rt *Router) jwks(w http.ResponseWriter, r *http.Request) {
	t, err := rt.newTransaction(r, server.EndpointCryptography)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	t.Request = message.NewRequest()

	if !rt.process(w, r, t) {
		return
	}
	writeCachedJSONResponse(w, t)
}

// bearerToken extracts the token from an Authorization: Bearer header.
func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}
