// SPDX-FileCopyrightText: Copyright 2025 openiddict-core contributors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"github.com/khandakerakash/openiddict-core/pkg/message"
)

// Transaction is the per-request scoped state threaded through the pipeline.
//
// All handlers of a transaction execute single-threadedly and cooperatively;
// concurrent handler execution on the same transaction is forbidden, so no
// synchronization guards the fields. Concurrent transactions each get their
// own instance.
type Transaction struct {
	// EndpointType identifies the endpoint the request targets.
	EndpointType EndpointType

	// Issuer is the absolute issuer URL, set from options or inferred from
	// the HTTP host before dispatch.
	Issuer string

	// Request is the extracted protocol request. Nil until the extract
	// stage populates it.
	Request *message.Request

	// Response is the protocol response being assembled.
	Response *message.Response

	// Options is the immutable server options snapshot.
	Options *Options

	// properties conveys cross-handler state, e.g. the validated redirect
	// URI.
	properties map[string]any
}

// NewTransaction creates a transaction for the given endpoint with an empty
// response.
func NewTransaction(endpoint EndpointType, opts *Options) *Transaction {
	return &Transaction{
		EndpointType: endpoint,
		Issuer:       opts.Issuer,
		Response:     message.NewResponse(),
		Options:      opts,
		properties:   make(map[string]any),
	}
}

// SetProperty stores a value in the transaction's properties bag. Storing
// nil removes the key.
func (t *Transaction) SetProperty(name string, value any) {
	if value == nil {
		delete(t.properties, name)
		return
	}
	t.properties[name] = value
}

// Property returns the value stored under name, or nil.
func (t *Transaction) Property(name string) any {
	return t.properties[name]
}

// StringProperty returns the string stored under name, or "" when absent or
// of another type.
func (t *Transaction) StringProperty(name string) string {
	s, _ := t.properties[name].(string)
	return s
}
