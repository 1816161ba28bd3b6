// SPDX-FileCopyrightText: Copyright 2025 openiddict-core contributors
// SPDX-License-Identifier: Apache-2.0

package message

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// redactedParameters lists the parameter names whose values must never reach
// logs. The debug serializer replaces them with [redacted].
var redactedParameters = map[string]struct{}{
	ParamAccessToken:     {},
	ParamAssertion:       {},
	ParamClientAssertion: {},
	ParamClientSecret:    {},
	ParamCode:            {},
	ParamIDToken:         {},
	ParamIDTokenHint:     {},
	ParamPassword:        {},
	ParamRefreshToken:    {},
	ParamToken:           {},
}

// Message is an insertion-ordered mapping from parameter name to Parameter.
// Names are compared case-sensitively: "Scope" and "scope" are distinct
// parameters. The zero value is not usable; call NewMessage.
type Message struct {
	names  []string
	params map[string]Parameter
}

// NewMessage returns an empty message.
func NewMessage() *Message {
	return &Message{params: make(map[string]Parameter)}
}

// FromValues builds a message from url.Values, typically a parsed query
// string or form body. Names carrying several values become multi-valued
// parameters. Iteration order of url.Values is not deterministic, so the
// resulting insertion order is sorted by name for reproducibility.
func FromValues(values url.Values) *Message {
	m := NewMessage()

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		vs := values[name]
		switch len(vs) {
		case 0:
			continue
		case 1:
			m.Set(name, StringParameter(vs[0]))
		default:
			m.Set(name, StringsParameter(vs...))
		}
	}
	return m
}

// Add stores the parameter under name unless the name is already present.
// It reports whether the parameter was stored.
func (m *Message) Add(name string, value Parameter) bool {
	if _, ok := m.params[name]; ok {
		return false
	}
	m.names = append(m.names, name)
	m.params[name] = value
	return true
}

// Set stores the parameter under name, replacing any previous value. Setting
// a null or empty parameter removes the name instead.
func (m *Message) Set(name string, value Parameter) {
	if value.IsEmpty() {
		m.Remove(name)
		return
	}
	if _, ok := m.params[name]; !ok {
		m.names = append(m.names, name)
	}
	m.params[name] = value
}

// Get returns the parameter stored under name. The second return value
// reports whether the name is present.
func (m *Message) Get(name string) (Parameter, bool) {
	p, ok := m.params[name]
	return p, ok
}

// GetString returns the string rendering of the parameter stored under name,
// or the empty string when absent.
func (m *Message) GetString(name string) string {
	p, ok := m.params[name]
	if !ok {
		return ""
	}
	return p.String()
}

// Remove deletes the parameter stored under name, if any.
func (m *Message) Remove(name string) {
	if _, ok := m.params[name]; !ok {
		return
	}
	delete(m.params, name)
	m.names = slices.DeleteFunc(m.names, func(n string) bool { return n == name })
}

// Has reports whether a parameter is stored under name.
func (m *Message) Has(name string) bool {
	_, ok := m.params[name]
	return ok
}

// Count returns the number of parameters in the message.
func (m *Message) Count() int {
	return len(m.params)
}

// Names returns the parameter names in insertion order.
func (m *Message) Names() []string {
	return slices.Clone(m.names)
}

// Values renders the message as url.Values for query or form encoding.
// Non-string parameters are rendered through Parameter.Strings.
func (m *Message) Values() url.Values {
	values := make(url.Values, len(m.params))
	for _, name := range m.names {
		values[name] = m.params[name].Strings()
	}
	return values
}

// MarshalJSON serializes the message as a JSON object preserving insertion
// order.
func (m *Message) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range m.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		value, err := m.params[name].MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", name, err)
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON deserializes a JSON object into the message, preserving the
// document's member order as the insertion order.
func (m *Message) UnmarshalJSON(data []byte) error {
	m.names = nil
	m.params = make(map[string]Parameter)

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("expected JSON object, got %v", tok)
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("expected object key, got %v", keyTok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("parameter %q: %w", name, err)
		}
		var p Parameter
		if err := p.UnmarshalJSON(raw); err != nil {
			return fmt.Errorf("parameter %q: %w", name, err)
		}
		m.Set(name, p)
	}

	// Consume the closing brace.
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

// String renders the message for debug logging. Sensitive parameters are
// redacted.
func (m *Message) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, name := range m.names {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(name)
		sb.WriteByte('=')
		if _, sensitive := redactedParameters[name]; sensitive {
			sb.WriteString("[redacted]")
			continue
		}
		sb.WriteString(m.params[name].String())
	}
	sb.WriteByte('}')
	return sb.String()
}
