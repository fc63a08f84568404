// Package nerclient calls NER endpoints. Every backend answers the same
// question: given a text and optional extra arguments, which substrings are
// entities and what are their labels.
//
// Three kinds of endpoint are supported:
//
//	http     POST {"text": ..., <extra>...} and read back {"entity": "label"}
//	openai   an OpenAI-compatible chat model prompted to reply with that mapping
//	bedrock  an AWS Bedrock model invoked with the same body as http
package nerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultTimeout bounds one endpoint call.
const DefaultTimeout = 30 * time.Second

// Endpoint kinds.
const (
	KindHTTP    = "http"
	KindOpenAI  = "openai"
	KindBedrock = "bedrock"
)

// Caller calls one NER endpoint.
type Caller interface {
	Call(ctx context.Context, text string, extra map[string]string) (map[string]string, error)
}

// CallerFunc adapts a function to Caller.
type CallerFunc func(ctx context.Context, text string, extra map[string]string) (map[string]string, error)

// Call implements Caller.
func (f CallerFunc) Call(ctx context.Context, text string, extra map[string]string) (map[string]string, error) {
	return f(ctx, text, extra)
}

// OAuth2 holds client-credentials settings for endpoints behind a token
// server.
type OAuth2 struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// Spec describes the endpoint a Caller is built for.
type Spec struct {
	Kind    string
	URL     string
	Model   string
	APIKey  string
	Region  string
	OAuth2  *OAuth2
	Timeout time.Duration
}

// New builds the Caller for spec.
func New(ctx context.Context, spec Spec) (Caller, error) {
	switch spec.Kind {
	case "", KindHTTP:
		opts := []HTTPOption{WithTimeout(spec.Timeout)}
		if spec.OAuth2 != nil {
			opts = append(opts, WithOAuth2(ctx, *spec.OAuth2))
		}
		return NewHTTP(spec.URL, opts...)
	case KindOpenAI:
		return NewOpenAI(spec.URL, spec.APIKey, spec.Model)
	case KindBedrock:
		return NewBedrock(ctx, spec.Region, spec.Model, spec.APIKey)
	default:
		return nil, fmt.Errorf("unknown endpoint kind %q", spec.Kind)
	}
}

// requestBody builds the JSON object sent to http and bedrock endpoints.
// The text field always carries text, even if extra has a "text" key.
func requestBody(text string, extra map[string]string) ([]byte, error) {
	body := make(map[string]string, len(extra)+1)
	for k, v := range extra {
		body[k] = v
	}
	body["text"] = text
	return json.Marshal(body)
}

// mustJSON marshals a string map, which cannot fail.
func mustJSON(m map[string]string) []byte {
	b, _ := json.Marshal(m)
	return b
}

var errNotObject = errors.New("response is not a JSON object")

// decodeEntities parses a JSON object of entity to label. Scalar values
// are rendered as strings; nested values are rejected.
func decodeEntities(data []byte) (map[string]string, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return nil, errNotObject
	}
	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	out := make(map[string]string, len(raw))
	for entity, v := range raw {
		switch label := v.(type) {
		case string:
			out[entity] = label
		case json.Number:
			out[entity] = label.String()
		case bool:
			out[entity] = fmt.Sprint(label)
		case nil:
			out[entity] = ""
		default:
			return nil, fmt.Errorf("label for %q is not a scalar", entity)
		}
	}
	return out, nil
}

// extractJSONObject pulls the outermost {...} out of a chat reply, which
// may wrap it in prose or a code fence.
func extractJSONObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return "", false
	}
	return s[start : end+1], true
}
