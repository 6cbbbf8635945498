package core

import "encoding/json"

// ResultKind tags how a backend response was decoded.
type ResultKind string

const (
	// ResultStructured means the backend emitted parseable JSON.
	ResultStructured ResultKind = "structured"

	// ResultText means the backend exited successfully but its output was
	// not valid JSON. A non-JSON success is still a success.
	ResultText ResultKind = "text"
)

// Result is the outcome of one backend execution. It is what gets cached
// and what gets delivered to webhooks. Exactly one of Data or Text is set,
// according to Kind.
type Result struct {
	Kind ResultKind      `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
	Text string          `json:"text,omitempty"`
}

// StructuredResult wraps raw JSON output from the backend.
func StructuredResult(data json.RawMessage) *Result {
	return &Result{Kind: ResultStructured, Data: data}
}

// TextResult wraps plain-text output from the backend.
func TextResult(text string) *Result {
	return &Result{Kind: ResultText, Text: text}
}
