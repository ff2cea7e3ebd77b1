package orchestrator

import "fmt"

// Kind classifies an orchestration failure for transport mapping.
type Kind string

// Failure kinds, in the vocabulary clients see.
const (
	KindInvalidRequest      Kind = "invalid_request"
	KindAmbiguousInput      Kind = "ambiguous_input"
	KindIngestion           Kind = "ingestion_error"
	KindSessionNotFound     Kind = "session_not_found"
	KindNotFound            Kind = "not_found"
	KindOriginRateLimit     Kind = "rate_limit_exceeded"
	KindGlobalRateLimit     Kind = "global_rate_limit_exceeded"
	KindArtifactUnavailable Kind = "artifact_unavailable"
	KindPipeline            Kind = "pipeline_error"
	KindInternal            Kind = "internal_error"
)

// Error is the typed failure every orchestrator operation returns.
type Error struct {
	Kind       Kind
	Message    string
	Suggestion string
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func invalidRequest(message string) *Error {
	return &Error{Kind: KindInvalidRequest, Message: message}
}

func ambiguousInput(message, suggestion string) *Error {
	return &Error{Kind: KindAmbiguousInput, Message: message, Suggestion: suggestion}
}

func ingestionError(message string, err error) *Error {
	return &Error{
		Kind:       KindIngestion,
		Message:    message,
		Suggestion: "check that the document is readable and the link is reachable",
		Err:        err,
	}
}

func sessionNotFound(sessionID string) *Error {
	return &Error{
		Kind:       KindSessionNotFound,
		Message:    fmt.Sprintf("session %s has no stored result", sessionID),
		Suggestion: "submit the documents again to run a fresh analysis",
	}
}

func notFound(processID string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("process %s not found", processID)}
}

func artifactUnavailable(processID string) *Error {
	return &Error{
		Kind:       KindArtifactUnavailable,
		Message:    fmt.Sprintf("no report available for process %s", processID),
		Suggestion: "the analysis did not produce a report; submit again to retry",
	}
}

func internalError(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}
