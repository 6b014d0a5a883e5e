package tutor

import (
	"context"
	"errors"

	"github.com/bull/course-tutor/internal/assembler"
	"github.com/bull/course-tutor/internal/chunker"
	"github.com/bull/course-tutor/internal/config"
	"github.com/bull/course-tutor/internal/embedding"
	"github.com/bull/course-tutor/internal/extract"
	"github.com/bull/course-tutor/internal/llm"
	"github.com/bull/course-tutor/internal/retrieval"
	"github.com/bull/course-tutor/internal/session"
	"github.com/bull/course-tutor/internal/storage"
	"github.com/bull/course-tutor/internal/symbolic"
)

// ErrInvalidRequest reports a malformed command, such as an empty question.
var ErrInvalidRequest = errors.New("invalid request")

// Kind classifies an error for callers that cannot use errors.Is, such as
// remote clients.
type Kind string

const (
	KindConfig               Kind = "config_error"
	KindUnsupportedFormat    Kind = "unsupported_format"
	KindGateway              Kind = "gateway_error"
	KindRetrievalUnavailable Kind = "retrieval_unavailable"
	KindParse                Kind = "parse_error"
	KindUnsupportedOperation Kind = "unsupported_operation"
	KindAmbiguousVariable    Kind = "ambiguous_variable"
	KindComputation          Kind = "computation_error"
	KindSessionClosed        Kind = "session_closed"
	KindSessionNotFound      Kind = "session_not_found"
	KindBudgetExceeded       Kind = "budget_exceeded"
	KindInvalidRequest       Kind = "invalid_request"
	KindNotFound             Kind = "not_found"
	KindCanceled             Kind = "canceled"
	KindInternal             Kind = "internal"
)

// Retryable reports whether the same request may succeed when re-attempted.
func (k Kind) Retryable() bool {
	return k == KindGateway || k == KindRetrievalUnavailable
}

// classification is checked in order; wrapping sentinels come before the
// sentinels they may wrap. Only the caller cancels a context, so
// context.Canceled wins over any gateway error around it. A deadline may be a
// single gateway attempt timing out and stays last.
var classification = []struct {
	target error
	kind   Kind
}{
	{context.Canceled, KindCanceled},
	{retrieval.ErrRetrievalUnavailable, KindRetrievalUnavailable},
	{embedding.ErrGateway, KindGateway},
	{llm.ErrGateway, KindGateway},
	{config.ErrConfig, KindConfig},
	{chunker.ErrConfig, KindConfig},
	{storage.ErrDimensionMismatch, KindConfig},
	{extract.ErrUnsupportedFormat, KindUnsupportedFormat},
	{symbolic.ErrParse, KindParse},
	{symbolic.ErrUnsupportedOperation, KindUnsupportedOperation},
	{symbolic.ErrAmbiguousVariable, KindAmbiguousVariable},
	{symbolic.ErrComputation, KindComputation},
	{session.ErrSessionClosed, KindSessionClosed},
	{session.ErrSessionNotFound, KindSessionNotFound},
	{session.ErrSessionExists, KindInvalidRequest},
	{session.ErrInvalidTurn, KindInvalidRequest},
	{assembler.ErrBudgetExceeded, KindBudgetExceeded},
	{storage.ErrDocumentNotFound, KindNotFound},
	{ErrInvalidRequest, KindInvalidRequest},
	{context.DeadlineExceeded, KindCanceled},
}

// KindOf returns the kind of err, or an empty Kind for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, c := range classification {
		if errors.Is(err, c.target) {
			return c.kind
		}
	}
	return KindInternal
}

// ErrorInfo is the wire form of an error.
type ErrorInfo struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// Describe returns the kind and message of err.
func Describe(err error) ErrorInfo {
	if err == nil {
		return ErrorInfo{}
	}
	return ErrorInfo{Kind: KindOf(err), Message: err.Error()}
}
