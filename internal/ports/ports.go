package ports

import (
	"context"

	"github.com/raawaa/ja-translate/internal/domain"
)

// TranslationRequest carries one block's payload to the agent.
type TranslationRequest struct {
	Text     string
	PrevText string
	NextText string
	Hints    []domain.Term
}

// TranslationClient is the call boundary to the external translation agent.
type TranslationClient interface {
	// Dial verifies the channel with bounded backoff. Exhausting the
	// attempts surfaces domain.ErrServiceUnavailable.
	Dial(ctx context.Context) error
	// Translate performs one remote call under the client's per-call
	// timeout. Fails with domain.ErrTimeout or domain.ErrConnection.
	Translate(ctx context.Context, req TranslationRequest) (string, error)
}

// ProgressStore is the durable per-document completion state enabling
// resumption. Writes are flushed before the call returns.
type ProgressStore interface {
	Load(ctx context.Context, docPath string) (domain.ProgressRecord, error)
	RecordCompletion(ctx context.Context, docPath string, ordinal int, translated string) error
	RecordFailure(ctx context.Context, docPath string, ordinal int, cause string) error
	SetTotal(ctx context.Context, docPath string, total int) error
	IsDone(ctx context.Context, docPath string, ordinal int) (bool, error)
}

// ErrorLog is the append-only failure log for manual follow-up.
type ErrorLog interface {
	Append(ctx context.Context, rec domain.ErrorRecord) error
}

// TermLog collects source terms encountered outside the glossary.
type TermLog interface {
	AppendTerm(ctx context.Context, term domain.DiscoveredTerm) error
}
