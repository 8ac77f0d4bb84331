package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/raawaa/ja-translate/internal/domain"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "progress.db"))
	if err != nil {
		t.Fatalf("open progress db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db)
}

func TestLoadEmptyRecord(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	rec, err := s.Load(context.Background(), "text01.xhtml")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if rec.Total != 0 || len(rec.Completed) != 0 || len(rec.Failed) != 0 {
		t.Fatalf("expected empty record, got %+v", rec)
	}
	if rec.Current != -1 {
		t.Fatalf("expected position -1, got %d", rec.Current)
	}
}

func TestRecordCompletionRoundTrip(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()

	if err := s.SetTotal(ctx, "text01.xhtml", 10); err != nil {
		t.Fatalf("SetTotal returned error: %v", err)
	}
	if err := s.RecordCompletion(ctx, "text01.xhtml", 0, "<p>译文〇</p>"); err != nil {
		t.Fatalf("RecordCompletion returned error: %v", err)
	}
	if err := s.RecordCompletion(ctx, "text01.xhtml", 1, "<p>译文一</p>"); err != nil {
		t.Fatalf("RecordCompletion returned error: %v", err)
	}

	rec, err := s.Load(ctx, "text01.xhtml")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if rec.Total != 10 {
		t.Fatalf("expected total 10, got %d", rec.Total)
	}
	if rec.Completed[0] != "<p>译文〇</p>" || rec.Completed[1] != "<p>译文一</p>" {
		t.Fatalf("translations not persisted: %+v", rec.Completed)
	}
	if rec.Current != 1 {
		t.Fatalf("expected position 1, got %d", rec.Current)
	}

	done, err := s.IsDone(ctx, "text01.xhtml", 0)
	if err != nil || !done {
		t.Fatalf("expected ordinal 0 done, got %v %v", done, err)
	}
	done, err = s.IsDone(ctx, "text01.xhtml", 5)
	if err != nil || done {
		t.Fatalf("expected ordinal 5 pending, got %v %v", done, err)
	}
}

func TestRecordFailureCountsAttempts(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()

	if err := s.SetTotal(ctx, "text02.xhtml", 3); err != nil {
		t.Fatalf("SetTotal returned error: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := s.RecordFailure(ctx, "text02.xhtml", 1, "timeout"); err != nil {
			t.Fatalf("RecordFailure returned error: %v", err)
		}
	}

	rec, err := s.Load(ctx, "text02.xhtml")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if rec.Failed[1] != 2 {
		t.Fatalf("expected 2 attempts, got %d", rec.Failed[1])
	}

	// The failure cause is kept on the block row for manual follow-up.
	var message string
	err = s.db.QueryRow(`SELECT message FROM blocks WHERE doc_path = ? AND ordinal = ?`, "text02.xhtml", 1).Scan(&message)
	if err != nil {
		t.Fatalf("query block message: %v", err)
	}
	if message != "timeout" {
		t.Fatalf("expected failure cause on block row, got %q", message)
	}

	// A later success supersedes the failure state.
	if err := s.RecordCompletion(ctx, "text02.xhtml", 1, "<p>译</p>"); err != nil {
		t.Fatalf("RecordCompletion returned error: %v", err)
	}
	rec, err = s.Load(ctx, "text02.xhtml")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if _, failed := rec.Failed[1]; failed {
		t.Fatalf("completed block still marked failed: %+v", rec)
	}
	if !rec.IsDone(1) {
		t.Fatalf("expected block done after retry")
	}
	err = s.db.QueryRow(`SELECT message FROM blocks WHERE doc_path = ? AND ordinal = ?`, "text02.xhtml", 1).Scan(&message)
	if err != nil {
		t.Fatalf("query block message: %v", err)
	}
	if message != "" {
		t.Fatalf("completion must clear the failure cause, got %q", message)
	}
}

func TestRecordsAreIsolatedPerDocument(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()

	if err := s.RecordCompletion(ctx, "a.xhtml", 0, "x"); err != nil {
		t.Fatalf("RecordCompletion returned error: %v", err)
	}

	rec, err := s.Load(ctx, "b.xhtml")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(rec.Completed) != 0 {
		t.Fatalf("record leaked across documents: %+v", rec)
	}
}

func TestErrorAndTermLogsAppend(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()

	err := s.Append(ctx, domain.ErrorRecord{
		DocPath: "text01.xhtml",
		Ordinal: 4,
		Message: "timeout after 3 attempts",
		Snippet: "こんにちは",
	})
	if err != nil {
		t.Fatalf("Append returned error: %v", err)
	}
	err = s.AppendTerm(ctx, domain.DiscoveredTerm{Term: "データベース", Snippet: "…"})
	if err != nil {
		t.Fatalf("AppendTerm returned error: %v", err)
	}

	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM error_log`).Scan(&n); err != nil || n != 1 {
		t.Fatalf("expected 1 error row, got %d (%v)", n, err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM discovered_terms`).Scan(&n); err != nil || n != 1 {
		t.Fatalf("expected 1 term row, got %d (%v)", n, err)
	}
}

func TestSummaries(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()

	if err := s.SetTotal(ctx, "text01.xhtml", 3); err != nil {
		t.Fatalf("SetTotal returned error: %v", err)
	}
	if err := s.RecordCompletion(ctx, "text01.xhtml", 0, "x"); err != nil {
		t.Fatalf("RecordCompletion returned error: %v", err)
	}
	if err := s.RecordCompletion(ctx, "text01.xhtml", 1, "y"); err != nil {
		t.Fatalf("RecordCompletion returned error: %v", err)
	}
	if err := s.RecordFailure(ctx, "text01.xhtml", 2, "boom"); err != nil {
		t.Fatalf("RecordFailure returned error: %v", err)
	}

	sums, err := s.Summaries(ctx)
	if err != nil {
		t.Fatalf("Summaries returned error: %v", err)
	}
	if len(sums) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(sums))
	}
	got := sums[0]
	if got.Total != 3 || got.Completed != 2 || got.Failed != 1 || got.Current != 2 {
		t.Fatalf("unexpected summary: %+v", got)
	}
}
