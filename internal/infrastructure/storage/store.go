// Package storage persists per-document translation progress and the
// append-only error and discovered-terms logs in a local SQLite database.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"

	"github.com/raawaa/ja-translate/internal/domain"
	"github.com/raawaa/ja-translate/internal/ports"
)

const migrationsSQL = `
CREATE TABLE IF NOT EXISTS documents (
	doc_path   TEXT PRIMARY KEY,
	total      INTEGER NOT NULL DEFAULT 0,
	current    INTEGER NOT NULL DEFAULT -1,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS blocks (
	doc_path   TEXT NOT NULL,
	ordinal    INTEGER NOT NULL,
	state      TEXT NOT NULL,
	translated TEXT NOT NULL DEFAULT '',
	message    TEXT NOT NULL DEFAULT '',
	attempts   INTEGER NOT NULL DEFAULT 0,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (doc_path, ordinal)
);

CREATE TABLE IF NOT EXISTS error_log (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	doc_path   TEXT NOT NULL,
	ordinal    INTEGER NOT NULL,
	message    TEXT NOT NULL,
	snippet    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS discovered_terms (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	term       TEXT NOT NULL,
	snippet    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
)
`

// Open opens (or creates) the progress database and runs migrations.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open progress db %s: %w", path, err)
	}
	if err := InitDB(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// InitDB runs migrations on the given DB connection using the embedded SQL.
func InitDB(db *sql.DB) error {
	for _, stmt := range strings.Split(migrationsSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate progress db: %w", err)
		}
	}
	return nil
}

// Store implements the progress store and both append-only logs over one
// SQLite database. Every write is committed before the call returns, so a
// terminated process loses at most the in-flight block.
type Store struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

var _ ports.ProgressStore = (*Store)(nil)
var _ ports.ErrorLog = (*Store)(nil)
var _ ports.TermLog = (*Store)(nil)

// NewStore wires a migrated database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, sb: sq.StatementBuilder.PlaceholderFormat(sq.Question)}
}

// Load returns the persisted record for a document, or an empty record when
// nothing was persisted yet.
func (s *Store) Load(ctx context.Context, docPath string) (domain.ProgressRecord, error) {
	rec := domain.NewProgressRecord()

	query, args, err := s.sb.
		Select("total", "current").
		From("documents").
		Where(sq.Eq{"doc_path": docPath}).
		ToSql()
	if err != nil {
		return rec, fmt.Errorf("build document query: %w", err)
	}
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&rec.Total, &rec.Current)
	if err != nil && err != sql.ErrNoRows {
		return rec, fmt.Errorf("load document %s: %w", docPath, err)
	}

	query, args, err = s.sb.
		Select("ordinal", "state", "translated", "attempts").
		From("blocks").
		Where(sq.Eq{"doc_path": docPath}).
		OrderBy("ordinal").
		ToSql()
	if err != nil {
		return rec, fmt.Errorf("build blocks query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return rec, fmt.Errorf("load blocks %s: %w", docPath, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ordinal, attempts int
			state, translated string
		)
		if err := rows.Scan(&ordinal, &state, &translated, &attempts); err != nil {
			return rec, fmt.Errorf("scan block row: %w", err)
		}
		switch domain.BlockState(state) {
		case domain.StateDone:
			rec.Completed[ordinal] = translated
		case domain.StateFailed:
			rec.Failed[ordinal] = attempts
		}
	}
	if err := rows.Err(); err != nil {
		return rec, fmt.Errorf("iterate block rows: %w", err)
	}
	return rec, nil
}

// SetTotal records the document's block count and creates its row.
func (s *Store) SetTotal(ctx context.Context, docPath string, total int) error {
	query, args, err := s.sb.
		Insert("documents").
		Columns("doc_path", "total", "current", "updated_at").
		Values(docPath, total, -1, time.Now().UTC()).
		Suffix("ON CONFLICT(doc_path) DO UPDATE SET total = excluded.total, updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build total upsert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("set total %s: %w", docPath, err)
	}
	return nil
}

// RecordCompletion marks a block done with its translation and advances the
// document's last-processed position.
func (s *Store) RecordCompletion(ctx context.Context, docPath string, ordinal int, translated string) error {
	return s.recordState(ctx, docPath, ordinal, domain.StateDone, translated, "")
}

// RecordFailure marks a block failed with its cause, bumping the attempt
// count so a later run can give it up after the configured limit.
func (s *Store) RecordFailure(ctx context.Context, docPath string, ordinal int, cause string) error {
	return s.recordState(ctx, docPath, ordinal, domain.StateFailed, "", cause)
}

func (s *Store) recordState(ctx context.Context, docPath string, ordinal int, state domain.BlockState, translated, message string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin progress tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	query, args, err := s.sb.
		Insert("blocks").
		Columns("doc_path", "ordinal", "state", "translated", "message", "attempts", "updated_at").
		Values(docPath, ordinal, string(state), translated, message, 1, now).
		Suffix(`ON CONFLICT(doc_path, ordinal) DO UPDATE SET
			state = excluded.state,
			translated = excluded.translated,
			message = excluded.message,
			attempts = blocks.attempts + 1,
			updated_at = excluded.updated_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build block upsert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("record block %s#%d: %w", docPath, ordinal, err)
	}

	query, args, err = s.sb.
		Update("documents").
		Set("current", ordinal).
		Set("updated_at", now).
		Where(sq.Eq{"doc_path": docPath}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build position update: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("advance position %s: %w", docPath, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit progress: %w", err)
	}
	return nil
}

// IsDone reports whether the block already has a persisted translation.
func (s *Store) IsDone(ctx context.Context, docPath string, ordinal int) (bool, error) {
	query, args, err := s.sb.
		Select("state").
		From("blocks").
		Where(sq.Eq{"doc_path": docPath, "ordinal": ordinal}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build state query: %w", err)
	}
	var state string
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&state)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query state %s#%d: %w", docPath, ordinal, err)
	}
	return domain.BlockState(state) == domain.StateDone, nil
}

// Append adds one failure occurrence to the error log. Past entries are
// never mutated.
func (s *Store) Append(ctx context.Context, rec domain.ErrorRecord) error {
	query, args, err := s.sb.
		Insert("error_log").
		Columns("doc_path", "ordinal", "message", "snippet", "created_at").
		Values(rec.DocPath, rec.Ordinal, rec.Message, rec.Snippet, time.Now().UTC()).
		ToSql()
	if err != nil {
		return fmt.Errorf("build error insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("append error record: %w", err)
	}
	return nil
}

// AppendTerm logs a source term that was encountered but is not in the
// glossary. Informational, never blocking.
func (s *Store) AppendTerm(ctx context.Context, term domain.DiscoveredTerm) error {
	query, args, err := s.sb.
		Insert("discovered_terms").
		Columns("term", "snippet", "created_at").
		Values(term.Term, term.Snippet, time.Now().UTC()).
		ToSql()
	if err != nil {
		return fmt.Errorf("build term insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("append discovered term: %w", err)
	}
	return nil
}

// DocumentSummary is one row of the status report.
type DocumentSummary struct {
	DocPath   string
	Total     int
	Completed int
	Failed    int
	Current   int
}

// Summaries returns per-document completion counts for the status command.
func (s *Store) Summaries(ctx context.Context) ([]DocumentSummary, error) {
	query, args, err := s.sb.
		Select(
			"d.doc_path",
			"d.total",
			"d.current",
			"COALESCE(SUM(CASE WHEN b.state = ? THEN 1 ELSE 0 END), 0)",
			"COALESCE(SUM(CASE WHEN b.state = ? THEN 1 ELSE 0 END), 0)",
		).
		From("documents d").
		LeftJoin("blocks b ON b.doc_path = d.doc_path").
		GroupBy("d.doc_path").
		OrderBy("d.doc_path").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build summary query: %w", err)
	}
	args = append([]interface{}{string(domain.StateDone), string(domain.StateFailed)}, args...)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query summaries: %w", err)
	}
	defer rows.Close()

	var out []DocumentSummary
	for rows.Next() {
		var ds DocumentSummary
		if err := rows.Scan(&ds.DocPath, &ds.Total, &ds.Current, &ds.Completed, &ds.Failed); err != nil {
			return nil, fmt.Errorf("scan summary row: %w", err)
		}
		out = append(out, ds)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate summary rows: %w", err)
	}
	return out, nil
}
