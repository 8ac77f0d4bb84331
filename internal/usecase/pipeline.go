package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/raawaa/ja-translate/internal/doctree"
	"github.com/raawaa/ja-translate/internal/domain"
	"github.com/raawaa/ja-translate/internal/ports"
	"github.com/raawaa/ja-translate/internal/translate"
)

// PipelineDeps wires all driven adapters into the orchestration pipeline.
type PipelineDeps struct {
	Registry   *doctree.Registry
	Client     ports.TranslationClient
	Store      ports.ProgressStore
	ErrorLog   ports.ErrorLog
	Translator *translate.Translator
	Logger     *slog.Logger

	SourceDir string
	OutputDir string
	// CheckpointInterval flushes the partially translated document and
	// its progress every N processed blocks.
	CheckpointInterval int
	// MaxBlockAttempts gives up on a failed block after this many runs.
	MaxBlockAttempts int
}

// Pipeline drives the per-document, per-block translation loop.
type Pipeline struct {
	registry   *doctree.Registry
	client     ports.TranslationClient
	store      ports.ProgressStore
	errorLog   ports.ErrorLog
	translator *translate.Translator
	logger     *slog.Logger

	sourceDir  string
	outputDir  string
	checkpoint int
	maxBlock   int
}

// Summary is the run outcome written at finalization.
type Summary struct {
	Documents    int
	BlocksDone   int
	BlocksFailed int
	Skipped      int
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	checkpoint := deps.CheckpointInterval
	if checkpoint < 1 {
		checkpoint = 5
	}
	maxBlock := deps.MaxBlockAttempts
	if maxBlock < 1 {
		maxBlock = 3
	}
	return &Pipeline{
		registry:   deps.Registry,
		client:     deps.Client,
		store:      deps.Store,
		errorLog:   deps.ErrorLog,
		translator: deps.Translator,
		logger:     deps.Logger,
		sourceDir:  deps.SourceDir,
		outputDir:  deps.OutputDir,
		checkpoint: checkpoint,
		maxBlock:   maxBlock,
	}
}

// Run processes the whole source tree: connect, iterate documents,
// finalize. It aborts only when the translation channel is gone for good;
// block-level failures are isolated and the run continues past them.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	var sum Summary

	docs, err := doctree.Scan(p.sourceDir)
	if err != nil {
		return sum, err
	}
	if len(docs) == 0 {
		return sum, fmt.Errorf("no documents under %s", p.sourceDir)
	}

	if err := p.client.Dial(ctx); err != nil {
		return sum, fmt.Errorf("connecting: %w", err)
	}

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		switch doc.Kind {
		case domain.KindOpaque:
			if err := p.copyThrough(doc); err != nil {
				return sum, err
			}
		default:
			err := p.processDocument(ctx, doc, &sum)
			if err != nil {
				if errors.Is(err, domain.ErrServiceUnavailable) || errors.Is(err, context.Canceled) {
					p.logger.Error("run aborted", "document", doc.RelPath, "error", err)
					return sum, err
				}
				return sum, err
			}
		}
		sum.Documents++
	}

	p.logger.Info("run finished",
		"documents", sum.Documents,
		"blocks_done", sum.BlocksDone,
		"blocks_failed", sum.BlocksFailed,
		"blocks_skipped", sum.Skipped,
	)
	return sum, nil
}

// processDocument runs one document's state machine: extract, translate in
// ordinal order, merge, persist, checkpoint. A failed block is recorded and
// skipped; it never halts the loop.
func (p *Pipeline) processDocument(ctx context.Context, doc domain.Document, sum *Summary) error {
	log := p.logger.With("document", doc.RelPath, "kind", string(doc.Kind))

	content, err := os.ReadFile(filepath.Join(p.sourceDir, filepath.FromSlash(doc.RelPath)))
	if err != nil {
		return fmt.Errorf("read %s: %w", doc.RelPath, err)
	}

	opener, err := p.registry.Resolve(doc.Kind)
	if err != nil {
		return err
	}
	tdoc, err := opener.Open(doc.RelPath, content)
	if err != nil {
		return err
	}

	blocks := tdoc.Blocks()
	log.Info("extracted blocks", "count", len(blocks))

	rec, err := p.store.Load(ctx, doc.RelPath)
	if err != nil {
		return err
	}
	if rec.Total > 0 && rec.Total != len(blocks) {
		// The source changed since the last run; stored ordinals no
		// longer line up with the tree, so the record is stale.
		log.Warn("block count changed, ignoring stale progress",
			"stored", rec.Total, "extracted", len(blocks))
		rec = domain.NewProgressRecord()
	}
	if err := p.store.SetTotal(ctx, doc.RelPath, len(blocks)); err != nil {
		return err
	}

	// Re-apply persisted translations so a resumed run produces a
	// complete output file, not just the newly translated tail.
	for _, ordinal := range sortedOrdinals(rec.Completed) {
		if err := tdoc.Merge(ordinal, rec.Completed[ordinal]); err != nil {
			if errors.Is(err, domain.ErrStructural) {
				log.Warn("skip replay of bilingual block", "ordinal", ordinal)
				continue
			}
			return err
		}
	}

	processed := 0
	for _, blk := range blocks {
		if err := ctx.Err(); err != nil {
			// Cancellation is observed at block granularity: flush
			// what is merged so far and exit cleanly.
			if flushErr := p.flush(doc, tdoc); flushErr != nil {
				log.Error("flush on cancel failed", "error", flushErr)
			}
			return err
		}

		if rec.IsDone(blk.Ordinal) {
			continue
		}
		if attempts, failed := rec.Failed[blk.Ordinal]; failed && attempts >= p.maxBlock {
			log.Warn("giving up on block", "ordinal", blk.Ordinal, "attempts", attempts)
			sum.Skipped++
			continue
		}

		translated, err := p.translator.TranslateBlock(ctx, blk)
		if err != nil {
			if errors.Is(err, domain.ErrServiceUnavailable) || errors.Is(err, context.Canceled) {
				if flushErr := p.flush(doc, tdoc); flushErr != nil {
					log.Error("flush on abort failed", "error", flushErr)
				}
				return err
			}
			sum.BlocksFailed++
			p.recordFailure(ctx, log, blk, err)
			continue
		}

		if err := tdoc.Merge(blk.Ordinal, translated); err != nil {
			if !errors.Is(err, domain.ErrStructural) {
				return err
			}
			// Already bilingual: nothing left to do for this block,
			// record it done so it is never retried.
			log.Warn("block already bilingual", "ordinal", blk.Ordinal)
			p.appendError(ctx, log, blk, err)
		}

		if err := p.store.RecordCompletion(ctx, doc.RelPath, blk.Ordinal, translated); err != nil {
			// Cancellation can land between Translate and the persist
			// call; the merged document still has to reach the output
			// tree before the run exits.
			if flushErr := p.flush(doc, tdoc); flushErr != nil {
				log.Error("flush on persist failure failed", "error", flushErr)
			}
			return err
		}
		sum.BlocksDone++
		processed++

		if processed%p.checkpoint == 0 {
			if err := p.flush(doc, tdoc); err != nil {
				return err
			}
			log.Info("checkpoint", "ordinal", blk.Ordinal, "total", len(blocks))
		}
	}

	if err := p.flush(doc, tdoc); err != nil {
		return err
	}
	log.Info("document done")
	return nil
}

func (p *Pipeline) recordFailure(ctx context.Context, log *slog.Logger, blk domain.Block, cause error) {
	log.Warn("block failed", "ordinal", blk.Ordinal, "error", cause)
	p.appendError(ctx, log, blk, cause)
	if err := p.store.RecordFailure(ctx, blk.DocPath, blk.Ordinal, cause.Error()); err != nil {
		log.Error("cannot persist failure", "ordinal", blk.Ordinal, "error", err)
	}
}

func (p *Pipeline) appendError(ctx context.Context, log *slog.Logger, blk domain.Block, cause error) {
	rec := domain.ErrorRecord{
		DocPath: blk.DocPath,
		Ordinal: blk.Ordinal,
		Message: cause.Error(),
		Snippet: snippet(blk.Text, 120),
	}
	if err := p.errorLog.Append(ctx, rec); err != nil {
		log.Error("cannot append error record", "ordinal", blk.Ordinal, "error", err)
	}
}

// flush renders the document and writes it to the mirrored output path.
func (p *Pipeline) flush(doc domain.Document, tdoc doctree.TranslatableDocument) error {
	rendered, err := tdoc.Render()
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(p.outputDir, filepath.FromSlash(doc.RelPath)), rendered)
}

// copyThrough mirrors an opaque file byte-identically.
func (p *Pipeline) copyThrough(doc domain.Document) error {
	content, err := os.ReadFile(filepath.Join(p.sourceDir, filepath.FromSlash(doc.RelPath)))
	if err != nil {
		return fmt.Errorf("read %s: %w", doc.RelPath, err)
	}
	return writeFileAtomic(filepath.Join(p.outputDir, filepath.FromSlash(doc.RelPath)), content)
}

func sortedOrdinals(m map[int]string) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

func snippet(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
