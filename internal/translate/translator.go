// Package translate orchestrates one block's translation: context window,
// glossary hints, bounded retries and result validation.
package translate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"github.com/raawaa/ja-translate/internal/domain"
	"github.com/raawaa/ja-translate/internal/ports"
	"github.com/raawaa/ja-translate/internal/retry"
)

// Options tunes the per-block behavior.
type Options struct {
	// MaxRetry bounds translation attempts per block, including the first.
	MaxRetry int
	// ContextChars truncates the previous/next block text sent as
	// discourse context.
	ContextChars int
	// GlossaryHintLimit caps glossary rows attached to one request.
	GlossaryHintLimit int
	// ResidueRatio is the maximum share of Japanese kana runes tolerated
	// in a translated block before it is rejected as a passthrough.
	ResidueRatio float64
}

// Translator drives the translation client for individual blocks.
type Translator struct {
	client   ports.TranslationClient
	glossary domain.Glossary
	terms    ports.TermLog
	opts     Options
	logger   *slog.Logger

	mu   sync.Mutex
	seen map[string]bool
}

// New builds a block translator.
func New(client ports.TranslationClient, glossary domain.Glossary, terms ports.TermLog, opts Options, logger *slog.Logger) *Translator {
	if opts.MaxRetry < 1 {
		opts.MaxRetry = 1
	}
	if opts.ResidueRatio <= 0 {
		opts.ResidueRatio = 0.3
	}
	return &Translator{
		client:   client,
		glossary: glossary,
		terms:    terms,
		opts:     opts,
		logger:   logger,
		seen:     map[string]bool{},
	}
}

// TranslateBlock translates one block with bounded retries. Timeouts and
// transient connection failures are retried up to MaxRetry; a validation
// failure is retried once and then fatal for the block. The returned error
// keeps its classification for the orchestrator.
func (t *Translator) TranslateBlock(ctx context.Context, blk domain.Block) (string, error) {
	req := ports.TranslationRequest{
		Text:     blk.HTML,
		PrevText: truncate(blk.PrevText, t.opts.ContextChars),
		NextText: truncate(blk.NextText, t.opts.ContextChars),
		Hints:    t.glossary.HintsFor(blk.Text, t.opts.GlossaryHintLimit),
	}
	t.discoverTerms(ctx, blk)

	policy := retry.Policy{MaxAttempts: t.opts.MaxRetry}
	validationFailures := 0
	retryable := func(err error) bool {
		switch {
		case errors.Is(err, domain.ErrTimeout), errors.Is(err, domain.ErrConnection):
			return true
		case errors.Is(err, domain.ErrValidation):
			validationFailures++
			return validationFailures <= 1
		default:
			return false
		}
	}

	var result string
	err := policy.Do(ctx, retryable, func(ctx context.Context) error {
		raw, err := t.client.Translate(ctx, req)
		if err != nil {
			return err
		}
		cleaned := stripFences(raw)
		if err := t.validate(cleaned, blk.Text); err != nil {
			return err
		}
		result = cleaned
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("translate %s#%d: %w", blk.DocPath, blk.Ordinal, err)
	}
	if hasJapanesePunct(result) && t.logger != nil {
		t.logger.Warn("translation may carry Japanese punctuation",
			"document", blk.DocPath, "ordinal", blk.Ordinal)
	}
	return result, nil
}

// japanesePunct are marks typical of Japanese typesetting that a Chinese
// translation should not carry. Unlike 。！？ they are not shared with the
// target language, so their presence is worth a warning. Warning only: a
// quoted passage can legitimately keep them.
const japanesePunct = "、・「」『』"

func hasJapanesePunct(s string) bool {
	return strings.ContainsAny(s, japanesePunct)
}

// validate rejects an empty result for a non-empty source and results that
// still carry a high proportion of Japanese kana, which indicates the agent
// passed the source through untranslated.
func (t *Translator) validate(translated, sourceText string) error {
	if strings.TrimSpace(translated) == "" {
		if strings.TrimSpace(sourceText) == "" {
			return nil
		}
		return fmt.Errorf("empty result for non-empty source: %w", domain.ErrValidation)
	}
	if ratio := kanaRatio(translated); ratio > t.opts.ResidueRatio {
		return fmt.Errorf("source-script residue %.2f exceeds %.2f: %w", ratio, t.opts.ResidueRatio, domain.ErrValidation)
	}
	return nil
}

// kanaRatio is the share of hiragana/katakana among letter runes. Kanji is
// deliberately not counted: the target language shares the ideographs.
func kanaRatio(s string) float64 {
	var kana, letters int
	for _, r := range s {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.In(r, unicode.Hiragana, unicode.Katakana) {
			kana++
		}
	}
	if letters == 0 {
		return 0
	}
	return float64(kana) / float64(letters)
}

var fenceExpr = regexp.MustCompile("(?s)^```[a-zA-Z]*\n(.*)\n```$")

// stripFences unwraps a response the agent wrapped in a markdown code block.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fenceExpr.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return s
}

var katakanaExpr = regexp.MustCompile(`[\p{Katakana}ー]{3,}`)

// discoverTerms logs katakana runs that the glossary does not cover. Best
// effort: a logging failure never blocks translation.
func (t *Translator) discoverTerms(ctx context.Context, blk domain.Block) {
	if t.terms == nil {
		return
	}
	covered := map[string]bool{}
	for _, term := range t.glossary.Terms {
		covered[term.Source] = true
	}
	for _, candidate := range katakanaExpr.FindAllString(blk.Text, -1) {
		if covered[candidate] {
			continue
		}
		t.mu.Lock()
		dup := t.seen[candidate]
		t.seen[candidate] = true
		t.mu.Unlock()
		if dup {
			continue
		}
		err := t.terms.AppendTerm(ctx, domain.DiscoveredTerm{
			Term:    candidate,
			Snippet: truncate(blk.Text, 60),
		})
		if err != nil && t.logger != nil {
			t.logger.Warn("cannot log discovered term", "term", candidate, "error", err)
		}
	}
}

func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
