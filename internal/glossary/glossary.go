// Package glossary loads the fixed source → target term table applied as
// translation hints.
package glossary

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/raawaa/ja-translate/internal/domain"
)

// Load reads a two-column markdown table (| source | target |). The first
// two lines are the header and separator. Malformed rows are skipped, not
// fatal. A missing file yields an empty glossary.
func Load(path string) (domain.Glossary, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.Glossary{}, nil
		}
		return domain.Glossary{}, fmt.Errorf("open glossary %s: %w", path, err)
	}
	defer f.Close()

	var g domain.Glossary
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		if line <= 2 {
			// header + separator
			continue
		}
		term, ok := parseRow(scanner.Text())
		if !ok {
			continue
		}
		g.Terms = append(g.Terms, term)
	}
	if err := scanner.Err(); err != nil {
		return domain.Glossary{}, fmt.Errorf("read glossary %s: %w", path, err)
	}
	return g, nil
}

func parseRow(raw string) (domain.Term, bool) {
	if !strings.Contains(raw, "|") {
		return domain.Term{}, false
	}
	parts := strings.Split(strings.TrimSpace(raw), "|")
	if len(parts) < 3 {
		return domain.Term{}, false
	}
	source := strings.TrimSpace(parts[1])
	target := strings.TrimSpace(parts[2])
	if source == "" || target == "" {
		return domain.Term{}, false
	}
	return domain.Term{Source: source, Target: target}, true
}
