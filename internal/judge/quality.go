package judge

import (
	"strings"

	"github.com/hirecode/hirecode/internal/domain"
)

// AnalyzeCode computes cheap static metrics over the submitted source.
// These feed the optimality/style scoring axes; they are heuristics, not a
// linter.
func AnalyzeCode(code string) domain.CodeQuality {
	lines := 0
	maxNesting := 0
	longLines := 0

	for _, raw := range strings.Split(code, "\n") {
		line := strings.TrimRight(raw, " \t")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines++
		if len(line) > 120 {
			longLines++
		}
		if depth := indentDepth(line); depth > maxNesting {
			maxNesting = depth
		}
	}

	// Start from a perfect 10 and charge for smells.
	score := 10.0
	if maxNesting > 3 {
		score -= float64(maxNesting-3) * 1.5
	}
	if lines > 150 {
		score -= 2
	}
	score -= float64(longLines) * 0.5
	if score < 0 {
		score = 0
	}

	return domain.CodeQuality{
		Lines:      lines,
		MaxNesting: maxNesting,
		Score:      score,
	}
}

// indentDepth estimates nesting from leading whitespace, treating a tab or
// four spaces as one level.
func indentDepth(line string) int {
	spaces := 0
	tabs := 0
	for _, r := range line {
		switch r {
		case ' ':
			spaces++
		case '\t':
			tabs++
		default:
			return tabs + spaces/4
		}
	}
	return 0
}
