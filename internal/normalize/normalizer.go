// Package normalize converts raw change records into canonical evidence
// units bounded in size and safe to embed and prompt with.
package normalize

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	rderrors "github.com/rdscope/rdscope-go/internal/errors"
	"github.com/rdscope/rdscope-go/internal/models"
)

const truncationMarker = "\n[... diff truncated ...]\n"

// Normalizer validates raw records and produces EvidenceUnits. Pure and
// deterministic: the same record always yields the same unit.
type Normalizer struct {
	diffBudget int // max characters of diff retained per unit
}

// New creates a normalizer. diffBudget <= 0 selects the default of 4000
// characters.
func New(diffBudget int) *Normalizer {
	if diffBudget <= 0 {
		diffBudget = 4000
	}
	return &Normalizer{diffBudget: diffBudget}
}

// Normalize converts a raw record into an evidence unit. Records missing
// required fields (identifier, timestamp, descriptive text, touched files)
// fail with a malformed record error and are skipped upstream.
func (n *Normalizer) Normalize(raw models.RawRecord) (models.EvidenceUnit, error) {
	if raw.ID == "" {
		return models.EvidenceUnit{}, rderrors.MalformedRecord("record has no identifier")
	}
	if raw.Timestamp.IsZero() {
		return models.EvidenceUnit{}, rderrors.MalformedRecordf("record %s has no timestamp", raw.ID)
	}
	title := sanitize(raw.Title)
	body := sanitize(raw.Body)
	if title == "" && body == "" {
		return models.EvidenceUnit{}, rderrors.MalformedRecordf("record %s has no descriptive text", raw.ID)
	}
	if len(raw.Files) == 0 {
		return models.EvidenceUnit{}, rderrors.MalformedRecordf("record %s has no touched files", raw.ID)
	}

	diff, truncated := n.truncateDiff(sanitize(raw.DiffExcerpt))

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s\n", raw.Kind, title)
	if body != "" {
		b.WriteString("\n")
		b.WriteString(body)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\nFiles changed: %s\n", strings.Join(raw.Files, ", "))
	if diff != "" {
		b.WriteString("\nDiff:\n")
		b.WriteString(diff)
	}

	return models.EvidenceUnit{
		ID:        raw.ID,
		Kind:      raw.Kind,
		Text:      b.String(),
		Author:    raw.Author,
		Timestamp: raw.Timestamp,
		Files:     append([]string(nil), raw.Files...),
		ParentIDs: append([]string(nil), raw.ParentIDs...),
		Truncated: truncated,
	}, nil
}

// truncateDiff bounds the diff to the character budget, keeping the head and
// tail and dropping the middle. Context at both edges of a change survives.
func (n *Normalizer) truncateDiff(diff string) (string, bool) {
	if len(diff) <= n.diffBudget {
		return diff, false
	}

	keep := n.diffBudget - len(truncationMarker)
	if keep <= 0 {
		return truncationMarker, true
	}
	head := keep / 2
	tail := keep - head

	// Cut on rune boundaries so the splice never splits a multi-byte
	// character.
	for head > 0 && !utf8.RuneStart(diff[head]) {
		head--
	}
	start := len(diff) - tail
	for start < len(diff) && !utf8.RuneStart(diff[start]) {
		start++
	}
	return diff[:head] + truncationMarker + diff[start:], true
}

// sanitize strips non-textual payloads: invalid UTF-8 and control characters
// other than newline and tab.
func sanitize(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == utf8.RuneError {
			continue
		}
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}
