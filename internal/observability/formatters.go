// Package observability provides human-readable output for operator CLI commands.
package observability

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/jonathan/onboarding-verifier/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted output for text mode
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, truncate(title))
	fmt.Fprintf(p.out, "├%s┤\n", border)

	for _, line := range strings.Split(strings.TrimRight(content, "\n"), "\n") {
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, truncate(line))
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// truncate shortens s to the box's inner width, counting runes.
func truncate(s string) string {
	r := []rune(s)
	if len(r) > boxWidth-4 {
		return string(r[:boxWidth-7]) + "..."
	}
	return s
}

// PrintDocument outputs a summary of a document's verification state.
func (p *Printer) PrintDocument(doc *types.Document) {
	if doc == nil {
		return
	}

	label := string(doc.Kind)
	if spec, ok := doc.Kind.Spec(); ok {
		label = spec.Label
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Kind:       %s\n", label))
	sb.WriteString(fmt.Sprintf("Owner:      %s\n", doc.OwnerID))
	sb.WriteString(fmt.Sprintf("Status:     %s\n", doc.Status))
	if doc.Confidence != nil {
		sb.WriteString(fmt.Sprintf("Confidence: %.2f\n", *doc.Confidence))
	} else {
		sb.WriteString("Confidence: -\n")
	}
	sb.WriteString(fmt.Sprintf("Uploaded:   %s\n", doc.UploadedAt.Format(time.RFC3339)))
	if doc.ReviewNote != "" {
		sb.WriteString(fmt.Sprintf("Note:       %s\n", doc.ReviewNote))
	}

	if len(doc.ValidationFindings) > 0 {
		sb.WriteString("\nFindings:\n")
		count := min(len(doc.ValidationFindings), maxItemsToShow)
		for _, f := range doc.ValidationFindings[:count] {
			mark := "•"
			if f.Resolved {
				mark = "✓"
			}
			sb.WriteString(fmt.Sprintf("  %s [%s] %s\n", mark, f.Severity, f.Message))
		}
		if len(doc.ValidationFindings) > maxItemsToShow {
			sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(doc.ValidationFindings)-maxItemsToShow))
		}
	}

	if doc.ExtractedFields != nil && len(doc.ExtractedFields.Fields) > 0 {
		sb.WriteString("\nExtracted:\n")
		keys := make([]string, 0, len(doc.ExtractedFields.Fields))
		for k := range doc.ExtractedFields.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for i, k := range keys {
			if i == maxItemsToShow {
				sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(keys)-maxItemsToShow))
				break
			}
			sb.WriteString(fmt.Sprintf("  %s: %s\n", k, doc.ExtractedFields.Fields[k]))
		}
	}

	p.printBox("DOCUMENT "+doc.ID.String(), sb.String())
}

// PrintDocuments prints each document followed by a count line.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintDocuments(docs []types.Document) {
	for i := range docs {
		p.PrintDocument(&docs[i])
	}
	fmt.Fprintf(p.out, "%d document(s)\n", len(docs))
}
