package transform

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// LineDelta returns the lines added to and removed from src to obtain dst.
func LineDelta(src, dst string) (added, removed []string) {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(src, dst)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added = append(added, splitLines(d.Text)...)
		case diffmatchpatch.DiffDelete:
			removed = append(removed, splitLines(d.Text)...)
		}
	}
	return added, removed
}

// DiffSummary renders a one-line summary of the rewrite, e.g. "+1 -0".
func DiffSummary(src, dst string) string {
	added, removed := LineDelta(src, dst)
	return fmt.Sprintf("+%d -%d", len(added), len(removed))
}

// DiffText renders a unified-style listing of the changed lines.
func DiffText(src, dst string) string {
	added, removed := LineDelta(src, dst)
	var b strings.Builder
	for _, l := range removed {
		b.WriteString("-" + l + "\n")
	}
	for _, l := range added {
		b.WriteString("+" + l + "\n")
	}
	return b.String()
}
