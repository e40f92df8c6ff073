package toolspec

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// FileDiff summarizes a file mutation reported by a tool: a unified diff
// plus added/removed line counts. Dispatchers attach one to a CallResult
// when a tool rewrote a file, so clients can render what changed without
// re-reading the file.
type FileDiff struct {
	Path      string `json:"path"`
	Unified   string `json:"unified"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
}

// ComputeFileDiff produces a line-based diff between two versions of a
// file's contents. Identical contents yield an empty Unified text.
func ComputeFileDiff(path, before, after string) FileDiff {
	dmp := diffmatchpatch.New()
	a, b, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lineArray)

	d := FileDiff{Path: path}
	var body strings.Builder
	changed := false
	for _, part := range diffs {
		lines := splitLines(part.Text)
		switch part.Type {
		case diffmatchpatch.DiffInsert:
			changed = true
			d.Additions += len(lines)
			writeDiffLines(&body, "+", lines)
		case diffmatchpatch.DiffDelete:
			changed = true
			d.Deletions += len(lines)
			writeDiffLines(&body, "-", lines)
		default:
			writeDiffLines(&body, " ", lines)
		}
	}
	if !changed {
		return d
	}
	d.Unified = fmt.Sprintf("--- a/%s\n+++ b/%s\n%s", path, path, body.String())
	return d
}

func splitLines(text string) []string {
	lines := strings.Split(text, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func writeDiffLines(body *strings.Builder, prefix string, lines []string) {
	for _, line := range lines {
		body.WriteString(prefix)
		body.WriteString(line)
		body.WriteByte('\n')
	}
}
