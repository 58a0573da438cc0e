// Package blockparser extracts tracked content blocks from Markdown text.
//
// Blocks are delimited by metadata markers of the form
//
//	<!-- id=<ID> ver=<N> -->
//
// optionally followed by a line containing only the anchor token ^<ID>.
// A file carrying exactly one marker and no anchor is tracked as a single
// file-level block; anything else is parsed as inline blocks in document
// order. Content without a marker is not yet tracked and produces no block.
package blockparser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/aclarai/vaultsync/internal/apperr"
	"github.com/aclarai/vaultsync/internal/checksum"
	"github.com/aclarai/vaultsync/internal/models"
)

var (
	markerRe = regexp.MustCompile(`<!--\s*id=(\S+)\s+ver=(\S+)\s*-->`)
	// markerishRe catches comments that look like markers but do not parse,
	// so they can be reported instead of silently treated as content.
	markerishRe = regexp.MustCompile(`<!--\s*id=`)
	// markerishIDRe pulls the id out of a marker that failed to parse fully,
	// so the resulting error can still name the block it belongs to.
	markerishIDRe = regexp.MustCompile(`<!--\s*id=([^\s>]+)`)
)

// extractID best-effort recovers the block id from a malformed marker line.
// Returns "" when no id can be read.
func extractID(line string) string {
	m := markerishIDRe.FindStringSubmatch(line)
	if m == nil {
		return ""
	}
	return strings.TrimSuffix(m[1], "-->")
}

// Result holds the blocks and per-block errors from parsing one file.
// A malformed marker never fails the whole file: it is recorded in Errors
// and the scan continues with the next block.
type Result struct {
	Blocks []models.Block
	Errors []*apperr.ParseError
}

// Parse extracts every tracked block from data, preserving document order.
// file is used only for diagnostics and for Block.SourceFile.
func Parse(file string, data []byte) *Result {
	lines := strings.Split(string(data), "\n")

	markers := findMarkers(lines)
	if len(markers) == 1 && !hasAnchor(lines, markers[0]) {
		return parseFileLevel(file, lines, markers[0])
	}
	return parseInline(file, lines)
}

// marker is one matched (or nearly matched) marker line.
type marker struct {
	line   int // zero-based index into lines
	id     string
	verRaw string
	prefix string // visible text on the marker line before the comment
	valid  bool
}

func findMarkers(lines []string) []marker {
	var out []marker
	for i, line := range lines {
		m := markerRe.FindStringSubmatchIndex(line)
		if m == nil {
			if markerishRe.MatchString(line) {
				out = append(out, marker{line: i, id: extractID(line), valid: false})
			}
			continue
		}
		out = append(out, marker{
			line:   i,
			id:     line[m[2]:m[3]],
			verRaw: line[m[4]:m[5]],
			prefix: line[:m[0]],
			valid:  true,
		})
	}
	return out
}

func hasAnchor(lines []string, mk marker) bool {
	if !mk.valid || mk.line+1 >= len(lines) {
		return false
	}
	return strings.TrimSpace(lines[mk.line+1]) == "^"+mk.id
}

// parseFileLevel treats the whole document as one block. The marker line's
// comment is stripped; every other line is semantic content.
func parseFileLevel(file string, lines []string, mk marker) *Result {
	res := &Result{}
	if !mk.valid {
		res.Errors = append(res.Errors, &apperr.ParseError{
			File: file, Line: mk.line + 1, ID: mk.id, Msg: "malformed block marker",
		})
		return res
	}
	ver, err := parseVersion(mk.verRaw)
	if err != nil {
		res.Errors = append(res.Errors, &apperr.ParseError{
			File: file, Line: mk.line + 1, ID: mk.id, Msg: "invalid version " + strconv.Quote(mk.verRaw),
		})
		return res
	}

	var b strings.Builder
	for i, line := range lines {
		if i == mk.line {
			b.WriteString(mk.prefix)
			b.WriteString("\n")
			continue
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	text := checksum.Normalize(b.String())
	res.Blocks = append(res.Blocks, models.Block{
		ID:           mk.id,
		Type:         models.BlockFileLevel,
		SemanticText: text,
		ContentHash:  checksum.Text(text),
		Version:      ver,
		SourceFile:   file,
		Line:         mk.line + 1,
	})
	return res
}

// parseInline walks the document accumulating content lines; each marker
// closes the block accumulated since the previous one. Trailing content
// with no marker is untracked and ignored.
func parseInline(file string, lines []string) *Result {
	res := &Result{}
	seen := make(map[string]int) // id -> line of first occurrence
	var acc strings.Builder

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		m := markerRe.FindStringSubmatchIndex(line)
		if m == nil {
			if markerishRe.MatchString(line) {
				res.Errors = append(res.Errors, &apperr.ParseError{
					File: file, Line: i + 1, ID: extractID(line), Msg: "malformed block marker",
				})
				acc.Reset()
				continue
			}
			acc.WriteString(line)
			acc.WriteString("\n")
			continue
		}

		id := line[m[2]:m[3]]
		verRaw := line[m[4]:m[5]]
		markerLine := i + 1
		acc.WriteString(line[:m[0]])
		content := acc.String()
		acc.Reset()
		// Text after the comment on the same line opens the next block.
		if rest := line[m[1]:]; strings.TrimSpace(rest) != "" {
			acc.WriteString(rest)
			acc.WriteString("\n")
		}

		// Consume the anchor line so it never leaks into the next block.
		if i+1 < len(lines) && strings.TrimSpace(lines[i+1]) == "^"+id {
			i++
		}

		ver, err := parseVersion(verRaw)
		if err != nil {
			res.Errors = append(res.Errors, &apperr.ParseError{
				File: file, Line: markerLine, ID: id, Msg: "invalid version " + strconv.Quote(verRaw),
			})
			continue
		}
		if first, dup := seen[id]; dup {
			res.Errors = append(res.Errors, &apperr.ParseError{
				File: file, Line: markerLine, ID: id,
				Msg: "duplicate block id " + strconv.Quote(id) + " (first at line " + strconv.Itoa(first) + ")",
			})
			continue
		}
		seen[id] = markerLine

		text := checksum.Normalize(content)
		res.Blocks = append(res.Blocks, models.Block{
			ID:           id,
			Type:         models.BlockInline,
			SemanticText: text,
			ContentHash:  checksum.Text(text),
			Version:      ver,
			SourceFile:   file,
			Line:         markerLine,
		})
	}
	return res
}

func parseVersion(raw string) (int64, error) {
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	if v < 1 {
		return 0, strconv.ErrRange
	}
	return v, nil
}

// HasMarkers reports whether data contains at least one well-formed marker.
func HasMarkers(data []byte) bool {
	return markerRe.Match(data)
}

// FileSemanticText returns the whole document's semantic text: every line
// except marker comments and anchor tokens, whitespace-normalized. Used for
// duplicate detection when registering untracked files.
func FileSemanticText(data []byte) string {
	lines := strings.Split(string(data), "\n")
	var b strings.Builder
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if m := markerRe.FindStringSubmatchIndex(line); m != nil {
			id := line[m[2]:m[3]]
			b.WriteString(line[:m[0]])
			b.WriteString(line[m[1]:])
			b.WriteString("\n")
			if i+1 < len(lines) && strings.TrimSpace(lines[i+1]) == "^"+id {
				i++
			}
			continue
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return checksum.Normalize(b.String())
}
