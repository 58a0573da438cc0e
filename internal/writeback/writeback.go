// Package writeback rewrites tracked blocks inside vault files on behalf of
// the system itself, e.g. when downstream processing amends generated
// content. Every write goes through the vault's atomic Write, and a
// write-back touching one block never alters another block's marker.
package writeback

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/aclarai/vaultsync/internal/apperr"
	"github.com/aclarai/vaultsync/internal/blockparser"
	"github.com/aclarai/vaultsync/internal/vault"
)

var markerRe = regexp.MustCompile(`<!--\s*id=(\S+)\s+ver=(\S+)\s*-->`)

// Writer applies block-level edits to vault files.
type Writer struct {
	vault vault.Provider
}

// New creates a Writer over the given vault.
func New(v vault.Provider) *Writer {
	return &Writer{vault: v}
}

// UpdateBlockText replaces the content of the block identified by id in
// path with newText, bumping the marker's declared version by one. All
// other lines, including other blocks' markers, are preserved byte-for-byte.
func (w *Writer) UpdateBlockText(path, id, newText string) error {
	data, err := w.vault.Read(path)
	if err != nil {
		return err
	}
	updated, err := ReplaceBlock(data, id, newText)
	if err != nil {
		return fmt.Errorf("writeback: %s in %s: %w", id, path, err)
	}
	return w.vault.Write(path, updated)
}

// AppendBlock appends newText to path as a freshly registered inline block
// (new UUID id, ver=1, anchored) and returns the assigned id. The file is
// created if it does not exist.
func (w *Writer) AppendBlock(path, text string) (string, error) {
	data, err := w.vault.Read(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	updated, id := appendInline(data, text)
	if err := w.vault.Write(path, updated); err != nil {
		return "", err
	}
	return id, nil
}

// RegisterFileLevel appends a file-level marker (new UUID id, ver=1) to an
// untracked file and returns the assigned id. Files that already carry a
// marker are left untouched and report registered=false.
func (w *Writer) RegisterFileLevel(path string) (id string, registered bool, err error) {
	data, err := w.vault.Read(path)
	if err != nil {
		return "", false, err
	}
	if blockparser.HasMarkers(data) {
		return "", false, nil
	}
	id = uuid.NewString()
	var b strings.Builder
	b.Write(data)
	if len(data) > 0 && data[len(data)-1] != '\n' {
		b.WriteString("\n")
	}
	b.WriteString("<!-- id=" + id + " ver=1 -->\n")
	if err := w.vault.Write(path, []byte(b.String())); err != nil {
		return "", false, err
	}
	return id, true, nil
}

// ReplaceBlock rewrites the block identified by id inside data: its content
// lines become newText, its marker version is incremented by one, and its
// anchor line (when present) is kept. Returns apperr.ErrNotFound when no
// marker for id exists.
func ReplaceBlock(data []byte, id string, newText string) ([]byte, error) {
	lines := strings.Split(string(data), "\n")

	start := 0 // first line of the current block's content span
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		mk := parseMarkerLine(line)
		if mk == nil {
			continue
		}

		hasAnchor := i+1 < len(lines) && strings.TrimSpace(lines[i+1]) == "^"+mk.id
		if mk.id != id {
			// A different block ends here; the next one starts after it
			// (skipping its anchor).
			start = i + 1
			if hasAnchor {
				start++
				i++
			}
			continue
		}

		marker := "<!-- id=" + id + " ver=" + strconv.FormatInt(mk.ver+1, 10) + " -->"
		replacement := strings.Split(strings.TrimRight(newText, "\n"), "\n")
		last := len(replacement) - 1
		replacement[last] = replacement[last] + " " + marker

		var out []string
		out = append(out, lines[:start]...)
		out = append(out, replacement...)
		if hasAnchor {
			out = append(out, lines[i+1])
			i++
		}
		out = append(out, lines[i+1:]...)
		return []byte(strings.Join(out, "\n")), nil
	}
	return nil, apperr.ErrNotFound
}

type markerLine struct {
	id  string
	ver int64
}

func parseMarkerLine(line string) *markerLine {
	m := markerRe.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	ver, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil || ver < 1 {
		return nil
	}
	return &markerLine{id: m[1], ver: ver}
}

// appendInline adds text to data as a new anchored inline block.
func appendInline(data []byte, text string) ([]byte, string) {
	id := uuid.NewString()
	var b strings.Builder
	b.Write(data)
	if len(data) > 0 && data[len(data)-1] != '\n' {
		b.WriteString("\n")
	}
	b.WriteString(strings.TrimRight(text, "\n"))
	b.WriteString(" <!-- id=" + id + " ver=1 -->\n^" + id + "\n")
	return []byte(b.String()), id
}
