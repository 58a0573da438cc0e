package blockparser

import (
	"strings"
	"testing"

	"github.com/aclarai/vaultsync/internal/checksum"
	"github.com/aclarai/vaultsync/internal/models"
)

func TestParse_InlineBlocks(t *testing.T) {
	input := []byte("Alice: the deploy failed at 3pm. <!-- id=blk_a ver=2 -->\n" +
		"^blk_a\n" +
		"Bob: rollback finished an hour later. <!-- id=blk_b ver=1 -->\n" +
		"^blk_b\n")
	res := Parse("conv/day1.md", input)

	if len(res.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", res.Errors)
	}
	if len(res.Blocks) != 2 {
		t.Fatalf("blocks = %d, want 2", len(res.Blocks))
	}
	a, b := res.Blocks[0], res.Blocks[1]
	if a.ID != "blk_a" || a.Version != 2 || a.Type != models.BlockInline {
		t.Errorf("first block = %+v", a)
	}
	if a.SemanticText != "Alice: the deploy failed at 3pm." {
		t.Errorf("semantic text = %q", a.SemanticText)
	}
	if b.ID != "blk_b" || b.Version != 1 {
		t.Errorf("second block = %+v", b)
	}
	if a.Line >= b.Line {
		t.Errorf("document order lost: %d >= %d", a.Line, b.Line)
	}
}

func TestParse_FileLevelBlock(t *testing.T) {
	input := []byte("# Summary\n\nThe whole file is one unit.\n\n<!-- id=file_7 ver=3 -->\n")
	res := Parse("summaries/week.md", input)

	if len(res.Blocks) != 1 {
		t.Fatalf("blocks = %d, want 1", len(res.Blocks))
	}
	blk := res.Blocks[0]
	if blk.Type != models.BlockFileLevel {
		t.Errorf("type = %q, want file_level", blk.Type)
	}
	if blk.ID != "file_7" || blk.Version != 3 {
		t.Errorf("block = %+v", blk)
	}
	if !strings.Contains(blk.SemanticText, "whole file is one unit") {
		t.Errorf("semantic text = %q", blk.SemanticText)
	}
	if strings.Contains(blk.SemanticText, "id=file_7") {
		t.Errorf("marker leaked into semantic text: %q", blk.SemanticText)
	}
}

func TestParse_SingleMarkerWithAnchorIsInline(t *testing.T) {
	input := []byte("One line. <!-- id=blk_1 ver=1 -->\n^blk_1\nuntracked tail\n")
	res := Parse("a.md", input)
	if len(res.Blocks) != 1 || res.Blocks[0].Type != models.BlockInline {
		t.Fatalf("blocks = %+v, want one inline block", res.Blocks)
	}
}

func TestParse_UntrackedContentProducesNoBlocks(t *testing.T) {
	res := Parse("b.md", []byte("# Plain note\n\nNo markers anywhere.\n"))
	if len(res.Blocks) != 0 || len(res.Errors) != 0 {
		t.Errorf("blocks = %v, errors = %v, want none", res.Blocks, res.Errors)
	}
}

func TestParse_MalformedVersionSkipsBlockOnly(t *testing.T) {
	input := []byte("bad one <!-- id=blk_x ver=abc -->\n" +
		"good one <!-- id=blk_y ver=4 -->\n")
	res := Parse("c.md", input)

	if len(res.Errors) != 1 {
		t.Fatalf("errors = %v, want 1", res.Errors)
	}
	if res.Errors[0].Line != 1 {
		t.Errorf("error line = %d, want 1", res.Errors[0].Line)
	}
	if res.Errors[0].ID != "blk_x" {
		t.Errorf("error id = %q, want blk_x (still readable despite bad version)", res.Errors[0].ID)
	}
	if len(res.Blocks) != 1 || res.Blocks[0].ID != "blk_y" {
		t.Fatalf("blocks = %+v, want only blk_y", res.Blocks)
	}
}

func TestParse_ZeroVersionRejected(t *testing.T) {
	res := Parse("c.md", []byte("x <!-- id=blk_z ver=0 -->\ny <!-- id=blk_w ver=1 -->\n"))
	if len(res.Errors) != 1 || len(res.Blocks) != 1 {
		t.Errorf("errors = %v blocks = %v", res.Errors, res.Blocks)
	}
}

func TestParse_DuplicateIDReported(t *testing.T) {
	input := []byte("first <!-- id=blk_d ver=1 -->\nsecond <!-- id=blk_d ver=2 -->\n")
	res := Parse("d.md", input)

	if len(res.Blocks) != 1 || res.Blocks[0].Version != 1 {
		t.Fatalf("blocks = %+v, want first occurrence only", res.Blocks)
	}
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0].Msg, "duplicate") {
		t.Fatalf("errors = %v, want duplicate id error", res.Errors)
	}
}

func TestParse_MalformedMarkerReported(t *testing.T) {
	res := Parse("e.md", []byte("text <!-- id=blk_e -->\nok <!-- id=blk_f ver=1 -->\n"))
	if len(res.Errors) != 1 {
		t.Fatalf("errors = %v, want 1 malformed-marker error", res.Errors)
	}
	if res.Errors[0].ID != "blk_e" {
		t.Errorf("error id = %q, want blk_e", res.Errors[0].ID)
	}
	if len(res.Blocks) != 1 || res.Blocks[0].ID != "blk_f" {
		t.Errorf("blocks = %+v", res.Blocks)
	}
}

func TestParse_UnreadableMarkerIDLeftEmpty(t *testing.T) {
	res := Parse("f.md", []byte("broken <!-- id=\n"))
	if len(res.Errors) != 1 {
		t.Fatalf("errors = %v, want 1", res.Errors)
	}
	if res.Errors[0].ID != "" {
		t.Errorf("error id = %q, want empty (nothing recoverable)", res.Errors[0].ID)
	}
}

func TestParse_HashIgnoresWhitespace(t *testing.T) {
	a := Parse("f.md", []byte("The  cat   sat. <!-- id=blk_h ver=1 -->\n"))
	b := Parse("f.md", []byte("The cat sat. <!-- id=blk_h ver=1 -->\n"))
	if a.Blocks[0].ContentHash != b.Blocks[0].ContentHash {
		t.Error("cosmetic whitespace changed the content hash")
	}
}

func TestFileSemanticText_StripsMarkersAndAnchors(t *testing.T) {
	withMarkers := []byte("Line one. <!-- id=blk_1 ver=1 -->\n^blk_1\nLine two.\n")
	plain := []byte("Line one.\nLine two.\n")
	if FileSemanticText(withMarkers) != checksum.Normalize(string(plain)) {
		t.Errorf("FileSemanticText = %q", FileSemanticText(withMarkers))
	}
}

func TestHasMarkers(t *testing.T) {
	if HasMarkers([]byte("plain\n")) {
		t.Error("false positive")
	}
	if !HasMarkers([]byte("x <!-- id=a ver=1 -->\n")) {
		t.Error("false negative")
	}
}
