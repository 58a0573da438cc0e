// Package models defines the domain types shared across the sync pipeline.
package models

import "time"

// BlockType distinguishes how a block is anchored in its source file.
type BlockType string

const (
	// BlockInline is a block anchored to a specific position inside a file.
	BlockInline BlockType = "inline"
	// BlockFileLevel represents an entire document tracked as one unit.
	BlockFileLevel BlockType = "file_level"
)

// ChangeType classifies how a block differs from its last-known record.
type ChangeType string

const (
	ChangeUnchanged ChangeType = "unchanged"
	ChangeAdded     ChangeType = "added"
	ChangeModified  ChangeType = "modified"
	ChangeDeleted   ChangeType = "deleted"
)

// Block is a trackable unit of Markdown content parsed out of a vault file.
//
// SemanticText is the visible content with marker lines stripped and
// whitespace normalized; ContentHash is the SHA-256 of that text. Version
// is the version declared by the file's marker, which may lag or lead the
// graph's recorded version.
type Block struct {
	ID           string    `json:"id"`
	Type         BlockType `json:"block_type"`
	SemanticText string    `json:"semantic_text"`
	ContentHash  string    `json:"content_hash"`
	Version      int64     `json:"version"`
	SourceFile   string    `json:"source_file_path"`
	Line         int       `json:"line"`
}

// ChangeEvent is the notification emitted after the pipeline settles a block.
type ChangeEvent struct {
	ID         string     `json:"id"`
	FilePath   string     `json:"file_path"`
	ChangeType ChangeType `json:"change_type"`
	Timestamp  time.Time  `json:"timestamp"`
	Version    int64      `json:"version"`
	BlockType  BlockType  `json:"block_type"`
}

// Conflict records a rejected update where the vault's declared version was
// behind the graph's. Conflicts are persisted, never auto-resolved.
type Conflict struct {
	BlockID      string    `json:"block_id"`
	VaultVersion int64     `json:"vault_version"`
	GraphVersion int64     `json:"graph_version"`
	FilePath     string    `json:"file_path"`
	DetectedAt   time.Time `json:"detected_at"`
}
