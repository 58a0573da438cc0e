// Package vault defines the Markdown vault file-system abstraction.
//
// The vault is the human-editable source of truth. It is read by both event
// sources and written only through Write, which is atomic: a concurrent
// reader observes either the old or the new complete content, never a
// partial write.
package vault

import "time"

// FileInfo is lightweight metadata for one vault file.
type FileInfo struct {
	Path      string    `json:"path"`     // vault-relative
	Checksum  string    `json:"checksum"` // SHA-256 of raw bytes
	UpdatedAt time.Time `json:"updated_at"`
}

// Provider is the interface for vault file operations. All paths are
// relative to the vault root.
type Provider interface {
	// List returns metadata for every .md file under dir.
	List(dir string) ([]FileInfo, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically replaces the file at path with content.
	Write(path string, content []byte) error
	// Delete removes the file at path.
	Delete(path string) error
}
