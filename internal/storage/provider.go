// Package storage writes post files in the working tree.
package storage

// ReadWriter is the working-tree file access the publisher needs to record
// markers. Paths are relative to the root the implementation was opened on.
type ReadWriter interface {
	// Read returns the current working-tree bytes of path.
	Read(path string) ([]byte, error)
	// Write atomically replaces path with content.
	Write(path string, content []byte) error
}
