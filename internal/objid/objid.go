// Package objid maps git object identifiers to content-addressable
// store paths. It isolates the two-character fan-out convention so the
// rest of the tool never embeds directory-layout knowledge.
package objid

import (
	"encoding/hex"
	"fmt"
	"path/filepath"

	"gopkg.in/src-d/go-git.v4/plumbing"
)

// ID is an object identifier: a git SHA-1 object hash.
type ID = plumbing.Hash

// hexLen is the number of hex characters in a SHA-1 object id.
const hexLen = 40

// Validate checks that s is a well-formed, lowercase hex object id and
// returns the parsed ID. Malformed input (wrong length, uppercase or
// non-hex characters) is rejected rather than silently truncated or
// zero-padded, unlike plumbing.NewHash.
func Validate(s string) (ID, error) {
	if len(s) != hexLen {
		return ID{}, fmt.Errorf("objid: malformed id %q: want %d hex characters, got %d", s, hexLen, len(s))
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return ID{}, fmt.Errorf("objid: malformed id %q: %w", s, err)
	}
	for _, c := range s {
		if c >= 'A' && c <= 'Z' {
			return ID{}, fmt.Errorf("objid: malformed id %q: uppercase hex is not accepted", s)
		}
	}
	var id ID
	copy(id[:], raw)
	return id, nil
}

// fanOut splits the hex form of id into its two-character prefix and
// the remainder, per the CAS fan-out convention.
func fanOut(id ID) (prefix, rest string) {
	s := id.String()
	return s[:2], s[2:]
}

// BlobPath returns the path of the blob named by id under root.
func BlobPath(root string, id ID) string {
	prefix, rest := fanOut(id)
	return filepath.Join(root, "blobs", prefix, rest)
}

// TreePath returns the path of the tree manifest named by id under root.
func TreePath(root string, id ID) string {
	prefix, rest := fanOut(id)
	return filepath.Join(root, "trees", prefix, rest)
}

// CommitPath returns the path of the commit->tree record named by id
// under root.
func CommitPath(root string, id ID) string {
	prefix, rest := fanOut(id)
	return filepath.Join(root, "commits", prefix, rest)
}
