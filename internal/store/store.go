// Package store owns the on-disk content-addressed store (CAS): blob
// files, tree manifests, and commit->tree records. It guarantees atomic,
// idempotent insertion and safe concurrent reads, including across
// processes, by relying on filesystem rename atomicity rather than
// locks.
package store

import (
	"crypto/sha1"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/yhakbar/cln/internal/clnerr"
	"github.com/yhakbar/cln/internal/objid"
)

// ErrNotFound is returned by the Read* methods when the requested
// object is absent from the store.
var ErrNotFound = errors.New("store: not found")

// Store owns a content-addressed store rooted at a directory.
type Store struct {
	root string
}

// Open returns a Store rooted at dir, creating the dir and its
// blobs/trees/commits subdirectories if necessary.
func Open(dir string) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, clnerr.New(clnerr.StoreIo, "store.Open", err)
	}
	for _, sub := range []string{"blobs", "trees", "commits"} {
		if err := os.MkdirAll(filepath.Join(abs, sub), 0755); err != nil {
			return nil, clnerr.New(clnerr.StoreIo, "store.Open", err)
		}
	}
	return &Store{root: abs}, nil
}

// Root returns the directory holding the CAS.
func (s *Store) Root() string { return s.root }

// ContainsBlob reports whether the blob named by id is present.
func (s *Store) ContainsBlob(id objid.ID) bool {
	return exists(objid.BlobPath(s.root, id))
}

// ContainsTree reports whether the tree manifest named by id is present.
func (s *Store) ContainsTree(id objid.ID) bool {
	return exists(objid.TreePath(s.root, id))
}

// ContainsCommit reports whether a commit->tree record exists for id.
func (s *Store) ContainsCommit(id objid.ID) bool {
	return exists(objid.CommitPath(s.root, id))
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// InsertBlob atomically inserts the blob named by id. produce writes
// the blob's exact bytes to w; it is invoked only if the blob is not
// already present, and its output is streamed straight to the
// destination file without being buffered in memory. Reinsertion of an
// already-present blob is a no-op and produce is not called.
func (s *Store) InsertBlob(id objid.ID, produce func(w io.Writer) error) error {
	dest := objid.BlobPath(s.root, id)
	if exists(dest) {
		return nil
	}
	err := atomicWrite(dest, func(w io.Writer) error { return produce(w) })
	return clnerr.New(clnerr.StoreIo, "store.InsertBlob", err)
}

// InsertTree atomically inserts the (already serialised) tree manifest
// named by id. Reinsertion is a no-op.
func (s *Store) InsertTree(id objid.ID, manifest []byte) error {
	dest := objid.TreePath(s.root, id)
	if exists(dest) {
		return nil
	}
	err := atomicWrite(dest, func(w io.Writer) error {
		_, err := w.Write(manifest)
		return err
	})
	return clnerr.New(clnerr.StoreIo, "store.InsertTree", err)
}

// InsertCommit atomically records that commit id has root tree treeID.
// Reinsertion is a no-op.
func (s *Store) InsertCommit(id, treeID objid.ID) error {
	dest := objid.CommitPath(s.root, id)
	if exists(dest) {
		return nil
	}
	err := atomicWrite(dest, func(w io.Writer) error {
		_, err := io.WriteString(w, treeID.String()+"\n")
		return err
	})
	return clnerr.New(clnerr.StoreIo, "store.InsertCommit", err)
}

// OpenBlobForLink returns the path of the blob named by id, suitable
// for hard-linking into a working directory.
func (s *Store) OpenBlobForLink(id objid.ID) (string, error) {
	p := objid.BlobPath(s.root, id)
	if !exists(p) {
		return "", clnerr.New(clnerr.StoreIo, "store.OpenBlobForLink", fmt.Errorf("%w: blob %s", ErrNotFound, id))
	}
	return p, nil
}

// ReadTree returns the parsed tree manifest for id.
func (s *Store) ReadTree(id objid.ID) (*Tree, error) {
	p := objid.TreePath(s.root, id)
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, clnerr.New(clnerr.StoreIo, "store.ReadTree", fmt.Errorf("%w: tree %s", ErrNotFound, id))
	}
	if err != nil {
		return nil, clnerr.New(clnerr.StoreIo, "store.ReadTree", err)
	}
	t, err := ParseTree(data)
	if err != nil {
		return nil, clnerr.New(clnerr.Corrupt, "store.ReadTree", err)
	}
	return t, nil
}

// ReadCommit returns the root tree id recorded for commit id.
func (s *Store) ReadCommit(id objid.ID) (objid.ID, error) {
	p := objid.CommitPath(s.root, id)
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return objid.ID{}, clnerr.New(clnerr.StoreIo, "store.ReadCommit", fmt.Errorf("%w: commit %s", ErrNotFound, id))
	}
	if err != nil {
		return objid.ID{}, clnerr.New(clnerr.StoreIo, "store.ReadCommit", err)
	}
	tree, err := objid.Validate(trimNewline(data))
	if err != nil {
		return objid.ID{}, clnerr.New(clnerr.Corrupt, "store.ReadCommit", err)
	}
	return tree, nil
}

// VerifyBlob re-hashes the blob named by id using git's blob object
// framing ("blob <size>\x00<content>") and reports a *clnerr.Error of
// kind Corrupt if the digest does not match id. A lookup succeeding
// despite mismatched content is the integrity fault P3 guards against.
func (s *Store) VerifyBlob(id objid.ID) error {
	p := objid.BlobPath(s.root, id)
	f, err := os.Open(p)
	if err != nil {
		return clnerr.New(clnerr.StoreIo, "store.VerifyBlob", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return clnerr.New(clnerr.StoreIo, "store.VerifyBlob", err)
	}

	h := sha1.New()
	fmt.Fprintf(h, "blob %d\x00", fi.Size())
	if _, err := io.Copy(h, f); err != nil {
		return clnerr.New(clnerr.StoreIo, "store.VerifyBlob", err)
	}

	var got objid.ID
	copy(got[:], h.Sum(nil))
	if got != id {
		return clnerr.New(clnerr.Corrupt, "store.VerifyBlob", fmt.Errorf("blob %s re-hashes to %s", id, got))
	}
	return nil
}

// atomicWrite writes the bytes produced by fill to a temp file in the
// same fan-out directory as dest, makes it read-only, then renames it
// into place. If a concurrent writer created dest first, the rename
// atomically replaces it with identical bytes; if the rename fails while
// dest exists, the temp file is discarded and the result is treated as
// success: insertion is write-once, not first-writer-exclusive.
func atomicWrite(dest string, fill func(w io.Writer) error) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if err := fill(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0444); err != nil {
		os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, dest); err != nil {
		if exists(dest) {
			// A concurrent writer won; our bytes are redundant.
			os.Remove(tmpName)
			return nil
		}
		os.Remove(tmpName)
		return err
	}
	return nil
}

func trimNewline(b []byte) string {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return string(b)
}
