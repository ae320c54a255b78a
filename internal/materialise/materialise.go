// Package materialise reconstructs a working directory from a Store
// and a root tree identifier, by hard-linking blobs into place. It
// never mutates the Store beyond the one documented exception: when an
// entry marks a blob executable, the shared CAS file gains the execute
// bit for every principal that can already read it, since a hard link
// cannot have a mode distinct from the inode it shares (spec.md §4.E).
package materialise

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/yhakbar/cln/internal/clnerr"
	"github.com/yhakbar/cln/internal/clnlog"
	"github.com/yhakbar/cln/internal/objid"
	"github.com/yhakbar/cln/internal/store"
	"github.com/yhakbar/cln/internal/workpool"
)

// Materialiser builds a working directory from a Store.
type Materialiser struct {
	Store   *store.Store
	Workers int
	// NoLink forces the copy fallback even when hard-linking would
	// succeed, for exercising and testing that path deliberately.
	NoLink bool
}

// New returns a Materialiser reading from s.
func New(s *store.Store, workers int, noLink bool) *Materialiser {
	if workers < 1 {
		workers = 1
	}
	return &Materialiser{Store: s, Workers: workers, NoLink: noLink}
}

// Materialise builds target from the tree named root. target must not
// exist or must be an empty directory.
func (m *Materialiser) Materialise(ctx context.Context, root objid.ID, target string) error {
	if err := ensureEmptyTarget(target); err != nil {
		return err
	}

	pool := workpool.New(ctx, m.Workers)
	m.scheduleTree(pool, root, target)

	if err := pool.Wait(); err != nil {
		// Preserve the Kind of errors that already carry one (Corrupt
		// from a malformed tree manifest, StoreIo, Cancelled, ...);
		// only bare errors raised directly by this package's own
		// filesystem calls get tagged MaterialiseIo here.
		if clnerr.As(err) == clnerr.Generic {
			return clnerr.New(clnerr.MaterialiseIo, "Materialise", err)
		}
		return err
	}
	return nil
}

func (m *Materialiser) scheduleTree(pool *workpool.Pool, id objid.ID, dir string) {
	pool.Go(func(ctx context.Context) error {
		tree, err := m.Store.ReadTree(id)
		if err != nil {
			return err
		}

		for _, e := range tree.Entries {
			e := e
			dest := filepath.Join(dir, e.Name)
			switch e.Mode {
			case store.ModeSubtree:
				if err := os.MkdirAll(dest, 0755); err != nil {
					return err
				}
				m.scheduleTree(pool, e.ID, dest)
			case store.ModeSymlink:
				pool.Go(func(ctx context.Context) error {
					return m.materialiseSymlink(e.ID, dest)
				})
			case store.ModeRegular, store.ModeExecutable:
				pool.Go(func(ctx context.Context) error {
					return m.materialiseBlob(e, dest)
				})
			}
		}
		return nil
	})
}

func (m *Materialiser) materialiseSymlink(id objid.ID, dest string) error {
	p, err := m.Store.OpenBlobForLink(id)
	if err != nil {
		return err
	}
	target, err := os.ReadFile(p)
	if err != nil {
		return err
	}
	return createSymlink(string(target), dest)
}

func (m *Materialiser) materialiseBlob(e store.Entry, dest string) error {
	log := clnlog.WithComponent("materialise")

	src, err := m.Store.OpenBlobForLink(e.ID)
	if err != nil {
		return err
	}

	if e.Mode == store.ModeExecutable {
		if err := ensureExecutable(src); err != nil {
			return err
		}
	}

	if !m.NoLink {
		err := createHardlink(src, dest)
		if err == nil {
			return nil
		}
		if !isCrossDevice(err) {
			return err
		}
		log.Warn().Str("path", dest).Msg("hard link crosses devices; falling back to copy")
	}

	mode := os.FileMode(0444)
	if e.Mode == store.ModeExecutable {
		mode = 0555
	}
	return copyFile(src, dest, mode)
}

// ensureExecutable adds the execute bit, for every principal that can
// already read, to the file at path, if it is not already set. This
// mutates a CAS entry shared by every hard link to it; see the package
// doc comment.
func ensureExecutable(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	perm := fi.Mode().Perm()
	want := perm | ((perm & 0444) >> 2) // add x wherever r is set
	if want == perm {
		return nil
	}
	return os.Chmod(path, want)
}

func ensureEmptyTarget(target string) error {
	fi, err := os.Stat(target)
	if errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(target, 0755); err != nil {
			return clnerr.New(clnerr.MaterialiseIo, "Materialise", err)
		}
		return nil
	}
	if err != nil {
		return clnerr.New(clnerr.MaterialiseIo, "Materialise", err)
	}
	if !fi.IsDir() {
		return clnerr.New(clnerr.TargetNotEmpty, "Materialise", errors.New(target+" exists and is not a directory"))
	}
	entries, err := os.ReadDir(target)
	if err != nil {
		return clnerr.New(clnerr.MaterialiseIo, "Materialise", err)
	}
	if len(entries) > 0 {
		return clnerr.New(clnerr.TargetNotEmpty, "Materialise", errors.New(target+" is not empty"))
	}
	return nil
}
