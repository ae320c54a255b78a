// Package ingest walks a freshly fetched repository's root tree and
// populates the Store with every reachable blob and tree manifest.
//
// The walk is tree-parallel and deduplicating: trees and blobs are
// scheduled onto a bounded worker pool (internal/workpool), and an
// in-memory "seen" set prevents the same identifier from being
// scheduled twice within one run. That set is purely an optimisation —
// the Store's write-once, atomic insertion is what actually guarantees
// correctness under concurrent or repeated ingestion (spec.md §4.D).
package ingest

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"

	"github.com/yhakbar/cln/internal/clnlog"
	"github.com/yhakbar/cln/internal/gitremote"
	"github.com/yhakbar/cln/internal/objid"
	"github.com/yhakbar/cln/internal/store"
	"github.com/yhakbar/cln/internal/workpool"
)

// reader is the subset of *gitremote.Reader that Ingestor needs,
// narrowed for testability.
type reader interface {
	ListTree(bareDir string, treeID objid.ID) ([]gitremote.Entry, error)
	CatBlob(bareDir string, blobID objid.ID, w io.Writer) error
}

var _ reader = (*gitremote.Reader)(nil)

// Ingestor populates a Store from a bare repository checkout.
type Ingestor struct {
	Store   *store.Store
	Reader  reader
	Workers int

	// progressEvery controls how often a progress line is logged, in
	// number of objects ingested. Zero disables progress logging.
	// Exposed for tests; defaults to 500 via New.
	progressEvery int64
}

// New returns an Ingestor that writes into s, reading objects through r.
func New(s *store.Store, r reader, workers int) *Ingestor {
	if workers < 1 {
		workers = 1
	}
	return &Ingestor{Store: s, Reader: r, Workers: workers, progressEvery: 500}
}

type counters struct {
	trees atomic.Int64
	blobs atomic.Int64
	bytes atomic.Int64
}

// Ingest walks the tree named root, found in the bare repository at
// bareDir, and ensures the Store's transitive closure from root is
// complete. It returns the first error encountered; partial state left
// in the Store on failure is always safe to keep (I1).
func (ing *Ingestor) Ingest(ctx context.Context, bareDir string, root objid.ID) error {
	log := clnlog.WithComponent("ingest")

	var seenTrees, seenBlobs sync.Map
	var stats counters

	pool := workpool.New(ctx, ing.Workers)

	var scheduleTree func(id objid.ID)
	var scheduleBlob func(id objid.ID)

	scheduleTree = func(id objid.ID) {
		if _, dup := seenTrees.LoadOrStore(id, struct{}{}); dup {
			return
		}
		pool.Go(func(ctx context.Context) error {
			if ing.Store.ContainsTree(id) {
				// Invariant I2: presence implies the closure beneath it
				// is already complete, so there is nothing left to do.
				return nil
			}

			entries, err := ing.Reader.ListTree(bareDir, id)
			if err != nil {
				return err
			}

			manifest := &store.Tree{}
			for _, e := range entries {
				manifest.Entries = append(manifest.Entries, store.Entry{
					Mode: e.Mode, Kind: e.Kind, ID: e.ID, Name: e.Name,
				})
				switch e.Kind {
				case store.KindTree:
					if !ing.Store.ContainsTree(e.ID) {
						scheduleTree(e.ID)
					}
				case store.KindBlob:
					if !ing.Store.ContainsBlob(e.ID) {
						scheduleBlob(e.ID)
					}
				}
			}

			if err := ing.Store.InsertTree(id, manifest.Marshal()); err != nil {
				return err
			}
			n := stats.trees.Add(1)
			ing.logProgress(n, &stats)
			return nil
		})
	}

	scheduleBlob = func(id objid.ID) {
		if _, dup := seenBlobs.LoadOrStore(id, struct{}{}); dup {
			return
		}
		pool.Go(func(ctx context.Context) error {
			if ing.Store.ContainsBlob(id) {
				return nil
			}
			var size int64
			err := ing.Store.InsertBlob(id, func(w io.Writer) error {
				cw := &countingWriter{w: w}
				if err := ing.Reader.CatBlob(bareDir, id, cw); err != nil {
					return err
				}
				size = cw.n
				return nil
			})
			if err != nil {
				return err
			}
			// P3: a blob's id is an integrity certificate over its
			// bytes, not just a lookup key. Re-hash what was just
			// written before trusting it as part of the tree.
			if err := ing.Store.VerifyBlob(id); err != nil {
				return err
			}
			stats.bytes.Add(size)
			n := stats.blobs.Add(1)
			ing.logProgress(n, &stats)
			return nil
		})
	}

	scheduleTree(root)

	if err := pool.Wait(); err != nil {
		return err
	}

	log.Info().
		Int64("trees", stats.trees.Load()).
		Int64("blobs", stats.blobs.Load()).
		Str("bytes", humanize.IBytes(uint64(stats.bytes.Load()))).
		Msg("ingest complete")
	return nil
}

// logProgress fires on exact multiples of progressEvery, across either
// counter, to bound log volume on large repositories without adding
// another lock.
func (ing *Ingestor) logProgress(n int64, stats *counters) {
	if ing.progressEvery <= 0 {
		return
	}
	if n%ing.progressEvery == 0 {
		clnlog.WithComponent("ingest").Debug().
			Int64("trees", stats.trees.Load()).
			Int64("blobs", stats.blobs.Load()).
			Str("bytes", humanize.IBytes(uint64(stats.bytes.Load()))).
			Msg("ingest progress")
	}
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
