// Package orchestrator sequences the whole cln invocation: resolve the
// remote tip, consult the Store for a fast path, ingest if needed, and
// materialise the result.
package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/yhakbar/cln/internal/clnerr"
	"github.com/yhakbar/cln/internal/clnlog"
	"github.com/yhakbar/cln/internal/gitremote"
	"github.com/yhakbar/cln/internal/ingest"
	"github.com/yhakbar/cln/internal/materialise"
	"github.com/yhakbar/cln/internal/objid"
	"github.com/yhakbar/cln/internal/store"
)

// Request describes a single cln invocation.
type Request struct {
	Remote  string
	Ref     string // defaults to "HEAD"
	Target  string // defaults to the remote's trailing path component
	Workers int
	NoLink  bool
}

// DeriveTarget computes the default target directory for a remote URL,
// stripping a trailing ".git" the way `git clone` does.
func DeriveTarget(remote string) string {
	trimmed := strings.TrimSuffix(strings.TrimRight(remote, "/"), "/")
	base := filepath.Base(trimmed)
	return strings.TrimSuffix(base, ".git")
}

// Run executes the full resolve -> fast-path-check -> ingest -> materialise
// sequence for req against the CAS rooted at cacheDir.
func Run(ctx context.Context, cacheDir string, req Request) error {
	log := clnlog.WithComponent("orchestrator")

	ref := req.Ref
	if ref == "" {
		ref = "HEAD"
	}
	target := req.Target
	if target == "" {
		target = DeriveTarget(req.Remote)
	}

	s, err := store.Open(cacheDir)
	if err != nil {
		return err
	}

	reader := gitremote.New()

	commitID, err := reader.ResolveRef(ctx, req.Remote, ref)
	if err != nil {
		return err
	}
	log.Info().Str("remote", req.Remote).Str("ref", ref).Str("commit", commitID.String()).Msg("resolved ref")

	var rootTreeID objid.ID
	if id, err := s.ReadCommit(commitID); err == nil {
		// Fast path (P6): the commit is already mapped to a root tree,
		// so no fetch_bare/ingest is needed at all.
		rootTreeID = id
		log.Info().Str("commit", commitID.String()).Msg("fast path: commit already ingested")
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	} else {
		rootTreeID, err = fetchAndIngest(ctx, s, reader, req, commitID)
		if err != nil {
			return err
		}
	}

	select {
	case <-ctx.Done():
		return clnerr.New(clnerr.Cancelled, "Run", ctx.Err())
	default:
	}

	m := materialise.New(s, req.Workers, req.NoLink)
	if err := m.Materialise(ctx, rootTreeID, target); err != nil {
		return err
	}

	log.Info().Str("target", target).Msg("materialised working directory")
	return nil
}

func fetchAndIngest(ctx context.Context, s *store.Store, reader *gitremote.Reader, req Request, commitID objid.ID) (objid.ID, error) {
	log := clnlog.WithComponent("orchestrator")

	bareDir, err := reader.FetchBare(ctx, req.Remote, req.Ref)
	if err != nil {
		return objid.ID{}, err
	}
	defer func() {
		if err := os.RemoveAll(bareDir); err != nil {
			log.Warn().Err(err).Str("dir", bareDir).Msg("failed to remove temporary bare clone")
		}
	}()

	rootTreeID, err := reader.CommitTree(bareDir, commitID)
	if err != nil {
		return objid.ID{}, err
	}

	ing := ingest.New(s, reader, req.Workers)
	if err := ing.Ingest(ctx, bareDir, rootTreeID); err != nil {
		return objid.ID{}, err
	}

	if err := s.InsertCommit(commitID, rootTreeID); err != nil {
		return objid.ID{}, err
	}

	return rootTreeID, nil
}
