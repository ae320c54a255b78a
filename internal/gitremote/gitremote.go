// Package gitremote is a thin façade over the `git` executable and the
// pure-Go gopkg.in/src-d/go-git.v4 library. It shells out for anything
// that talks to the network (resolving a ref, fetching a shallow bare
// clone) because the wire protocol, authentication, and credential
// helpers are vast and out of scope for this tool; once a bare clone
// exists locally, tree and blob reads go through go-git directly,
// avoiding a second subprocess per object.
package gitremote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	git "gopkg.in/src-d/go-git.v4"
	"gopkg.in/src-d/go-git.v4/plumbing/filemode"

	"github.com/yhakbar/cln/internal/clnerr"
	"github.com/yhakbar/cln/internal/clnlog"
	"github.com/yhakbar/cln/internal/objid"
	"github.com/yhakbar/cln/internal/store"
)

// Entry is one (mode, name, child-id, child-kind) tuple read from a tree.
type Entry struct {
	Mode store.Mode
	Kind store.Kind
	ID   objid.ID
	Name string
}

// Reader reads repository metadata, either over the network (via the
// git subprocess) or from an already-fetched bare clone (via go-git).
type Reader struct {
	// Binary is the name or path of the git executable. Defaults to "git".
	Binary string
}

// New returns a Reader that invokes the git binary found on $PATH.
func New() *Reader {
	return &Reader{Binary: "git"}
}

func (r *Reader) bin() string {
	if r.Binary == "" {
		return "git"
	}
	return r.Binary
}

// run executes git with the given arguments, returning stdout. A
// non-zero exit wraps stderr into a clnerr.RemoteFailure.
func (r *Reader) run(ctx context.Context, dir string, args ...string) ([]byte, error) {
	start := time.Now()
	cmd := exec.CommandContext(ctx, r.bin(), args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log := clnlog.WithComponent("gitremote")
	err := cmd.Run()
	log.Debug().
		Strs("args", args).
		Dur("elapsed", time.Since(start)).
		Err(err).
		Msg("ran git")

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
			return nil, clnerr.New(clnerr.Cancelled, fmt.Sprintf("git %s", strings.Join(args, " ")), err)
		}
		return nil, clnerr.New(clnerr.RemoteFailure, fmt.Sprintf("git %s", strings.Join(args, " ")),
			fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String())))
	}
	return stdout.Bytes(), nil
}

// ResolveRef resolves ref (or "HEAD" if empty) on remote to a commit
// id, without downloading any objects.
func (r *Reader) ResolveRef(ctx context.Context, remote, ref string) (objid.ID, error) {
	if ref == "" {
		ref = "HEAD"
	}
	out, err := r.run(ctx, "", "ls-remote", "--exit-code", remote, ref)
	if err != nil {
		return objid.ID{}, err
	}

	line := firstLine(out)
	fields := strings.Fields(line)
	if len(fields) < 1 {
		return objid.ID{}, clnerr.New(clnerr.RemoteFailure, "ResolveRef",
			fmt.Errorf("could not parse ls-remote output for %s %s: %q", remote, ref, line))
	}
	id, err := objid.Validate(fields[0])
	if err != nil {
		return objid.ID{}, clnerr.New(clnerr.RemoteFailure, "ResolveRef", err)
	}
	return id, nil
}

// FetchBare creates a bare, shallow, single-branch clone of ref from
// remote in a freshly created temporary directory, returning its path.
// The caller owns the directory and must remove it when done.
func (r *Reader) FetchBare(ctx context.Context, remote, ref string) (string, error) {
	if ref == "" {
		ref = "HEAD"
	}

	dir := filepath.Join(os.TempDir(), "cln-fetch-"+uuid.NewString())
	args := []string{"clone", "--bare", "--depth=1", "--single-branch"}
	if ref != "HEAD" {
		args = append(args, "--branch", ref)
	}
	args = append(args, remote, dir)

	if _, err := r.run(ctx, "", args...); err != nil {
		os.RemoveAll(dir)
		return "", err
	}
	return dir, nil
}

// CommitTree returns the root tree id of commitID, read from the bare
// clone at bareDir.
func (r *Reader) CommitTree(bareDir string, commitID objid.ID) (objid.ID, error) {
	repo, err := git.PlainOpen(bareDir)
	if err != nil {
		return objid.ID{}, clnerr.New(clnerr.RemoteFailure, "CommitTree", err)
	}
	commit, err := repo.CommitObject(commitID)
	if err != nil {
		return objid.ID{}, clnerr.New(clnerr.RemoteFailure, "CommitTree", err)
	}
	return commit.TreeHash, nil
}

// ListTree returns the immediate entries of the tree named treeID,
// read from the bare clone at bareDir. Entries with a mode this tool
// does not understand (e.g. gitlinks/submodules) are skipped with a
// logged warning rather than causing an error.
func (r *Reader) ListTree(bareDir string, treeID objid.ID) ([]Entry, error) {
	repo, err := git.PlainOpen(bareDir)
	if err != nil {
		return nil, clnerr.New(clnerr.RemoteFailure, "ListTree", err)
	}
	tree, err := repo.TreeObject(treeID)
	if err != nil {
		return nil, clnerr.New(clnerr.RemoteFailure, "ListTree", err)
	}

	log := clnlog.WithComponent("gitremote")
	var entries []Entry
	for _, e := range tree.Entries {
		if strings.ContainsRune(e.Name, '/') || e.Name == "." || e.Name == ".." {
			return nil, clnerr.New(clnerr.RemoteFailure, "ListTree",
				fmt.Errorf("illegal entry name %q in tree %s", e.Name, treeID))
		}

		var mode store.Mode
		var kind store.Kind
		switch e.Mode {
		case filemode.Dir:
			mode, kind = store.ModeSubtree, store.KindTree
		case filemode.Regular:
			mode, kind = store.ModeRegular, store.KindBlob
		case filemode.Executable:
			mode, kind = store.ModeExecutable, store.KindBlob
		case filemode.Symlink:
			mode, kind = store.ModeSymlink, store.KindBlob
		default:
			log.Warn().Str("tree", treeID.String()).Str("entry", e.Name).
				Str("mode", e.Mode.String()).Msg("skipping entry with unsupported mode")
			continue
		}

		entries = append(entries, Entry{Mode: mode, Kind: kind, ID: e.Hash, Name: e.Name})
	}
	return entries, nil
}

// CatBlob streams the bytes of the blob named blobID, read from the
// bare clone at bareDir, into w without buffering the whole blob in
// memory.
func (r *Reader) CatBlob(bareDir string, blobID objid.ID, w io.Writer) error {
	repo, err := git.PlainOpen(bareDir)
	if err != nil {
		return clnerr.New(clnerr.RemoteFailure, "CatBlob", err)
	}
	blob, err := repo.BlobObject(blobID)
	if err != nil {
		return clnerr.New(clnerr.RemoteFailure, "CatBlob", err)
	}
	rc, err := blob.Reader()
	if err != nil {
		return clnerr.New(clnerr.RemoteFailure, "CatBlob", err)
	}
	defer rc.Close()

	if _, err := io.Copy(w, rc); err != nil {
		return clnerr.New(clnerr.RemoteFailure, "CatBlob", err)
	}
	return nil
}

func firstLine(b []byte) string {
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		b = b[:i]
	}
	return strings.TrimSpace(string(b))
}
