package gitremote

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yhakbar/cln/internal/store"
)

// initTestRepo creates a small real git repository with a regular
// file, an executable file, and a symlink, and returns its path.
func initTestRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}

	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=cln-test", "GIT_AUTHOR_EMAIL=cln-test@example.com",
			"GIT_COMMITTER_NAME=cln-test", "GIT_COMMITTER_EMAIL=cln-test@example.com")
		var out bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = &out
		if err := cmd.Run(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out.String())
		}
	}

	run("init", "--quiet")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README"), []byte("hello\n"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "bin"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bin", "run.sh"), []byte("#!/bin/sh\n"), 0755))
	require.NoError(t, os.Symlink("../x", filepath.Join(dir, "link")))

	run("add", "README", "bin/run.sh", "link")
	run("commit", "--quiet", "-m", "initial")
	return dir
}

func TestResolveFetchAndRead(t *testing.T) {
	src := initTestRepo(t)
	r := New()
	ctx := context.Background()

	remote := "file://" + src
	commitID, err := r.ResolveRef(ctx, remote, "HEAD")
	require.NoError(t, err)

	bareDir, err := r.FetchBare(ctx, remote, "HEAD")
	require.NoError(t, err)
	defer os.RemoveAll(bareDir)

	treeID, err := r.CommitTree(bareDir, commitID)
	require.NoError(t, err)

	entries, err := r.ListTree(bareDir, treeID)
	require.NoError(t, err)

	byName := map[string]Entry{}
	for _, e := range entries {
		byName[e.Name] = e
	}
	require.Contains(t, byName, "README")
	require.Contains(t, byName, "bin")
	require.Contains(t, byName, "link")

	require.Equal(t, store.ModeRegular, byName["README"].Mode)
	require.Equal(t, store.KindBlob, byName["README"].Kind)
	require.Equal(t, store.ModeSubtree, byName["bin"].Mode)
	require.Equal(t, store.KindTree, byName["bin"].Kind)
	require.Equal(t, store.ModeSymlink, byName["link"].Mode)

	var buf bytes.Buffer
	require.NoError(t, r.CatBlob(bareDir, byName["README"].ID, &buf))
	require.Equal(t, "hello\n", buf.String())

	var linkBuf bytes.Buffer
	require.NoError(t, r.CatBlob(bareDir, byName["link"].ID, &linkBuf))
	require.Equal(t, "../x", linkBuf.String())

	subEntries, err := r.ListTree(bareDir, byName["bin"].ID)
	require.NoError(t, err)
	require.Len(t, subEntries, 1)
	require.Equal(t, "run.sh", subEntries[0].Name)
	require.Equal(t, store.ModeExecutable, subEntries[0].Mode)
}

func TestResolveRefDefaultsToHead(t *testing.T) {
	src := initTestRepo(t)
	r := New()
	ctx := context.Background()

	id, err := r.ResolveRef(ctx, "file://"+src, "")
	require.NoError(t, err)
	require.NotZero(t, id)
}
