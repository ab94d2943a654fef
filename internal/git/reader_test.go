package git

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	gitlib "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initRepo(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	repo, err := gitlib.PlainInit(dir, false)
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "blog"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "blog", "index.html"), []byte("hi"), 0644))

	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("blog/index.html")
	require.NoError(t, err)
	hash, err := wt.Commit("init", &gitlib.CommitOptions{
		Author: &object.Signature{Name: "ops", Email: "ops@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	return dir, hash.String()
}

func TestReadRevision(t *testing.T) {
	dir, hash := initRepo(t)

	rev, err := ReadRevision(context.Background(), filepath.Join(dir, "blog"))
	require.NoError(t, err)
	assert.Equal(t, hash, rev.Hash)
	assert.Equal(t, hash[:7], rev.Short)
	assert.False(t, rev.Dirty)
	assert.Equal(t, rev.Short, rev.String())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "blog", "index.html"), []byte("changed"), 0644))
	rev, err = ReadRevision(context.Background(), dir)
	require.NoError(t, err)
	assert.True(t, rev.Dirty)
	assert.Equal(t, rev.Short+"-dirty", rev.String())
}

func TestReadRevisionNotRepository(t *testing.T) {
	_, err := ReadRevision(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, ErrNotRepository)
}

func TestReadRevisionKeepsHeadWhenStatusUnavailable(t *testing.T) {
	dir, hash := initRepo(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rev, err := ReadRevision(ctx, dir)
	assert.ErrorIs(t, err, ErrStatusUnavailable)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, hash, rev.Hash)
	assert.Equal(t, "master", rev.Branch)
	assert.False(t, rev.Dirty)
}
