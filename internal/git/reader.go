package git

import (
	"context"
	"errors"
	"fmt"

	gitlib "github.com/go-git/go-git/v5"
)

// ErrNotRepository 源目录不是 Git 工作区
var ErrNotRepository = errors.New("source is not a git work tree")

// ErrStatusUnavailable 无法得到工作区状态；返回的 Revision 仍包含 HEAD
var ErrStatusUnavailable = errors.New("worktree status unavailable")

// Revision 源目录当前 HEAD 信息（写入部署摘要）
type Revision struct {
	Hash   string `json:"hash" yaml:"hash"`
	Short  string `json:"short" yaml:"short"`
	Branch string `json:"branch,omitempty" yaml:"branch,omitempty"`
	Dirty  bool   `json:"dirty" yaml:"dirty"`
}

func (r Revision) String() string {
	if r.Dirty {
		return r.Short + "-dirty"
	}
	return r.Short
}

// ReadRevision 读取 dir 所在工作区的 HEAD，向上查找 .git
// 工作区状态（dirty）的计算受 ctx 约束，超时或失败时返回 HEAD 与 ErrStatusUnavailable
func ReadRevision(ctx context.Context, dir string) (Revision, error) {
	r, err := gitlib.PlainOpenWithOptions(dir, &gitlib.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, gitlib.ErrRepositoryNotExists) {
			return Revision{}, ErrNotRepository
		}
		return Revision{}, fmt.Errorf("open repository: %w", err)
	}

	headRef, err := r.Head()
	if err != nil {
		return Revision{}, fmt.Errorf("read HEAD: %w", err)
	}

	rev := Revision{Hash: headRef.Hash().String()}
	rev.Short = rev.Hash
	if len(rev.Short) > 7 {
		rev.Short = rev.Short[:7]
	}
	if headRef.Name().IsBranch() {
		rev.Branch = headRef.Name().Short()
	}

	wt, err := r.Worktree()
	if err != nil {
		// bare repository
		return rev, nil
	}
	if err := ctx.Err(); err != nil {
		return rev, fmt.Errorf("%w: %w", ErrStatusUnavailable, err)
	}

	type result struct {
		clean bool
		err   error
	}
	done := make(chan result, 1)
	go func() {
		status, err := wt.Status()
		if err != nil {
			done <- result{err: err}
			return
		}
		done <- result{clean: status.IsClean()}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return rev, fmt.Errorf("%w: %w", ErrStatusUnavailable, res.err)
		}
		rev.Dirty = !res.clean
		return rev, nil
	case <-ctx.Done():
		return rev, fmt.Errorf("%w: %w", ErrStatusUnavailable, ctx.Err())
	}
}
