// Package gitsource keeps local clones of git deck repositories up to date.
package gitsource

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
)

// Sync clones url into localPath when nothing is there yet and pulls the
// latest changes otherwise.
func Sync(ctx context.Context, url, localPath string, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}

	_, err := os.Stat(localPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Info("cloning repository", "url", url, "path", localPath)
		if _, err := git.PlainCloneContext(ctx, localPath, false, &git.CloneOptions{URL: url}); err != nil {
			return fmt.Errorf("failed to clone repo %s: %w", url, err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("error checking path %s: %w", localPath, err)
	}

	repo, err := git.PlainOpen(localPath)
	if err != nil {
		return fmt.Errorf("failed to open existing repo at %s: %w", localPath, err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree for repo at %s: %w", localPath, err)
	}

	log.Info("pulling repository", "path", localPath)
	err = worktree.PullContext(ctx, &git.PullOptions{RemoteName: "origin"})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("failed to pull changes for repo at %s: %w", localPath, err)
	}
	return nil
}

// LocalPath maps a repository URL to a directory under baseDir, for example
// https://github.com/acme/decks.git to baseDir/github.com/acme/decks.
// scp-style addresses such as git@github.com:acme/decks.git are accepted.
func LocalPath(baseDir, repoURL string) (string, error) {
	u, err := url.Parse(repoURL)
	if err == nil && (u.Scheme == "https" || u.Scheme == "http" || u.Scheme == "ssh") && u.Host != "" {
		return join(baseDir, u.Hostname(), u.Path)
	}

	if at := strings.Index(repoURL, "@"); at >= 0 {
		host, path, ok := strings.Cut(repoURL[at+1:], ":")
		if ok && host != "" {
			return join(baseDir, host, path)
		}
	}
	return "", fmt.Errorf("could not parse git URL: %s", repoURL)
}

func join(baseDir, host, path string) (string, error) {
	path = strings.Trim(strings.TrimSuffix(path, ".git"), "/")
	if path == "" {
		return "", fmt.Errorf("git URL has no repository path")
	}
	local := filepath.Join(baseDir, host, filepath.FromSlash(path))
	// Reject paths such as ../../etc that would escape baseDir.
	rel, err := filepath.Rel(baseDir, local)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("git URL escapes the repository directory")
	}
	return local, nil
}

// IsRemote reports whether s looks like a git URL rather than a local path.
func IsRemote(s string) bool {
	if strings.HasSuffix(s, ".git") {
		return true
	}
	u, err := url.Parse(s)
	return err == nil && u.Host != "" && (u.Scheme == "https" || u.Scheme == "http" || u.Scheme == "ssh")
}
