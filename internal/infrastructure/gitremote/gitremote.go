// Package gitremote reads remote URLs from a local repository's git config
// without shelling out to git.
package gitremote

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
)

const DefaultRemote = "origin"

var ErrNotRepository = errors.New("not a git repository")

// Reader satisfies gitlab_api.RemoteReader.
type Reader struct{}

func (Reader) RemoteURL(repoPath, remote string) (string, error) {
	return RemoteURL(repoPath, remote)
}

// RemoteURL returns remote.<name>.url of the repository containing dir.
func RemoteURL(dir, remote string) (string, error) {
	if remote == "" {
		remote = DefaultRemote
	}

	gitDir, err := GitDir(dir)
	if err != nil {
		return "", err
	}

	cfg, err := ini.LoadSources(ini.LoadOptions{
		AllowShadows:             true,
		AllowBooleanKeys:         true,
		SpaceBeforeInlineComment: true,
	}, filepath.Join(gitDir, "config"))
	if err != nil {
		return "", errors.Wrap(err, "read git config")
	}

	section := fmt.Sprintf("remote %q", remote)
	sec, err := cfg.GetSection(section)
	if err != nil {
		return "", errors.Errorf("remote %q not found in %s", remote, gitDir)
	}

	url := strings.TrimSpace(sec.Key("url").String())
	if url == "" {
		return "", errors.Errorf("remote %q has no url", remote)
	}
	return url, nil
}

// Root walks up from dir to the directory holding .git.
func Root(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrNotRepository
		}
		dir = parent
	}
}

// GitDir returns the directory holding the shared config. Worktrees and
// submodules point at it through a ".git" file and an optional commondir.
func GitDir(dir string) (string, error) {
	root, err := Root(dir)
	if err != nil {
		return "", err
	}

	dotGit := filepath.Join(root, ".git")
	fi, err := os.Stat(dotGit)
	if err != nil {
		return "", err
	}
	if fi.IsDir() {
		return dotGit, nil
	}

	b, err := os.ReadFile(dotGit)
	if err != nil {
		return "", err
	}
	line := strings.TrimSpace(string(b))
	if !strings.HasPrefix(line, "gitdir:") {
		return "", errors.Errorf("malformed %s", dotGit)
	}

	gitDir := strings.TrimSpace(strings.TrimPrefix(line, "gitdir:"))
	if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Join(root, gitDir)
	}

	if c, err := os.ReadFile(filepath.Join(gitDir, "commondir")); err == nil {
		common := strings.TrimSpace(string(c))
		if !filepath.IsAbs(common) {
			common = filepath.Join(gitDir, common)
		}
		return filepath.Clean(common), nil
	}
	return gitDir, nil
}
