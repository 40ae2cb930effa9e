package git

import (
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// RepoInfo is the git metadata shown in the repository overview.
type RepoInfo struct {
	Root              string    `json:"root"`
	Branch            string    `json:"branch"`
	Head              string    `json:"head"`
	LastCommitMessage string    `json:"last_commit_message,omitempty"`
	LastCommitDate    time.Time `json:"last_commit_date,omitempty"`
	Dirty             bool      `json:"dirty"`
	RemoteURL         string    `json:"remote_url,omitempty"`
	Owner             string    `json:"owner,omitempty"`
	Repo              string    `json:"repo,omitempty"`
}

// Client defines the git operations cqi needs. All methods take the
// repository path since a server may analyze several repositories.
type Client interface {
	RepoRoot(path string) (string, error)
	CurrentBranch(path string) (string, error)
	LastCommitDate(path string) (time.Time, error)
	LastCommitMessage(path string) (string, error)
	LastCommitHash(path string) (string, error)
	IsDirty(path string) (bool, error)
	RemoteURL(path string) (string, error)
	ChangedFiles(path, base string) ([]string, error)
}

// RealClient implements Client using real git commands.
type RealClient struct{}

// NewClient returns a new RealClient.
func NewClient() *RealClient {
	return &RealClient{}
}

func gitCmd(path string, args ...string) (string, error) {
	fullArgs := append([]string{"-C", path}, args...)
	out, err := exec.Command("git", fullArgs...).Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("git %s: %s", strings.Join(args, " "), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (c *RealClient) RepoRoot(path string) (string, error) {
	return gitCmd(path, "rev-parse", "--show-toplevel")
}

func (c *RealClient) CurrentBranch(path string) (string, error) {
	return gitCmd(path, "rev-parse", "--abbrev-ref", "HEAD")
}

func (c *RealClient) LastCommitDate(path string) (time.Time, error) {
	out, err := gitCmd(path, "log", "-1", "--format=%aI")
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, out)
}

func (c *RealClient) LastCommitMessage(path string) (string, error) {
	return gitCmd(path, "log", "-1", "--format=%s")
}

func (c *RealClient) LastCommitHash(path string) (string, error) {
	return gitCmd(path, "log", "-1", "--format=%h")
}

func (c *RealClient) IsDirty(path string) (bool, error) {
	out, err := gitCmd(path, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

func (c *RealClient) RemoteURL(path string) (string, error) {
	out, err := gitCmd(path, "remote", "get-url", "origin")
	if err != nil {
		return "", nil // no remote is not an error
	}
	return out, nil
}

// ChangedFiles lists files that differ between base and the working tree,
// relative to the repository root.
func (c *RealClient) ChangedFiles(path, base string) ([]string, error) {
	out, err := gitCmd(path, "diff", "--name-only", base)
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

func splitLines(out string) []string {
	if out == "" {
		return nil
	}
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// Describe collects RepoInfo for path. It fails only when path is not inside
// a git repository; every other field is filled best-effort.
func Describe(c Client, path string) (*RepoInfo, error) {
	root, err := c.RepoRoot(path)
	if err != nil {
		return nil, err
	}
	info := &RepoInfo{Root: root}
	info.Branch, _ = c.CurrentBranch(path)
	info.Head, _ = c.LastCommitHash(path)
	info.LastCommitMessage, _ = c.LastCommitMessage(path)
	info.LastCommitDate, _ = c.LastCommitDate(path)
	info.Dirty, _ = c.IsDirty(path)
	info.RemoteURL, _ = c.RemoteURL(path)
	if info.RemoteURL != "" {
		info.Owner, info.Repo, _ = ExtractOwnerRepo(info.RemoteURL)
	}
	return info, nil
}

// ExtractOwnerRepo parses a GitHub remote URL and returns owner/repo.
func ExtractOwnerRepo(remoteURL string) (owner, repo string, err error) {
	// Handle SSH: git@github.com:owner/repo.git
	if strings.HasPrefix(remoteURL, "git@") {
		parts := strings.SplitN(remoteURL, ":", 2)
		if len(parts) != 2 {
			return "", "", fmt.Errorf("cannot parse SSH remote: %s", remoteURL)
		}
		path := strings.TrimSuffix(parts[1], ".git")
		segments := strings.SplitN(path, "/", 2)
		if len(segments) != 2 {
			return "", "", fmt.Errorf("cannot parse owner/repo from: %s", remoteURL)
		}
		return segments[0], segments[1], nil
	}

	// Handle HTTPS: https://github.com/owner/repo.git
	trimmed := strings.TrimSuffix(remoteURL, ".git")
	trimmed = strings.TrimPrefix(trimmed, "https://github.com/")
	trimmed = strings.TrimPrefix(trimmed, "http://github.com/")
	segments := strings.SplitN(trimmed, "/", 2)
	if len(segments) != 2 || segments[0] == "" || segments[1] == "" {
		return "", "", fmt.Errorf("cannot parse owner/repo from: %s", remoteURL)
	}
	return segments[0], segments[1], nil
}
