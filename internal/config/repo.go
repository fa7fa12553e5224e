package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
)

// SyncPolicyFromRepo shallow-clones repoURL and returns the contents of file.
// The token, when set, is sent as an oauth2 basic-auth password.
func SyncPolicyFromRepo(repoURL, token, file string) ([]byte, error) {
	if repoURL == "" {
		return nil, fmt.Errorf("POLICY_REPO must be configured")
	}
	if file == "" {
		file = "remediation-policy.yaml"
	}

	tempDir, err := os.MkdirTemp("", "policy-sync-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(tempDir)

	opts := &git.CloneOptions{
		URL:   repoURL,
		Depth: 1,
	}
	if token != "" {
		opts.Auth = &githttp.BasicAuth{
			Username: "oauth2",
			Password: token,
		}
	}
	if _, err := git.PlainClone(tempDir, false, opts); err != nil {
		return nil, fmt.Errorf("failed to clone policy repo: %w", err)
	}

	data, err := os.ReadFile(filepath.Join(tempDir, filepath.Clean("/"+file)))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", file, err)
	}
	return data, nil
}
