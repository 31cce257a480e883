// Package vcs resolves git references in the version control service that
// hosts configuration management repositories.
//
// Branch names in layers are resolved to commit hashes by listing the remote
// repository's refs over HTTPS, without cloning.
package vcs

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"
	"k8s.io/client-go/kubernetes"

	"cfsutil/internal/config"
	"cfsutil/internal/kube"
	"cfsutil/pkg/logging"
)

const subsystem = "VCS"

const (
	credsSecretNamespace = "services"
	credsSecretName      = "vcs-user-credentials"
	credsSecretKey       = "vcs_password"
)

// Credentials authenticate read access to VCS repositories.
type Credentials struct {
	Username string
	Password string
}

// LoadCredentials reads the VCS password from its Kubernetes secret and pairs
// it with the configured username.
func LoadCredentials(ctx context.Context, kubeClient kubernetes.Interface, settings config.Settings) (Credentials, error) {
	password, err := kube.GetSecretValue(ctx, kubeClient, credsSecretNamespace, credsSecretName, credsSecretKey)
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to read VCS credentials: %w", err)
	}
	return Credentials{Username: settings.VCSUsername, Password: string(password)}, nil
}

// Repo resolves refs in one remote repository. The remote's refs are listed
// once on first use and cached for the lifetime of the Repo.
type Repo struct {
	cloneURL string

	once     sync.Once
	refs     map[string]string
	listErr  error
	listRefs func(ctx context.Context) (map[string]string, error)
}

// NewRepo creates a resolver for the repository at cloneURL. Credentials may
// be nil for anonymously readable repositories. When certVerify is false the
// remote's TLS certificate is not checked.
func NewRepo(cloneURL string, creds *Credentials, certVerify bool) *Repo {
	r := &Repo{cloneURL: cloneURL}
	r.listRefs = func(ctx context.Context) (map[string]string, error) {
		remote := git.NewRemote(memory.NewStorage(), &gitconfig.RemoteConfig{
			Name: "origin",
			URLs: []string{cloneURL},
		})

		opts := &git.ListOptions{InsecureSkipTLS: !certVerify}
		if creds != nil {
			opts.Auth = &githttp.BasicAuth{Username: creds.Username, Password: creds.Password}
		}

		refs, err := remote.ListContext(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list refs in repository %s: %w", cloneURL, err)
		}

		byName := make(map[string]string, len(refs))
		for _, ref := range refs {
			byName[ref.Name().String()] = ref.Hash().String()
		}
		logging.Debug(subsystem, "Listed %d refs in repository %s", len(byName), cloneURL)
		return byName, nil
	}
	return r
}

// RemoteRefs returns the repository's refs by full name (e.g.
// "refs/heads/main") mapped to commit hashes.
func (r *Repo) RemoteRefs(ctx context.Context) (map[string]string, error) {
	r.once.Do(func() {
		r.refs, r.listErr = r.listRefs(ctx)
	})
	return r.refs, r.listErr
}

// ResolveBranch returns the commit hash at the head of the named branch, or
// an empty string if the remote has no such branch.
func (r *Repo) ResolveBranch(ctx context.Context, branch string) (string, error) {
	refs, err := r.RemoteRefs(ctx)
	if err != nil {
		return "", err
	}

	commit := refs["refs/heads/"+branch]
	if commit != "" {
		logging.Info(subsystem, "Resolved branch %q in repository %s to commit %s", branch, r.cloneURL, commit)
	}
	return commit, nil
}
