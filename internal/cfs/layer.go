package cfs

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	giturls "github.com/chainguard-dev/git-urls"
	"github.com/spf13/pflag"
)

var (
	_ pflag.Value = (*LayerState)(nil)
	_ pflag.Value = (*DuplicatePolicy)(nil)
)

// LayerState is the desired state of a layer within a configuration.
type LayerState string

const (
	// LayerStatePresent means the layer should exist in the configuration.
	LayerStatePresent LayerState = "present"
	// LayerStateAbsent means the layer should be removed from the configuration.
	LayerStateAbsent LayerState = "absent"
)

// String implements pflag.Value.
func (s *LayerState) String() string {
	return string(*s)
}

// Set implements pflag.Value.
func (s *LayerState) Set(value string) error {
	switch LayerState(value) {
	case LayerStatePresent, LayerStateAbsent:
		*s = LayerState(value)
		return nil
	}
	return fmt.Errorf("invalid layer state %q (must be %q or %q)", value, LayerStatePresent, LayerStateAbsent)
}

// Type implements pflag.Value.
func (s *LayerState) Type() string {
	return "state"
}

// Layer is a single configuration management unit within a CFS configuration:
// a git repository plus an optional playbook, pinned to a revision.
//
// Two layers refer to the same configuration slot iff the path components of
// their clone URLs and their playbooks are equal; name and revision are
// mutable payload, not identity.
type Layer struct {
	// CloneURL locates the configuration repository in VCS.
	CloneURL string `json:"cloneUrl"`
	// Commit is an immutable revision hash. At most one of Commit and Branch
	// should be set when the layer is applied.
	Commit string `json:"commit,omitempty"`
	// Branch is a mutable ref name, resolved to a commit before the layer is
	// persisted when branch resolution is enabled.
	Branch string `json:"branch,omitempty"`
	// Name is the display name of the layer. When empty, a name is derived
	// from the repository, playbook, and revision.
	Name string `json:"name,omitempty"`
	// Playbook is the playbook path within the repository. Empty means the
	// CFS internal default playbook.
	Playbook string `json:"playbook,omitempty"`
}

// LayerOptions carries the optional fields shared by the layer constructors.
type LayerOptions struct {
	Name     string
	Playbook string
	Commit   string
	Branch   string
}

// NewLayerFromCloneURL constructs a layer for an explicitly specified
// repository. A display name is derived when none is given.
func NewLayerFromCloneURL(cloneURL string, opts LayerOptions) Layer {
	layer := Layer{
		CloneURL: cloneURL,
		Commit:   opts.Commit,
		Branch:   opts.Branch,
		Name:     opts.Name,
		Playbook: opts.Playbook,
	}
	if layer.Name == "" {
		layer.Name = derivedLayerName(repoShortName(layer.RepoPath()), layer.Playbook, layer.revision())
	}
	return layer
}

// NewLayerFromProduct constructs a layer for a product catalog entry. The
// product's clone URL and commit are used unless overridden in opts, and the
// derived name is based on the product name.
func NewLayerFromProduct(productName, cloneURL, commit string, opts LayerOptions) Layer {
	layer := Layer{
		CloneURL: cloneURL,
		Commit:   opts.Commit,
		Branch:   opts.Branch,
		Name:     opts.Name,
		Playbook: opts.Playbook,
	}
	if layer.Commit == "" && layer.Branch == "" {
		layer.Commit = commit
	}
	if layer.Name == "" {
		layer.Name = derivedLayerName(productName, layer.Playbook, layer.revision())
	}
	return layer
}

// RepoPath returns the path component of the layer's clone URL. Matching
// considers only this path, so the same repository reached through different
// hosts or schemes still identifies the same slot. The path is taken verbatim
// from URL parsing; no trailing slash or ".git" normalization is applied.
func (l Layer) RepoPath() string {
	if strings.HasPrefix(l.CloneURL, "/") {
		return l.CloneURL
	}
	parsed, err := giturls.Parse(l.CloneURL)
	if err != nil {
		return l.CloneURL
	}
	return parsed.Path
}

// Matches reports whether other refers to the same configuration slot as l:
// same repository path and same playbook. Comparison is case sensitive and
// exact; two layers for the same repository with different playbooks are
// distinct slots.
func (l Layer) Matches(other Layer) bool {
	return l.RepoPath() == other.RepoPath() && l.Playbook == other.Playbook
}

// ResolveBranch resolves the layer's branch to a commit hash using the given
// resolver and pins the layer to that commit. Layers without a branch are
// returned unchanged.
func (l Layer) ResolveBranch(ctx context.Context, resolver BranchResolver) (Layer, error) {
	if l.Branch == "" {
		return l, nil
	}
	commit, err := resolver.ResolveBranch(ctx, l.Branch)
	if err != nil {
		return l, fmt.Errorf("failed to resolve branch %q: %w", l.Branch, err)
	}
	if commit == "" {
		return l, fmt.Errorf("branch %q does not exist in repository %q", l.Branch, l.CloneURL)
	}
	l.Commit = commit
	l.Branch = ""
	return l, nil
}

// BranchResolver resolves a branch name to a commit hash in one repository.
type BranchResolver interface {
	ResolveBranch(ctx context.Context, branch string) (string, error)
}

// revision returns the revision used in derived names: the commit if set,
// otherwise the branch name.
func (l Layer) revision() string {
	if l.Commit != "" {
		return l.Commit
	}
	return l.Branch
}

// fieldDiffs lists the per-field differences between an existing layer and
// its replacement, for change detection and logging.
func fieldDiffs(existing, candidate Layer) []string {
	var diffs []string
	appendDiff := func(field, oldValue, newValue string) {
		if oldValue != newValue {
			diffs = append(diffs, fmt.Sprintf("%s changed from %q to %q", field, oldValue, newValue))
		}
	}
	appendDiff("cloneUrl", existing.CloneURL, candidate.CloneURL)
	appendDiff("commit", existing.Commit, candidate.Commit)
	appendDiff("branch", existing.Branch, candidate.Branch)
	appendDiff("name", existing.Name, candidate.Name)
	appendDiff("playbook", existing.Playbook, candidate.Playbook)
	return diffs
}

const derivedNameTimestampLayout = "20060102T150405"

// repoShortName extracts a repository short name from its path, e.g.
// "/vcs/cray/sat-config-management.git" becomes "sat-config-management".
func repoShortName(repoPath string) string {
	return strings.TrimSuffix(path.Base(repoPath), ".git")
}

// derivedLayerName builds a display name from the layer's identifying parts
// plus a timestamp marking when the layer was constructed.
func derivedLayerName(base, playbook, revision string) string {
	parts := []string{base}
	if playbook != "" {
		parts = append(parts, strings.TrimSuffix(path.Base(playbook), ".yml"))
	}
	if revision != "" {
		if len(revision) > 7 {
			revision = revision[:7]
		}
		parts = append(parts, revision)
	}
	parts = append(parts, time.Now().UTC().Format(derivedNameTimestampLayout))
	return strings.Join(parts, "-")
}
