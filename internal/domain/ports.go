package domain

import (
	"context"
	"time"
)

type DeployClient interface {
	UploadArtifact(ctx context.Context, path string) (string, error)
	StartDeployment(ctx context.Context, req DeploymentRequest) (string, error)
	// GetStatus requests status messages newer than since; a zero since
	// returns the full message history.
	GetStatus(ctx context.Context, deploymentID string, since time.Time) (DeploymentStatus, error)
	GetChanges(ctx context.Context, deploymentID, environmentAlias string) (ChangeSet, error)
	ListDeployments(ctx context.Context, skip, take int) ([]DeploymentSummary, error)
}

type SourceHost interface {
	BranchHead(ctx context.Context, branch string) (string, error)
	CreateRef(ctx context.Context, branch, sha string) error
	CreatePullRequest(ctx context.Context, title, body, head, base string) (ReviewRequest, error)
	UploadArtifact(ctx context.Context, name string, paths []string, label string, retentionDays int) error
}

// GitRunner executes git against an explicit working root; implementations
// must never change the process working directory.
type GitRunner interface {
	Clone(ctx context.Context, repoURL, branch, dir string) error
	CreateBranch(ctx context.Context, dir, name string) error
	// Apply applies a patch file. In tolerant mode unmergeable hunks are
	// written to sidecar .rej files instead of failing the whole apply; a
	// tolerant apply returns an error only when it changed nothing at all.
	Apply(ctx context.Context, dir, patchPath string, tolerant bool) error
	AddAll(ctx context.Context, dir string) error
	HasStagedChanges(ctx context.Context, dir string) (bool, error)
	Commit(ctx context.Context, dir, message string, author Actor) error
	Push(ctx context.Context, dir, branch string) error
}

type OutputSink interface {
	Write(ctx context.Context, o Outputs) error
}
