package domain

import (
	"context"
	"time"
)

type MockDeployClient struct {
	ArtifactID   string
	DeploymentID string
	// Statuses are returned in order; the last one repeats once exhausted.
	Statuses   []DeploymentStatus
	StatusErrs []error
	Changes    map[string]ChangeSet
	ChangesErr error
	Summaries  []DeploymentSummary

	UploadErr error
	StartErr  error
	ListErr   error

	StatusCalls  int
	StatusCursor []time.Time
	ChangesCalls []string
	ListCalls    int
	StartedWith  []DeploymentRequest
}

func (m *MockDeployClient) UploadArtifact(ctx context.Context, path string) (string, error) {
	if m.UploadErr != nil {
		return "", m.UploadErr
	}
	return m.ArtifactID, nil
}

func (m *MockDeployClient) StartDeployment(ctx context.Context, req DeploymentRequest) (string, error) {
	m.StartedWith = append(m.StartedWith, req)
	if m.StartErr != nil {
		return "", m.StartErr
	}
	return m.DeploymentID, nil
}

func (m *MockDeployClient) GetStatus(ctx context.Context, deploymentID string, since time.Time) (DeploymentStatus, error) {
	i := m.StatusCalls
	m.StatusCalls++
	m.StatusCursor = append(m.StatusCursor, since)
	if i < len(m.StatusErrs) && m.StatusErrs[i] != nil {
		return DeploymentStatus{}, m.StatusErrs[i]
	}
	if len(m.Statuses) == 0 {
		return DeploymentStatus{DeploymentID: deploymentID, State: StateInProgress}, nil
	}
	if i >= len(m.Statuses) {
		i = len(m.Statuses) - 1
	}
	return m.Statuses[i], nil
}

func (m *MockDeployClient) GetChanges(ctx context.Context, deploymentID, alias string) (ChangeSet, error) {
	m.ChangesCalls = append(m.ChangesCalls, deploymentID)
	if m.ChangesErr != nil {
		return ChangeSet{}, m.ChangesErr
	}
	if cs, ok := m.Changes[deploymentID]; ok {
		return cs, nil
	}
	return ChangeSet{DeploymentID: deploymentID, State: ChangeSetAbsent}, nil
}

func (m *MockDeployClient) ListDeployments(ctx context.Context, skip, take int) ([]DeploymentSummary, error) {
	m.ListCalls++
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	if skip >= len(m.Summaries) {
		return nil, nil
	}
	end := skip + take
	if end > len(m.Summaries) {
		end = len(m.Summaries)
	}
	return m.Summaries[skip:end], nil
}

type MockSourceHost struct {
	HeadSHA string
	HeadErr error
	// RefErrs are consumed one per CreateRef call; nil means success.
	RefErrs []error
	Review  ReviewRequest
	PRErr   error

	RefNames  []string
	PRs       []ReviewRequest
	Artifacts []MockArtifactUpload
	UploadErr error
}

type MockArtifactUpload struct {
	Name          string
	Paths         []string
	Label         string
	RetentionDays int
}

func (m *MockSourceHost) BranchHead(ctx context.Context, branch string) (string, error) {
	if m.HeadErr != nil {
		return "", m.HeadErr
	}
	if m.HeadSHA == "" {
		return "0000000000000000000000000000000000000000", nil
	}
	return m.HeadSHA, nil
}

func (m *MockSourceHost) CreateRef(ctx context.Context, branch, sha string) error {
	i := len(m.RefNames)
	m.RefNames = append(m.RefNames, branch)
	if i < len(m.RefErrs) {
		return m.RefErrs[i]
	}
	return nil
}

func (m *MockSourceHost) CreatePullRequest(ctx context.Context, title, body, head, base string) (ReviewRequest, error) {
	if m.PRErr != nil {
		return ReviewRequest{}, m.PRErr
	}
	rr := m.Review
	rr.Title = title
	rr.Body = body
	rr.Branch = head
	rr.Base = base
	m.PRs = append(m.PRs, rr)
	return rr, nil
}

func (m *MockSourceHost) UploadArtifact(ctx context.Context, name string, paths []string, label string, retentionDays int) error {
	if m.UploadErr != nil {
		return m.UploadErr
	}
	m.Artifacts = append(m.Artifacts, MockArtifactUpload{Name: name, Paths: append([]string(nil), paths...), Label: label, RetentionDays: retentionDays})
	return nil
}

type MockGitRunner struct {
	CloneErr  error
	BranchErr error
	// ApplyErrs are consumed one per Apply call; nil means success.
	ApplyErrs []error
	// ApplyHook, when set, runs on each successful Apply (used to drop .rej
	// files into the working tree).
	ApplyHook func(dir string, tolerant bool) error
	Staged    bool
	StagedErr error
	CommitErr error
	PushErr   error

	Clones   []string
	Branches []string
	Applies  []bool
	AddCalls int
	Commits  []string
	Authors  []Actor
	Pushes   []string
}

func (m *MockGitRunner) Clone(ctx context.Context, repoURL, branch, dir string) error {
	if m.CloneErr != nil {
		return m.CloneErr
	}
	m.Clones = append(m.Clones, dir)
	return nil
}

func (m *MockGitRunner) CreateBranch(ctx context.Context, dir, name string) error {
	if m.BranchErr != nil {
		return m.BranchErr
	}
	m.Branches = append(m.Branches, name)
	return nil
}

func (m *MockGitRunner) Apply(ctx context.Context, dir, patchPath string, tolerant bool) error {
	i := len(m.Applies)
	m.Applies = append(m.Applies, tolerant)
	if i < len(m.ApplyErrs) && m.ApplyErrs[i] != nil {
		return m.ApplyErrs[i]
	}
	if m.ApplyHook != nil {
		return m.ApplyHook(dir, tolerant)
	}
	return nil
}

func (m *MockGitRunner) AddAll(ctx context.Context, dir string) error {
	m.AddCalls++
	return nil
}

func (m *MockGitRunner) HasStagedChanges(ctx context.Context, dir string) (bool, error) {
	if m.StagedErr != nil {
		return false, m.StagedErr
	}
	return m.Staged, nil
}

func (m *MockGitRunner) Commit(ctx context.Context, dir, message string, author Actor) error {
	if m.CommitErr != nil {
		return m.CommitErr
	}
	m.Commits = append(m.Commits, message)
	m.Authors = append(m.Authors, author)
	return nil
}

func (m *MockGitRunner) Push(ctx context.Context, dir, branch string) error {
	if m.PushErr != nil {
		return m.PushErr
	}
	m.Pushes = append(m.Pushes, branch)
	return nil
}

type MockOutputSink struct {
	Written []Outputs
	Err     error
}

func (m *MockOutputSink) Write(ctx context.Context, o Outputs) error {
	if m.Err != nil {
		return m.Err
	}
	m.Written = append(m.Written, o)
	return nil
}
