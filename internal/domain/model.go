package domain

import "time"

type DeploymentState string

const (
	StatePending    DeploymentState = "Pending"
	StateQueued     DeploymentState = "Queued"
	StateInProgress DeploymentState = "InProgress"
	StateCompleted  DeploymentState = "Completed"
	StateFailed     DeploymentState = "Failed"
	StateUnknown    DeploymentState = "Unknown"
)

func (s DeploymentState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// DeploymentRequest is built once per pipeline run and never mutated.
type DeploymentRequest struct {
	TargetEnvironmentAlias string
	ArtifactID             string
	CommitMessage          string
	NoBuildAndRestore      bool
	SkipVersionCheck       bool
}

type StatusMessage struct {
	Message      string
	TimestampUtc time.Time
}

type DeploymentStatus struct {
	DeploymentID string
	State        DeploymentState
	// ModifiedUtc is the polling cursor: passed back as "since" on the next
	// query so only newer status messages are returned.
	ModifiedUtc    time.Time
	StatusMessages []StatusMessage
}

type DeploymentSummary struct {
	ID       string
	State    DeploymentState
	Created  time.Time
	Modified time.Time
}

type ChangeSetState string

const (
	ChangeSetPresent ChangeSetState = "present"
	ChangeSetEmpty   ChangeSetState = "empty"
	ChangeSetAbsent  ChangeSetState = "absent"
)

// ChangeSet is the unified-diff payload the remote system holds for one
// deployment. Empty (200 with no body) and absent (204) are kept apart so
// callers can report them distinctly; neither is a usable patch.
type ChangeSet struct {
	DeploymentID string
	Diff         string
	State        ChangeSetState
}

func (c ChangeSet) Usable() bool { return c.State == ChangeSetPresent }

type ReviewRequest struct {
	Branch string
	Title  string
	Body   string
	Base   string
	URL    string
	Number int
}

type Actor struct {
	Name  string
	Email string
}

// Outputs is the structured result surface of one invocation, written to the
// outputs file regardless of how the run ended.
type Outputs struct {
	DeploymentID   string
	State          DeploymentState
	ChangeSetState ChangeSetState
	RecoveryBranch string
	ReviewURL      string
	ReviewNumber   int
	Retrieved      int64
}
