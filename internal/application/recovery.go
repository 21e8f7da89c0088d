package application

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmellberg/deployctl/internal/domain"
	"go.uber.org/zap"
)

// Author used for recovery commits when no actor identity is configured.
var botActor = domain.Actor{
	Name:  "deployctl-bot",
	Email: "deployctl-bot@noreply.invalid",
}

type RecoveryConfig struct {
	RepoURL          string
	BaseBranch       string
	EnvironmentAlias string
	BranchNamespace  string
	Actor            domain.Actor
	// PageLimit bounds the search for the latest completed deployment.
	PageLimit     int
	PageSize      int
	RetentionDays int
	ArtifactLabel string
	// WorkRoot is the parent for isolated working copies; empty means the
	// system temp directory.
	WorkRoot string
}

// Recovery reconstructs a corrective change-set for a failed deployment and
// opens a review request with it against the calling repository.
type Recovery struct {
	log    *zap.Logger
	client domain.DeployClient
	host   domain.SourceHost
	git    domain.GitRunner
	cfg    RecoveryConfig

	now      func() time.Time
	scanTree func(dir string) (DirEntry, error)
}

// Result reports what a recovery attempt did. Skipped is set, with Review
// nil, on every silent-abort path (unrecoverable failure class, no usable
// change-set, nothing to commit).
type Result struct {
	SourceDeploymentID string
	Branch             string
	ConflictResolved   bool
	RejectedHunks      []string
	Review             *domain.ReviewRequest
	Skipped            string
}

func NewRecovery(log *zap.Logger, client domain.DeployClient, host domain.SourceHost, git domain.GitRunner, cfg RecoveryConfig) *Recovery {
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = 5
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 20
	}
	if cfg.BranchNamespace == "" {
		cfg.BranchNamespace = "deploy-recovery"
	}
	if cfg.ArtifactLabel == "" {
		cfg.ArtifactLabel = "patch-rejects"
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 7
	}
	return &Recovery{log: log, client: client, host: host, git: git, cfg: cfg, now: time.Now, scanTree: ReadTree}
}

// Run executes the recovery pipeline for a failed deployment. A nil error
// with Result.Skipped set means recovery decided not to act; a non-nil error
// means an attempted recovery failed.
func (r *Recovery) Run(ctx context.Context, deploymentID string) (*Result, error) {
	res := &Result{}

	detail := r.failureDetail(ctx, deploymentID)
	class := domain.ClassifyFailure(detail)
	r.log.Info("classified deployment failure",
		zap.String("deployment", deploymentID),
		zap.String("class", class.String()),
	)

	if class == domain.FailureUnrecoverableRestore {
		r.log.Warn("dependency restore failure detected; a patch cannot fix feed or credential problems, skipping recovery",
			zap.String("deployment", deploymentID))
		res.Skipped = "unrecoverable dependency restore failure"
		return res, nil
	}

	cs, sourceID := r.selectChangeSet(ctx, deploymentID, class)
	if !cs.Usable() {
		r.log.Info("no usable change-set found, skipping recovery", zap.String("deployment", deploymentID))
		res.Skipped = "no usable change-set"
		return res, nil
	}
	res.SourceDeploymentID = sourceID

	if err := r.applyAndPropose(ctx, deploymentID, cs, res); err != nil {
		return res, err
	}
	return res, nil
}

// failureDetail fetches the failed deployment's message history. Best effort:
// recovery proceeds on an empty detail.
func (r *Recovery) failureDetail(ctx context.Context, deploymentID string) string {
	status, err := r.client.GetStatus(ctx, deploymentID, time.Time{})
	if err != nil {
		r.log.Warn("could not fetch failure detail", zap.String("deployment", deploymentID), zap.Error(err))
		return ""
	}
	var b strings.Builder
	for _, m := range status.StatusMessages {
		b.WriteString(m.Message)
		b.WriteString("\n")
	}
	return b.String()
}

// selectChangeSet picks the patch source: the failed deployment's own
// change-set for version conflicts (falling back silently), otherwise the
// most recent completed deployment that actually carries a diff.
func (r *Recovery) selectChangeSet(ctx context.Context, deploymentID string, class domain.FailureClass) (domain.ChangeSet, string) {
	if class == domain.FailureVersionConflict {
		cs, err := r.client.GetChanges(ctx, deploymentID, r.cfg.EnvironmentAlias)
		if err != nil {
			r.log.Warn("could not fetch change-set of failed deployment, falling back to latest completed",
				zap.String("deployment", deploymentID), zap.Error(err))
		} else if cs.Usable() {
			return cs, deploymentID
		} else {
			r.log.Info("failed deployment carries no change-set, falling back to latest completed",
				zap.String("deployment", deploymentID),
				zap.String("change_set", string(cs.State)),
			)
		}
	}
	return r.latestCompletedChanges(ctx)
}

func (r *Recovery) latestCompletedChanges(ctx context.Context) (domain.ChangeSet, string) {
	for page := 0; page < r.cfg.PageLimit; page++ {
		summaries, err := r.client.ListDeployments(ctx, page*r.cfg.PageSize, r.cfg.PageSize)
		if err != nil {
			r.log.Warn("listing deployments failed, abandoning candidate search", zap.Error(err))
			return domain.ChangeSet{State: domain.ChangeSetAbsent}, ""
		}
		if len(summaries) == 0 {
			break
		}
		for _, s := range summaries {
			if s.State != domain.StateCompleted {
				continue
			}
			cs, err := r.client.GetChanges(ctx, s.ID, r.cfg.EnvironmentAlias)
			if err != nil {
				r.log.Warn("probing change-set failed", zap.String("deployment", s.ID), zap.Error(err))
				continue
			}
			if cs.Usable() {
				return cs, s.ID
			}
			// Completed deployments may carry an empty or absent diff;
			// both are unusable, logged apart for operators.
			r.log.Debug("completed deployment has no usable change-set",
				zap.String("deployment", s.ID),
				zap.String("change_set", string(cs.State)),
			)
		}
	}
	return domain.ChangeSet{State: domain.ChangeSetAbsent}, ""
}

func (r *Recovery) applyAndPropose(ctx context.Context, deploymentID string, cs domain.ChangeSet, res *Result) error {
	dir := filepath.Join(r.workRoot(), "deployctl-"+uuid.NewString())
	if err := r.git.Clone(ctx, r.cfg.RepoURL, r.cfg.BaseBranch, dir); err != nil {
		return fmt.Errorf("clone working copy: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			r.log.Warn("working copy cleanup failed", zap.String("dir", dir), zap.Error(err))
		}
	}()

	branch, conflictResolved, err := r.createBranch(ctx, deploymentID)
	if err != nil {
		return err
	}
	res.Branch = branch
	res.ConflictResolved = conflictResolved

	if err := r.git.CreateBranch(ctx, dir, branch); err != nil {
		return fmt.Errorf("checkout branch %s: %w", branch, err)
	}

	patch, err := os.CreateTemp("", "deployctl-*.patch")
	if err != nil {
		return fmt.Errorf("create patch file: %w", err)
	}
	patchPath := patch.Name()
	defer func() {
		if err := os.Remove(patchPath); err != nil && !os.IsNotExist(err) {
			r.log.Warn("patch file cleanup failed", zap.String("path", patchPath), zap.Error(err))
		}
	}()
	if _, err := patch.WriteString(cs.Diff); err != nil {
		_ = patch.Close()
		return fmt.Errorf("write patch file: %w", err)
	}
	if err := patch.Close(); err != nil {
		return fmt.Errorf("write patch file: %w", err)
	}

	if err := r.applyPatch(ctx, dir, patchPath, deploymentID, res); err != nil {
		return err
	}

	if err := r.git.AddAll(ctx, dir); err != nil {
		return fmt.Errorf("stage changes: %w", err)
	}
	staged, err := r.git.HasStagedChanges(ctx, dir)
	if err != nil {
		return fmt.Errorf("inspect staged changes: %w", err)
	}
	if !staged {
		r.log.Info("change-set produced no changes, skipping review request",
			zap.String("deployment", deploymentID))
		res.Skipped = "change-set produced no changes"
		return nil
	}

	author := r.cfg.Actor
	if author.Name == "" || author.Email == "" {
		author = botActor
	}
	message := fmt.Sprintf("Apply recovery change-set from deployment %s", res.SourceDeploymentID)
	if err := r.git.Commit(ctx, dir, message, author); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	if err := r.git.Push(ctx, dir, branch); err != nil {
		return fmt.Errorf("push branch %s: %w", branch, err)
	}

	title := fmt.Sprintf("Automated recovery for failed deployment %s", deploymentID)
	review, err := r.host.CreatePullRequest(ctx, title, r.reviewBody(deploymentID, res), branch, r.cfg.BaseBranch)
	if err != nil {
		return fmt.Errorf("open review request: %w", err)
	}
	res.Review = &review

	r.log.Info("review request opened",
		zap.String("deployment", deploymentID),
		zap.String("branch", branch),
		zap.String("url", review.URL),
		zap.Int("number", review.Number),
	)
	return nil
}

// createBranch creates the remote ref, resolving a name collision exactly
// once by appending a timestamp suffix. Any other failure is fatal.
func (r *Recovery) createBranch(ctx context.Context, deploymentID string) (string, bool, error) {
	branch := r.cfg.BranchNamespace + "/" + deploymentID

	sha, err := r.host.BranchHead(ctx, r.cfg.BaseBranch)
	if err != nil {
		return "", false, fmt.Errorf("resolve head of %s: %w", r.cfg.BaseBranch, err)
	}

	err = r.host.CreateRef(ctx, branch, sha)
	if err == nil {
		return branch, false, nil
	}
	if domain.KindOf(err) != domain.KindRefExists {
		return "", false, fmt.Errorf("create branch %s: %w", branch, err)
	}

	suffixed := branch + "-" + r.now().UTC().Format("20060102150405")
	r.log.Warn("branch name already exists, retrying with timestamp suffix",
		zap.String("branch", branch),
		zap.String("retry", suffixed),
	)
	if err := r.host.CreateRef(ctx, suffixed, sha); err != nil {
		return "", false, fmt.Errorf("create branch %s: %w", suffixed, err)
	}
	return suffixed, true, nil
}

// applyPatch tries a strict apply first, then a reject-tolerant one. Rejected
// hunks are uploaded as a retention artifact and removed from the tree so
// they are never committed.
func (r *Recovery) applyPatch(ctx context.Context, dir, patchPath, deploymentID string, res *Result) error {
	strictErr := r.git.Apply(ctx, dir, patchPath, false)
	if strictErr == nil {
		return nil
	}

	r.log.Warn("strict patch apply failed, retrying in reject-tolerant mode",
		zap.String("deployment", deploymentID),
		zap.Error(strictErr),
	)
	if err := r.git.Apply(ctx, dir, patchPath, true); err != nil {
		return fmt.Errorf("%w: strict and reject-tolerant apply both failed: %v", domain.ErrPatchFailed, err)
	}

	// Without a scan there is no way to keep rejected hunks out of the
	// commit, so a scan failure aborts the recovery.
	tree, err := r.scanTree(dir)
	if err != nil {
		return fmt.Errorf("scan working copy for rejected hunks: %w", err)
	}
	rejects := CollectRejects(tree)
	if len(rejects) == 0 {
		return nil
	}

	paths := make([]string, len(rejects))
	for i, rel := range rejects {
		paths[i] = filepath.Join(dir, rel)
	}
	name := "rejected-hunks-" + deploymentID
	if err := r.host.UploadArtifact(ctx, name, paths, r.cfg.ArtifactLabel, r.cfg.RetentionDays); err != nil {
		r.log.Warn("uploading rejected hunks failed, they will still be excluded from the commit",
			zap.String("artifact", name), zap.Error(err))
	}
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			r.log.Warn("removing rejected hunk failed", zap.String("path", p), zap.Error(err))
		}
	}
	res.RejectedHunks = rejects
	r.log.Info("collected rejected hunks",
		zap.String("deployment", deploymentID),
		zap.Int("count", len(rejects)),
	)
	return nil
}

func (r *Recovery) reviewBody(deploymentID string, res *Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Deployment %s failed; this pull request applies the change-set from deployment %s to recover.\n",
		deploymentID, res.SourceDeploymentID)
	if res.ConflictResolved {
		fmt.Fprintf(&b, "\nThe branch name %s/%s already existed, so a timestamp suffix was appended.\n",
			r.cfg.BranchNamespace, deploymentID)
	}
	if len(res.RejectedHunks) > 0 {
		fmt.Fprintf(&b, "\n%d hunk(s) could not be applied cleanly and were uploaded as artifact %q instead of being committed:\n",
			len(res.RejectedHunks), "rejected-hunks-"+deploymentID)
		for _, p := range res.RejectedHunks {
			fmt.Fprintf(&b, "- %s\n", p)
		}
	}
	return b.String()
}

func (r *Recovery) workRoot() string {
	if r.cfg.WorkRoot != "" {
		return r.cfg.WorkRoot
	}
	return os.TempDir()
}
