package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmellberg/deployctl/internal/domain"
	"go.uber.org/zap"
)

func driverFixture(client *domain.MockDeployClient) (*Driver, *domain.MockOutputSink) {
	log := zap.NewNop()
	outputs := &domain.MockOutputSink{}
	rec := NewRecovery(log, client, &domain.MockSourceHost{}, &domain.MockGitRunner{}, RecoveryConfig{
		RepoURL:    "https://example.test/repo.git",
		BaseBranch: "main",
	})
	d := NewDriver(log, client, NewPoller(log, client), rec, outputs, DriverConfig{
		EnvironmentAlias: "staging",
		CommitMessage:    "ship it",
		MaxDuration:      time.Second,
		PollInterval:     time.Millisecond,
		RateLimitBase:    time.Millisecond,
	})
	return d, outputs
}

func TestDriver_CompletedRunSurfacesChangeSet(t *testing.T) {
	client := &domain.MockDeployClient{
		ArtifactID:   "art-1",
		DeploymentID: "dep-1",
		Statuses: []domain.DeploymentStatus{
			{DeploymentID: "dep-1", State: domain.StateCompleted, ModifiedUtc: time.Now()},
		},
		Changes: map[string]domain.ChangeSet{
			"dep-1": {DeploymentID: "dep-1", Diff: "--- a/x\n", State: domain.ChangeSetPresent},
		},
	}
	d, outputs := driverFixture(client)

	res, err := d.Run(context.Background(), "site.zip")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ArtifactID != "art-1" || res.DeploymentID != "dep-1" {
		t.Errorf("identifier threading broken: %+v", res)
	}
	if res.ChangeSet == nil || res.ChangeSet.State != domain.ChangeSetPresent {
		t.Errorf("expected the change-set to be surfaced, got %+v", res.ChangeSet)
	}
	if len(client.StartedWith) != 1 || client.StartedWith[0].ArtifactID != "art-1" {
		t.Errorf("deployment must be started with the uploaded artifact id, got %+v", client.StartedWith)
	}
	if len(outputs.Written) != 1 || outputs.Written[0].State != domain.StateCompleted {
		t.Errorf("expected outputs written once with the terminal state, got %+v", outputs.Written)
	}
}

func TestDriver_MissingArtifactIDIsFatal(t *testing.T) {
	client := &domain.MockDeployClient{ArtifactID: ""}
	d, outputs := driverFixture(client)

	_, err := d.Run(context.Background(), "site.zip")
	if err == nil {
		t.Fatal("expected error")
	}
	if len(client.StartedWith) != 0 {
		t.Error("deployment must not be started without an artifact id")
	}
	if len(outputs.Written) != 1 {
		t.Error("outputs must be written even on early failure")
	}
}

func TestDriver_UploadErrorIsFatal(t *testing.T) {
	client := &domain.MockDeployClient{UploadErr: errors.New("disk on fire")}
	d, _ := driverFixture(client)

	_, err := d.Run(context.Background(), "site.zip")
	if err == nil {
		t.Fatal("expected error")
	}
	if len(client.StartedWith) != 0 {
		t.Error("no continuation expected past a failed upload")
	}
}

func TestDriver_FailedDeploymentTriggersRecovery(t *testing.T) {
	client := &domain.MockDeployClient{
		ArtifactID:   "art-1",
		DeploymentID: "dep-1",
		Statuses: []domain.DeploymentStatus{
			failedStatus("dep-1", "NuGet said error NU1301, unable to load the service index"),
		},
	}
	d, outputs := driverFixture(client)

	res, err := d.Run(context.Background(), "site.zip")
	if !errors.Is(err, ErrDeploymentFailed) {
		t.Fatalf("expected deployment-failed error, got %v", err)
	}
	if res.Recovery == nil {
		t.Fatal("expected a recovery result")
	}
	if res.Recovery.Skipped == "" {
		t.Error("restore-failure detail should have skipped the recovery attempt")
	}
	if len(outputs.Written) != 1 || outputs.Written[0].State != domain.StateFailed {
		t.Errorf("expected failed state in outputs, got %+v", outputs.Written)
	}
}

func TestDriver_TimeoutPropagates(t *testing.T) {
	client := &domain.MockDeployClient{
		ArtifactID:   "art-1",
		DeploymentID: "dep-1",
		Statuses: []domain.DeploymentStatus{
			{DeploymentID: "dep-1", State: domain.StateInProgress, ModifiedUtc: time.Now()},
		},
	}
	d, _ := driverFixture(client)
	d.cfg.MaxDuration = 20 * time.Millisecond
	d.cfg.PollInterval = 5 * time.Millisecond

	_, err := d.Run(context.Background(), "site.zip")
	if !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}
