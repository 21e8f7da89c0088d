package cli

import (
	"github.com/jmellberg/deployctl/internal/application"
	"github.com/jmellberg/deployctl/internal/domain"
	"github.com/jmellberg/deployctl/internal/infrastructure/config"
	"github.com/jmellberg/deployctl/internal/infrastructure/deployapi"
	"github.com/jmellberg/deployctl/internal/infrastructure/githost"
	"github.com/jmellberg/deployctl/internal/infrastructure/gitexec"
	"go.uber.org/zap"
)

func newDeployClient(cfg config.Config) *deployapi.Client {
	return deployapi.New(cfg.API.BaseURL, cfg.API.Key, cfg.API.ProjectID, cfg.API.Timeout)
}

func newRecovery(log *zap.Logger, cfg config.Config, client domain.DeployClient) (*application.Recovery, error) {
	if err := cfg.ValidateSource(); err != nil {
		return nil, err
	}
	host, err := githost.New(cfg.Source.APIURL, cfg.Source.Token, cfg.Source.Repo, cfg.API.Timeout)
	if err != nil {
		return nil, err
	}
	return application.NewRecovery(log, client, host, gitexec.New(), application.RecoveryConfig{
		RepoURL:          cfg.Source.RepoURL,
		BaseBranch:       cfg.Source.BaseBranch,
		EnvironmentAlias: cfg.Deploy.TargetAlias,
		BranchNamespace:  cfg.Recovery.BranchNamespace,
		Actor:            domain.Actor{Name: cfg.Source.ActorName, Email: cfg.Source.ActorEmail},
		PageLimit:        cfg.Recovery.PageLimit,
		PageSize:         cfg.Recovery.PageSize,
		RetentionDays:    cfg.Recovery.RetentionDays,
		ArtifactLabel:    cfg.Recovery.ArtifactLabel,
		WorkRoot:         cfg.Recovery.WorkRoot,
	}), nil
}
