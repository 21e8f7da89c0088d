package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_FromYAMLAndEnvOverride(t *testing.T) {
	tmp := t.TempDir()
	cfgFile := filepath.Join(tmp, "config.yaml")

	yaml := `
api:
  base_url: https://deploy.example.com
  key: key-yaml
  project_id: proj-1

deploy:
  target_alias: Staging

source:
  token: token-yaml
  repo: octo/website
  repo_url: https://example.com/octo/website.git
`
	if err := os.WriteFile(cfgFile, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	os.Setenv("DEPLOY_API_KEY", "key-env")
	defer os.Unsetenv("DEPLOY_API_KEY")

	c, err := Load(cfgFile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if c.API.Key != "key-env" {
		t.Errorf("env override failed, got %s", c.API.Key)
	}
	if c.Deploy.TargetAlias != "Staging" {
		t.Errorf("yaml value lost, got %s", c.Deploy.TargetAlias)
	}
	if c.Deploy.PollInterval != 15*time.Second {
		t.Errorf("default poll interval lost, got %v", c.Deploy.PollInterval)
	}
	if c.Recovery.BranchNamespace != "deploy-recovery" {
		t.Errorf("default lost, got %s", c.Recovery.BranchNamespace)
	}
	if err := c.ValidateSource(); err != nil {
		t.Errorf("source settings should validate: %v", err)
	}
}

func TestLoad_MissingRequiredSettings(t *testing.T) {
	for _, k := range []string{"DEPLOY_BASE_URL", "DEPLOY_API_KEY", "DEPLOY_PROJECT_ID", "DEPLOY_TARGET_ALIAS"} {
		os.Unsetenv(k)
	}
	if _, err := Load(""); err == nil {
		t.Fatal("expected an error without required settings")
	}
}

func TestValidateSource(t *testing.T) {
	var c Config
	if err := c.ValidateSource(); err == nil {
		t.Error("empty source settings must not validate")
	}
	c.Source.Token = "t"
	c.Source.Repo = "nodash"
	c.Source.RepoURL = "https://example.com/x.git"
	if err := c.ValidateSource(); err == nil {
		t.Error("repo without owner/name must not validate")
	}
	c.Source.Repo = "octo/website"
	if err := c.ValidateSource(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "config.yaml")

	var c Config
	c.API.BaseURL = "https://deploy.example.com"
	c.API.Key = "k"
	c.API.ProjectID = "p"
	c.Deploy.TargetAlias = "live"

	if err := Save(path, c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded.API.BaseURL != c.API.BaseURL || loaded.Deploy.TargetAlias != c.Deploy.TargetAlias {
		t.Errorf("round trip lost values: %+v", loaded)
	}
}
