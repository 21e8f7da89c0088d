package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	API struct {
		BaseURL   string        `yaml:"base_url"`
		Key       string        `yaml:"key"`
		ProjectID string        `yaml:"project_id"`
		Timeout   time.Duration `yaml:"timeout"`
	} `yaml:"api"`

	Deploy struct {
		TargetAlias       string        `yaml:"target_alias"`
		CommitMessage     string        `yaml:"commit_message"`
		NoBuildAndRestore bool          `yaml:"no_build_and_restore"`
		SkipVersionCheck  bool          `yaml:"skip_version_check"`
		PollInterval      time.Duration `yaml:"poll_interval"`
		Timeout           time.Duration `yaml:"timeout"`
		CancelFile        string        `yaml:"cancel_file"`
	} `yaml:"deploy"`

	Source struct {
		APIURL     string `yaml:"api_url"`
		Token      string `yaml:"token"`
		Repo       string `yaml:"repo"`
		RepoURL    string `yaml:"repo_url"`
		BaseBranch string `yaml:"base_branch"`
		ActorName  string `yaml:"actor_name"`
		ActorEmail string `yaml:"actor_email"`
	} `yaml:"source"`

	Recovery struct {
		BranchNamespace string `yaml:"branch_namespace"`
		PageLimit       int    `yaml:"page_limit"`
		PageSize        int    `yaml:"page_size"`
		RetentionDays   int    `yaml:"retention_days"`
		ArtifactLabel   string `yaml:"artifact_label"`
		WorkRoot        string `yaml:"work_root"`
	} `yaml:"recovery"`

	RateLimit struct {
		BaseDelay   time.Duration `yaml:"base_delay"`
		MaxAttempts int           `yaml:"max_attempts"`
	} `yaml:"rate_limit"`

	Outputs struct {
		Path string `yaml:"path"`
	} `yaml:"outputs"`
}

func Load(path string) (Config, error) {
	var c Config

	c.API.Timeout = 30 * time.Second
	c.Deploy.PollInterval = 15 * time.Second
	c.Deploy.Timeout = 45 * time.Minute
	c.Deploy.CommitMessage = "Deploy via deployctl"
	c.Source.APIURL = "https://api.github.com"
	c.Source.BaseBranch = "main"
	c.Recovery.BranchNamespace = "deploy-recovery"
	c.Recovery.PageLimit = 5
	c.Recovery.PageSize = 20
	c.Recovery.RetentionDays = 7
	c.Recovery.ArtifactLabel = "patch-rejects"
	c.RateLimit.BaseDelay = 2 * time.Second
	c.RateLimit.MaxAttempts = 5
	c.Outputs.Path = expandHome("~/.cache/deployctl/outputs.json")

	if path != "" {
		if b, err := os.ReadFile(path); err == nil {
			_ = yaml.Unmarshal(b, &c)
		}
	}

	if v := os.Getenv("DEPLOY_BASE_URL"); v != "" {
		c.API.BaseURL = v
	}

	if v := os.Getenv("DEPLOY_API_KEY"); v != "" {
		c.API.Key = v
	}

	if v := os.Getenv("DEPLOY_PROJECT_ID"); v != "" {
		c.API.ProjectID = v
	}

	if v := os.Getenv("DEPLOY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.API.Timeout = d
		}
	}

	if v := os.Getenv("DEPLOY_TARGET_ALIAS"); v != "" {
		c.Deploy.TargetAlias = v
	}

	if v := os.Getenv("DEPLOY_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Deploy.PollInterval = d
		}
	}

	if v := os.Getenv("DEPLOY_POLL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Deploy.Timeout = d
		}
	}

	if v := os.Getenv("SOURCE_TOKEN"); v != "" {
		c.Source.Token = v
	}

	if v := os.Getenv("SOURCE_REPO"); v != "" {
		c.Source.Repo = v
	}

	if v := os.Getenv("SOURCE_REPO_URL"); v != "" {
		c.Source.RepoURL = v
	}

	if v := os.Getenv("SOURCE_ACTOR"); v != "" {
		c.Source.ActorName = v
	}

	if v := os.Getenv("SOURCE_ACTOR_EMAIL"); v != "" {
		c.Source.ActorEmail = v
	}

	if v := os.Getenv("OUTPUTS_PATH"); v != "" {
		c.Outputs.Path = v
	}

	if v := os.Getenv("RATE_LIMIT_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.RateLimit.MaxAttempts = n
		}
	}

	c.Outputs.Path = expandHome(c.Outputs.Path)
	c.Recovery.WorkRoot = expandHome(c.Recovery.WorkRoot)

	if c.Deploy.PollInterval <= 0 {
		c.Deploy.PollInterval = 15 * time.Second
	}

	if c.Deploy.Timeout <= 0 {
		c.Deploy.Timeout = 45 * time.Minute
	}

	if c.API.Timeout <= 0 {
		c.API.Timeout = 30 * time.Second
	}

	if c.API.BaseURL == "" {
		return c, errors.New("DEPLOY_BASE_URL is required")
	}

	if c.API.Key == "" {
		return c, errors.New("DEPLOY_API_KEY is required")
	}

	if c.API.ProjectID == "" {
		return c, errors.New("DEPLOY_PROJECT_ID is required")
	}

	if c.Deploy.TargetAlias == "" {
		return c, errors.New("DEPLOY_TARGET_ALIAS is required")
	}

	return c, nil
}

// ValidateSource checks the settings only the recovery path needs; the
// read-only commands work without them.
func (c Config) ValidateSource() error {
	if c.Source.Token == "" {
		return errors.New("SOURCE_TOKEN is required for recovery")
	}
	if c.Source.Repo == "" || !strings.Contains(c.Source.Repo, "/") {
		return errors.New("SOURCE_REPO must be set as owner/name")
	}
	if c.Source.RepoURL == "" {
		return errors.New("SOURCE_REPO_URL is required for recovery")
	}
	return nil
}

func Save(path string, c Config) error {
	if path == "" {
		return errors.New("empty config path")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	lockFile := path + ".lock"
	lf, err := os.OpenFile(lockFile, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return err
	}
	defer func() { _ = lf.Close() }()

	if runtime.GOOS != "windows" {
		if err := syscall.Flock(int(lf.Fd()), syscall.LOCK_EX); err != nil {
			return err
		}
		defer func() { _ = syscall.Flock(int(lf.Fd()), syscall.LOCK_UN) }()
	}

	b, err := yaml.Marshal(&c)
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	defer func() { _ = f.Close() }()

	if _, err := f.Write(b); err != nil {
		return err
	}

	if err := f.Sync(); err != nil {
		return err
	}

	return os.Rename(tmp, path)
}

func expandHome(p string) string {
	if strings.HasPrefix(p, "~/") {
		if h, _ := os.UserHomeDir(); h != "" {
			return h + p[1:]
		}
	}
	return p
}
