package output_fs

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/jmellberg/deployctl/internal/domain"
)

type Writer struct {
	path string
}

func New(path string) *Writer { return &Writer{path: path} }

func (w *Writer) Write(_ context.Context, o domain.Outputs) error {
	if w.path == "" {
		return errors.New("outputs path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return err
	}

	f, err := os.Create(w.path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	type out struct {
		DeploymentID   string `json:"deployment_id"`
		State          string `json:"state"`
		ChangeSetState string `json:"change_set_state,omitempty"`
		RecoveryBranch string `json:"recovery_branch,omitempty"`
		ReviewURL      string `json:"review_url,omitempty"`
		ReviewNumber   int    `json:"review_number,omitempty"`
		Retrieved      int64  `json:"retrieved"`
	}

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")

	return enc.Encode(out{
		DeploymentID:   o.DeploymentID,
		State:          string(o.State),
		ChangeSetState: string(o.ChangeSetState),
		RecoveryBranch: o.RecoveryBranch,
		ReviewURL:      o.ReviewURL,
		ReviewNumber:   o.ReviewNumber,
		Retrieved:      o.Retrieved,
	})
}
