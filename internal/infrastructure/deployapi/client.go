package deployapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jmellberg/deployctl/internal/domain"
)

// Wording the deployment service uses when it cannot resolve an environment
// alias. Translated into a typed kind here and nowhere else.
const aliasNotFoundMarker = "no environment matches alias"

type Client struct {
	baseUrl   string
	key       string
	projectID string
	hc        *http.Client
}

func New(baseUrl, key, projectID string, timeout time.Duration) *Client {
	tr := &http.Transport{
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		TLSHandshakeTimeout: 5 * time.Second,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		baseUrl:   trimSlash(baseUrl),
		key:       key,
		projectID: projectID,
		hc:        &http.Client{Transport: tr, Timeout: timeout},
	}
}

type statusDTO struct {
	DeploymentID    string    `json:"deploymentId"`
	DeploymentState string    `json:"deploymentState"`
	LastModifiedUtc time.Time `json:"lastModifiedUtc"`
	StatusMessages  []struct {
		Message      string    `json:"message"`
		TimestampUtc time.Time `json:"timestampUtc"`
	} `json:"deploymentStatusMessages"`
}

type summaryDTO struct {
	ID              string    `json:"deploymentId"`
	DeploymentState string    `json:"deploymentState"`
	CreatedUtc      time.Time `json:"createdUtc"`
	LastModifiedUtc time.Time `json:"lastModifiedUtc"`
}

func (c *Client) UploadArtifact(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	u := fmt.Sprintf("%s/v1/projects/%s/artifacts", c.baseUrl, c.projectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out struct {
		ArtifactID string `json:"artifactId"`
	}
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	return out.ArtifactID, nil
}

func (c *Client) StartDeployment(ctx context.Context, r domain.DeploymentRequest) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"targetEnvironmentAlias": r.TargetEnvironmentAlias,
		"artifactId":             r.ArtifactID,
		"commitMessage":          r.CommitMessage,
		"noBuildAndRestore":      r.NoBuildAndRestore,
		"skipVersionCheck":       r.SkipVersionCheck,
	})
	if err != nil {
		return "", err
	}

	u := fmt.Sprintf("%s/v1/projects/%s/deployments", c.baseUrl, c.projectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	var out struct {
		DeploymentID string `json:"deploymentId"`
	}
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	return out.DeploymentID, nil
}

func (c *Client) GetStatus(ctx context.Context, deploymentID string, since time.Time) (domain.DeploymentStatus, error) {
	u := fmt.Sprintf("%s/v1/projects/%s/deployments/%s", c.baseUrl, c.projectID, url.PathEscape(deploymentID))
	if !since.IsZero() {
		u += "?lastModifiedUtc=" + url.QueryEscape(since.UTC().Format(time.RFC3339Nano))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return domain.DeploymentStatus{}, err
	}

	var dto statusDTO
	if err := c.do(req, &dto); err != nil {
		return domain.DeploymentStatus{}, err
	}

	out := domain.DeploymentStatus{
		DeploymentID: dto.DeploymentID,
		State:        mapState(dto.DeploymentState),
		ModifiedUtc:  dto.LastModifiedUtc,
	}
	for _, m := range dto.StatusMessages {
		out.StatusMessages = append(out.StatusMessages, domain.StatusMessage{
			Message:      m.Message,
			TimestampUtc: m.TimestampUtc,
		})
	}
	return out, nil
}

// GetChanges probes the change-set endpoint. A 204 means the service holds no
// content for this deployment; a 200 with an empty body is a present-but-empty
// diff. The two are reported apart.
func (c *Client) GetChanges(ctx context.Context, deploymentID, alias string) (domain.ChangeSet, error) {
	u := fmt.Sprintf("%s/v1/projects/%s/deployments/%s/diff?targetEnvironmentAlias=%s",
		c.baseUrl, c.projectID, url.PathEscape(deploymentID), url.QueryEscape(alias))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return domain.ChangeSet{}, err
	}
	req.Header.Set("Api-Key", c.key)

	resp, err := c.hc.Do(req)
	if err != nil {
		return domain.ChangeSet{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNoContent {
		return domain.ChangeSet{DeploymentID: deploymentID, State: domain.ChangeSetAbsent}, nil
	}
	if resp.StatusCode >= 300 {
		return domain.ChangeSet{}, classify(resp)
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.ChangeSet{}, err
	}
	cs := domain.ChangeSet{DeploymentID: deploymentID, Diff: string(b)}
	if strings.TrimSpace(cs.Diff) == "" {
		cs.State = domain.ChangeSetEmpty
	} else {
		cs.State = domain.ChangeSetPresent
	}
	return cs, nil
}

func (c *Client) ListDeployments(ctx context.Context, skip, take int) ([]domain.DeploymentSummary, error) {
	u := fmt.Sprintf("%s/v1/projects/%s/deployments?skip=%d&take=%d", c.baseUrl, c.projectID, skip, take)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	var dto struct {
		Deployments []summaryDTO `json:"deployments"`
		TotalItems  int          `json:"totalItems"`
	}
	if err := c.do(req, &dto); err != nil {
		return nil, err
	}

	out := make([]domain.DeploymentSummary, 0, len(dto.Deployments))
	for _, d := range dto.Deployments {
		out = append(out, domain.DeploymentSummary{
			ID:       d.ID,
			State:    mapState(d.DeploymentState),
			Created:  d.CreatedUtc,
			Modified: d.LastModifiedUtc,
		})
	}
	return out, nil
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Api-Key", c.key)

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return classify(resp)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// classify turns a non-success response into a typed RemoteError. This is the
// only place the deployment service's status codes and wording are inspected.
func classify(resp *http.Response) *domain.RemoteError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = resp.Status
	}

	re := &domain.RemoteError{Status: resp.StatusCode, Message: msg}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		re.Kind = domain.KindRateLimited
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if sec, _ := strconv.Atoi(ra); sec > 0 {
				re.RetryAfter = time.Duration(sec) * time.Second
			}
		}
	// The unknown-alias condition is keyed to the message wording, not a
	// status code; the service has been seen wrapping it in 400s and 404s.
	case strings.Contains(strings.ToLower(msg), aliasNotFoundMarker):
		re.Kind = domain.KindUnknownAlias
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		re.Kind = domain.KindUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		re.Kind = domain.KindNotFound
	case resp.StatusCode >= 500:
		re.Kind = domain.KindTransient
	default:
		re.Kind = domain.KindUnknown
	}
	return re
}

func mapState(s string) domain.DeploymentState {
	switch s {
	case "Pending":
		return domain.StatePending
	case "Queued":
		return domain.StateQueued
	case "InProgress":
		return domain.StateInProgress
	case "Completed":
		return domain.StateCompleted
	case "Failed":
		return domain.StateFailed
	default:
		return domain.StateUnknown
	}
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
