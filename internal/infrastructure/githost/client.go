package githost

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

// Wording the host returns when a ref name collides. Translated into a typed
// kind here and nowhere else.
const refExistsMarker = "reference already exists"

type Client struct {
	apiUrl string
	token  string
	owner  string
	repo   string
	hc     *http.Client
}

// New builds a client for one repository, given as "owner/name".
func New(apiUrl, token, repoSlug string, timeout time.Duration) (*Client, error) {
	owner, repo, ok := strings.Cut(repoSlug, "/")
	if !ok || owner == "" || repo == "" {
		return nil, fmt.Errorf("repository must be owner/name, got %q", repoSlug)
	}

	tr := &http.Transport{
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		TLSHandshakeTimeout: 5 * time.Second,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		apiUrl: trimSlash(apiUrl),
		token:  token,
		owner:  owner,
		repo:   repo,
		hc:     &http.Client{Transport: tr, Timeout: timeout},
	}, nil
}

func (c *Client) BranchHead(ctx context.Context, branch string) (string, error) {
	u := fmt.Sprintf("%s/repos/%s/%s/branches/%s", c.apiUrl, c.owner, c.repo, url.PathEscape(branch))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}

	var out struct {
		Commit struct {
			SHA string `json:"sha"`
		} `json:"commit"`
	}
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	if out.Commit.SHA == "" {
		return "", fmt.Errorf("branch %s has no head commit", branch)
	}
	return out.Commit.SHA, nil
}

func (c *Client) CreateRef(ctx context.Context, branch, sha string) error {
	payload, err := json.Marshal(map[string]string{
		"ref": "refs/heads/" + branch,
		"sha": sha,
	})
	if err != nil {
		return err
	}

	u := fmt.Sprintf("%s/repos/%s/%s/git/refs", c.apiUrl, c.owner, c.repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, nil)
}

func (c *Client) CreatePullRequest(ctx context.Context, title, body, head, base string) (domain.ReviewRequest, error) {
	payload, err := json.Marshal(map[string]string{
		"title": title,
		"body":  body,
		"head":  head,
		"base":  base,
	})
	if err != nil {
		return domain.ReviewRequest{}, err
	}

	u := fmt.Sprintf("%s/repos/%s/%s/pulls", c.apiUrl, c.owner, c.repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return domain.ReviewRequest{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var out struct {
		HTMLURL string `json:"html_url"`
		Number  int    `json:"number"`
	}
	if err := c.do(req, &out); err != nil {
		return domain.ReviewRequest{}, err
	}

	return domain.ReviewRequest{
		Branch: head,
		Title:  title,
		Body:   body,
		Base:   base,
		URL:    out.HTMLURL,
		Number: out.Number,
	}, nil
}

// UploadArtifact ships the given files as one named, time-limited retention
// artifact attached to the repository.
func (c *Client) UploadArtifact(ctx context.Context, name string, paths []string, label string, retentionDays int) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if err := mw.WriteField("name", name); err != nil {
		return err
	}
	if err := mw.WriteField("label", label); err != nil {
		return err
	}
	if err := mw.WriteField("retention_days", strconv.Itoa(retentionDays)); err != nil {
		return err
	}
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		part, err := mw.CreateFormFile("files", filepath.Base(p))
		if err == nil {
			_, err = io.Copy(part, f)
		}
		_ = f.Close()
		if err != nil {
			return err
		}
	}
	if err := mw.Close(); err != nil {
		return err
	}

	u := fmt.Sprintf("%s/repos/%s/%s/artifacts", c.apiUrl, c.owner, c.repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	return c.do(req, nil)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github+json")

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
	case strings.Contains(strings.ToLower(msg), refExistsMarker):
		re.Kind = domain.KindRefExists
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

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
