package githost

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/jmellberg/deployctl/internal/domain"
)

func newClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := New(url, "tok", "octo/website", 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestNew_RejectsBadSlug(t *testing.T) {
	if _, err := New("https://api.example.com", "tok", "nodash", time.Second); err == nil {
		t.Error("expected error for slug without owner")
	}
}

func TestBranchHead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/octo/website/branches/main" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing auth header")
		}
		_, _ = w.Write([]byte(`{"commit": {"sha": "abc123"}}`))
	}))
	defer srv.Close()

	sha, err := newClient(t, srv.URL).BranchHead(context.Background(), "main")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sha != "abc123" {
		t.Errorf("sha = %q", sha)
	}
}

func TestCreateRef_ClassifiesCollision(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message": "Reference already exists"}`))
	}))
	defer srv.Close()

	err := newClient(t, srv.URL).CreateRef(context.Background(), "deploy-recovery/dep-1", "abc123")
	if domain.KindOf(err) != domain.KindRefExists {
		t.Errorf("expected ref-exists kind, got %v (%v)", domain.KindOf(err), err)
	}
}

func TestCreateRef_SendsRefAndSHA(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	if err := newClient(t, srv.URL).CreateRef(context.Background(), "b1", "abc"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["ref"] != "refs/heads/b1" || got["sha"] != "abc" {
		t.Errorf("unexpected payload %v", got)
	}
}

func TestCreatePullRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["head"] != "fix" || body["base"] != "main" {
			t.Errorf("unexpected payload %v", body)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"html_url": "https://example.com/pr/12", "number": 12}`))
	}))
	defer srv.Close()

	rr, err := newClient(t, srv.URL).CreatePullRequest(context.Background(), "t", "b", "fix", "main")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rr.URL != "https://example.com/pr/12" || rr.Number != 12 {
		t.Errorf("got %+v", rr)
	}
}

func TestUploadArtifact_SendsAllFiles(t *testing.T) {
	dir := t.TempDir()
	paths := make([]string, 2)
	for i, name := range []string{"a.rej", "b.rej"} {
		p := dir + "/" + name
		if err := writeFile(p, "hunk"); err != nil {
			t.Fatal(err)
		}
		paths[i] = p
	}

	var fileCount int
	var name, retention string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatal(err)
		}
		name = r.FormValue("name")
		retention = r.FormValue("retention_days")
		fileCount = len(r.MultipartForm.File["files"])
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	err := newClient(t, srv.URL).UploadArtifact(context.Background(), "rejected-hunks-dep-1", paths, "patch-rejects", 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fileCount != 2 {
		t.Errorf("expected 2 files, got %d", fileCount)
	}
	if name != "rejected-hunks-dep-1" || retention != "7" {
		t.Errorf("metadata lost: name=%q retention=%q", name, retention)
	}
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
