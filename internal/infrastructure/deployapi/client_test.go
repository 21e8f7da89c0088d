package deployapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jmellberg/deployctl/internal/domain"
)

func TestStartDeployment_SendsRequestAndParsesID(t *testing.T) {
	var gotBody map[string]any
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Api-Key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"deploymentId":"dep-42"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", "proj-1", 5*time.Second)
	id, err := c.StartDeployment(context.Background(), domain.DeploymentRequest{
		TargetEnvironmentAlias: "staging",
		ArtifactID:             "art-1",
		CommitMessage:          "ship",
		SkipVersionCheck:       true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "dep-42" {
		t.Errorf("id = %q", id)
	}
	if gotKey != "secret" {
		t.Errorf("api key not sent, got %q", gotKey)
	}
	if gotBody["targetEnvironmentAlias"] != "staging" || gotBody["artifactId"] != "art-1" {
		t.Errorf("unexpected body %v", gotBody)
	}
	if gotBody["skipVersionCheck"] != true {
		t.Errorf("flags lost: %v", gotBody)
	}
}

func TestStartDeployment_ClassifiesUnknownAlias(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`No environment matches alias "Staging"`))
	}))
	defer srv.Close()

	c := New(srv.URL, "k", "p", 5*time.Second)
	_, err := c.StartDeployment(context.Background(), domain.DeploymentRequest{TargetEnvironmentAlias: "Staging"})
	if domain.KindOf(err) != domain.KindUnknownAlias {
		t.Errorf("expected unknown-alias kind, got %v (%v)", domain.KindOf(err), err)
	}
}

func TestStartDeployment_UnknownAliasWinsOverStatusCode(t *testing.T) {
	// Some service fronts deliver the alias message with a 404 or 401; the
	// wording decides, so the canonicalization retry still gets its signal.
	for _, status := range []int{http.StatusNotFound, http.StatusUnauthorized, http.StatusBadGateway} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`No environment matches alias "Staging"`))
		}))

		c := New(srv.URL, "k", "p", 5*time.Second)
		_, err := c.StartDeployment(context.Background(), domain.DeploymentRequest{TargetEnvironmentAlias: "Staging"})
		if domain.KindOf(err) != domain.KindUnknownAlias {
			t.Errorf("status %d: expected unknown-alias kind, got %v (%v)", status, domain.KindOf(err), err)
		}
		srv.Close()
	}
}

func TestClassify_RateLimitWithRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(srv.URL, "k", "p", 5*time.Second)
	_, err := c.GetStatus(context.Background(), "dep-1", time.Time{})
	if domain.KindOf(err) != domain.KindRateLimited {
		t.Fatalf("expected rate-limited kind, got %v", err)
	}
	if got := domain.RetryAfterOf(err); got != 7*time.Second {
		t.Errorf("retry-after = %v", got)
	}
}

func TestGetStatus_CursorParamAndMapping(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("lastModifiedUtc")
		_, _ = w.Write([]byte(`{
			"deploymentId": "dep-1",
			"deploymentState": "InProgress",
			"lastModifiedUtc": "2026-03-01T10:00:00Z",
			"deploymentStatusMessages": [
				{"message": "restoring", "timestampUtc": "2026-03-01T09:59:00Z"}
			]
		}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "k", "p", 5*time.Second)
	since := time.Date(2026, 3, 1, 9, 58, 0, 0, time.UTC)
	status, err := c.GetStatus(context.Background(), "dep-1", since)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotQuery == "" {
		t.Error("cursor query parameter missing")
	}
	if status.State != domain.StateInProgress {
		t.Errorf("state = %s", status.State)
	}
	if len(status.StatusMessages) != 1 || status.StatusMessages[0].Message != "restoring" {
		t.Errorf("messages = %+v", status.StatusMessages)
	}
	if status.ModifiedUtc.IsZero() {
		t.Error("cursor not parsed")
	}
}

func TestGetChanges_DistinguishesAbsentEmptyPresent(t *testing.T) {
	mode := "absent"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch mode {
		case "absent":
			w.WriteHeader(http.StatusNoContent)
		case "empty":
			w.WriteHeader(http.StatusOK)
		default:
			_, _ = w.Write([]byte("--- a/x\n+++ b/x\n"))
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "k", "p", 5*time.Second)

	cs, err := c.GetChanges(context.Background(), "dep-1", "staging")
	if err != nil || cs.State != domain.ChangeSetAbsent {
		t.Errorf("absent: state=%s err=%v", cs.State, err)
	}

	mode = "empty"
	cs, err = c.GetChanges(context.Background(), "dep-1", "staging")
	if err != nil || cs.State != domain.ChangeSetEmpty {
		t.Errorf("empty: state=%s err=%v", cs.State, err)
	}

	mode = "present"
	cs, err = c.GetChanges(context.Background(), "dep-1", "staging")
	if err != nil || cs.State != domain.ChangeSetPresent || cs.Diff == "" {
		t.Errorf("present: state=%s err=%v", cs.State, err)
	}
}

func TestListDeployments_Pagination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("skip") != "20" || r.URL.Query().Get("take") != "10" {
			t.Errorf("unexpected paging params: %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{
			"deployments": [
				{"deploymentId": "dep-9", "deploymentState": "Completed", "lastModifiedUtc": "2026-03-01T10:00:00Z"}
			],
			"totalItems": 21
		}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "k", "p", 5*time.Second)
	got, err := c.ListDeployments(context.Background(), 20, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "dep-9" || got[0].State != domain.StateCompleted {
		t.Errorf("got %+v", got)
	}
}
