package notion_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/mentionist/pkg/service/notion"
)

func TestNew(t *testing.T) {
	t.Run("returns error when token is empty", func(t *testing.T) {
		_, err := notion.New("")
		gt.Error(t, err)
	})

	t.Run("creates service when token is provided", func(t *testing.T) {
		svc, err := notion.New("test-token")
		gt.NoError(t, err).Required()
		gt.Value(t, svc).NotNil()
	})
}

// rewriteTransport sends every request to the test server
type rewriteTransport struct {
	target *url.URL
}

func (rt *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.URL.Scheme = rt.target.Scheme
	req.URL.Host = rt.target.Host
	return http.DefaultTransport.RoundTrip(req)
}

func newTestService(t *testing.T, handler http.HandlerFunc) notion.Service {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	target, err := url.Parse(srv.URL)
	gt.NoError(t, err).Required()

	svc, err := notion.New("secret_test",
		notion.WithHTTPClient(&http.Client{Transport: &rewriteTransport{target: target}}),
	)
	gt.NoError(t, err).Required()
	return svc
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	gt.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestLookupUsers(t *testing.T) {
	const knownID = "6794760a-1f15-45cd-9c65-0dfe42f5135a"

	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/users/"+knownID) {
			writeJSON(t, w, http.StatusOK, map[string]any{
				"object":     "user",
				"id":         knownID,
				"type":       "person",
				"name":       "Ada Lovelace",
				"avatar_url": "https://example.com/ada.png",
				"person":     map[string]any{"email": "ada@example.com"},
			})
			return
		}
		writeJSON(t, w, http.StatusNotFound, map[string]any{
			"object":  "error",
			"status":  404,
			"code":    "object_not_found",
			"message": "Could not find user",
		})
	})

	users, err := svc.LookupUsers(context.Background(), "notion-eng", []string{knownID, "00000000-0000-0000-0000-000000000000"})
	gt.NoError(t, err).Required()
	gt.Array(t, users).Length(1).Required()
	gt.Value(t, string(users[0].ID)).Equal(knownID)
	gt.Value(t, users[0].FullName).Equal("Ada Lovelace")
	gt.Value(t, users[0].AvatarURL).Equal("https://example.com/ada.png")
}

func TestLookupUsers_ServerError(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusInternalServerError, map[string]any{
			"object":  "error",
			"status":  500,
			"code":    "internal_server_error",
			"message": "boom",
		})
	})

	_, err := svc.LookupUsers(context.Background(), "notion-eng", []string{"6794760a-1f15-45cd-9c65-0dfe42f5135a"})
	gt.Error(t, err)
}

func TestListUsers(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{
			"object": "list",
			"results": []map[string]any{
				{"object": "user", "id": "6794760a-1f15-45cd-9c65-0dfe42f5135a", "type": "person", "name": "Ada", "person": map[string]any{"email": "ada@example.com"}},
				{"object": "user", "id": "92a680bb-6970-4726-952b-4f4c03bff617", "type": "bot", "name": "Integration", "bot": map[string]any{}},
			},
			"has_more":    false,
			"next_cursor": nil,
		})
	})

	users, err := svc.ListUsers(context.Background())
	gt.NoError(t, err).Required()
	gt.Array(t, users).Length(1).Required()
	gt.Value(t, users[0].Name).Equal("Ada")
}

func TestIntegration(t *testing.T) {
	token := os.Getenv("TEST_NOTION_API_TOKEN")
	if token == "" {
		t.Skip("TEST_NOTION_API_TOKEN is not set")
	}

	svc, err := notion.New(token)
	gt.NoError(t, err).Required()

	users, err := svc.ListUsers(context.Background())
	gt.NoError(t, err).Required()
	t.Logf("found %d Notion users", len(users))
}
