package rest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vthunder/temple/internal/broker"
	"github.com/vthunder/temple/internal/config"
)

type testEmbedder struct{}

func (testEmbedder) Embed(text string) ([]float64, error) {
	v := make([]float64, 16)
	word := 0
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c == ' ' || c == '.' || c == ',' {
			if word != 0 {
				v[word%16]++
				word = 0
			}
			continue
		}
		word += int(c)
	}
	if word != 0 {
		v[word%16]++
	}
	return v, nil
}

func setupServer(t *testing.T, apiKey string) *Server {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.DataDir = dir
	cfg.VectorDBPath = filepath.Join(dir, "vectors.db")
	cfg.GraphDBPath = filepath.Join(dir, "graph.db")
	cfg.AuditDir = filepath.Join(dir, "audit")
	cfg.JobsPath = filepath.Join(dir, "jobs.json")

	b, err := broker.New(cfg, testEmbedder{}, nil)
	if err != nil {
		t.Fatalf("broker.New: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return NewServer(b, apiKey)
}

func doJSON(t *testing.T, s *Server, method, path, body, apiKey string) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := s.App().Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	var decoded map[string]any
	if len(raw) > 0 {
		json.Unmarshal(raw, &decoded)
	}
	return resp, decoded
}

func TestBearerAuth(t *testing.T) {
	s := setupServer(t, "secret")

	resp, _ := doJSON(t, s, "GET", "/api/v1/context", "", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("missing token status = %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, s, "GET", "/api/v1/context", "", "wrong")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad token status = %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, s, "GET", "/api/v1/context", "", "secret")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("valid token status = %d", resp.StatusCode)
	}

	// Health stays open.
	resp, _ = doJSON(t, s, "GET", "/health", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}
}

func TestAuthDisabledWithoutKey(t *testing.T) {
	s := setupServer(t, "")
	resp, _ := doJSON(t, s, "GET", "/api/v1/context", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestStoreMemoryEndpoint(t *testing.T) {
	s := setupServer(t, "")

	resp, body := doJSON(t, s, "POST", "/api/v1/memories",
		`{"content": "deploy checklist", "tags": ["ops"], "scope": "global"}`, "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, body)
	}
	mem := body["memory"].(map[string]any)
	id := mem["id"].(string)

	// Same content is idempotent, not a second create.
	resp, _ = doJSON(t, s, "POST", "/api/v1/memories",
		`{"content": "deploy checklist", "scope": "global"}`, "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("re-store status = %d", resp.StatusCode)
	}

	resp, body = doJSON(t, s, "GET", "/api/v1/memories/"+id, "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	if body["content"] != "deploy checklist" {
		t.Errorf("content = %v", body["content"])
	}

	resp, _ = doJSON(t, s, "DELETE", "/api/v1/memories/"+id, "", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("delete status = %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, s, "GET", "/api/v1/memories/"+id, "", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete status = %d", resp.StatusCode)
	}
}

func TestErrorMapping(t *testing.T) {
	s := setupServer(t, "")

	// Malformed body.
	resp, _ := doJSON(t, s, "POST", "/api/v1/memories", `{"content": `, "")
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("malformed body status = %d", resp.StatusCode)
	}

	// Missing required field.
	resp, _ = doJSON(t, s, "POST", "/api/v1/memories", `{"tags": ["x"]}`, "")
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("missing content status = %d", resp.StatusCode)
	}

	// Invalid scope string.
	resp, _ = doJSON(t, s, "POST", "/api/v1/memories",
		`{"content": "x", "scope": "project:"}`, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid scope status = %d", resp.StatusCode)
	}

	// Unknown entity.
	resp, _ = doJSON(t, s, "GET", "/api/v1/entities/Nobody", "", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing entity status = %d", resp.StatusCode)
	}
}

func TestEntityAndRelationEndpoints(t *testing.T) {
	s := setupServer(t, "")

	resp, body := doJSON(t, s, "POST", "/api/v1/entities",
		`{"entities": [{"name": "Alice", "entity_type": "person"},
		               {"name": "Robot", "entity_type": "project"}],
		  "scope": "global"}`, "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, body = %v", resp.StatusCode, body)
	}
	if created := body["created"].([]any); len(created) != 2 {
		t.Errorf("created = %v", created)
	}

	resp, _ = doJSON(t, s, "POST", "/api/v1/relations",
		`{"relations": [{"source": "Alice", "target": "Robot", "relation_type": "owns"}],
		  "scope": "global"}`, "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("relation status = %d", resp.StatusCode)
	}

	resp, body = doJSON(t, s, "GET", "/api/v1/relations/Alice?scope=global", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("relations status = %d", resp.StatusCode)
	}
	if body["count"].(float64) != 1 {
		t.Errorf("relation count = %v", body["count"])
	}

	resp, body = doJSON(t, s, "GET", "/api/v1/path?source=Alice&target=Robot&scope=global", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("path status = %d", resp.StatusCode)
	}
	if edges := body["edges"].([]any); len(edges) != 1 {
		t.Errorf("path edges = %v", edges)
	}

	resp, body = doJSON(t, s, "GET", "/api/v1/relationship-map/Alice?scope=global&depth=2", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("map status = %d", resp.StatusCode)
	}
	if nodes := body["nodes"].([]any); len(nodes) != 2 {
		t.Errorf("map nodes = %v", nodes)
	}

	resp, _ = doJSON(t, s, "POST", "/api/v1/entities/Alice/observations",
		`{"observations": ["leads the Robot project"]}`, "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("observations status = %d", resp.StatusCode)
	}
	_, body = doJSON(t, s, "GET", "/api/v1/entities/Alice?scope=global", "", "")
	if obs := body["observations"].([]any); len(obs) != 1 {
		t.Errorf("observations = %v", obs)
	}
}

func TestIngestEndpoints(t *testing.T) {
	s := setupServer(t, "")

	resp, body := doJSON(t, s, "POST", "/api/v1/ingest",
		`{"item_type": "note", "actor_id": "Bob", "source": "api",
		  "content": "Bob is collaborating with Alice.", "scope": "global"}`, "")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("submit status = %d, body = %v", resp.StatusCode, body)
	}
	jobID := body["job_id"].(string)

	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, body = doJSON(t, s, "GET", "/api/v1/ingest/jobs/"+jobID, "", "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("job status = %d", resp.StatusCode)
		}
		if st := body["status"].(string); st == "completed" || st == "failed" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job stuck in %v", body["status"])
		}
		time.Sleep(10 * time.Millisecond)
	}
	if body["status"] != "completed" {
		t.Fatalf("job = %v", body)
	}

	resp, body = doJSON(t, s, "GET", "/api/v1/ingest/jobs?status=completed", "", "")
	if resp.StatusCode != http.StatusOK || body["count"].(float64) != 1 {
		t.Errorf("list jobs = %d, %v", resp.StatusCode, body)
	}

	// Enriched entity is visible through the graph endpoints.
	resp, _ = doJSON(t, s, "GET", "/api/v1/entities/Alice?scope=global", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("enriched entity status = %d", resp.StatusCode)
	}
}

func TestAdminEndpoints(t *testing.T) {
	s := setupServer(t, "")

	doJSON(t, s, "POST", "/api/v1/memories", `{"content": "note", "scope": "global"}`, "")

	resp, body := doJSON(t, s, "GET", "/api/v1/admin/stats", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats status = %d", resp.StatusCode)
	}
	if body["graph_schema"] != "v2" {
		t.Errorf("schema = %v", body["graph_schema"])
	}

	resp, body = doJSON(t, s, "GET", "/api/v1/admin/graph-schema", "", "")
	if resp.StatusCode != http.StatusOK || body["legacy"] != false {
		t.Errorf("graph-schema = %d, %v", resp.StatusCode, body)
	}

	resp, _ = doJSON(t, s, "GET", "/api/v1/admin/export?scope=global", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("export status = %d", resp.StatusCode)
	}

	resp, body = doJSON(t, s, "GET", "/api/v1/admin/audit?scope=global", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("audit status = %d", resp.StatusCode)
	}
	if body["count"].(float64) == 0 {
		t.Error("audit log empty after store")
	}

	resp, _ = doJSON(t, s, "POST", "/api/v1/admin/compact-audit",
		`{"scope": "global", "keep": 10}`, "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("compact status = %d", resp.StatusCode)
	}

	resp, body = doJSON(t, s, "PUT", "/api/v1/context",
		`{"project": "demo"}`, "")
	if resp.StatusCode != http.StatusOK || body["project"] != "demo" {
		t.Errorf("set context = %d, %v", resp.StatusCode, body)
	}
}
