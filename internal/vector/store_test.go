package vector

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "vectors.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// testEmbedding builds a deterministic 8-dim vector dominated by one axis.
func testEmbedding(axis int) []float64 {
	v := make([]float64, 8)
	for i := range v {
		v[i] = 0.05
	}
	v[axis%8] = 1.0
	return v
}

func testDoc(id, content string) Document {
	now := time.Now().UTC()
	return Document{
		ID:        id,
		Content:   content,
		Tags:      []string{"test"},
		Metadata:  map[string]string{"source": "unit"},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestAddAndQuery(t *testing.T) {
	s := setupTestStore(t)

	docs := []Document{testDoc("a", "alpha"), testDoc("b", "bravo"), testDoc("c", "charlie")}
	embs := [][]float64{testEmbedding(0), testEmbedding(3), testEmbedding(6)}
	if err := s.Add("temple_global", docs, embs); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	matches, err := s.Query("temple_global", testEmbedding(0), 2)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].ID != "a" {
		t.Errorf("nearest = %s, want a", matches[0].ID)
	}
	if matches[0].Distance > 0.001 {
		t.Errorf("self distance = %f, want ~0", matches[0].Distance)
	}
	if matches[1].Distance <= matches[0].Distance {
		t.Errorf("distances not ascending: %f then %f", matches[0].Distance, matches[1].Distance)
	}
}

func TestQueryMissingCollection(t *testing.T) {
	s := setupTestStore(t)
	matches, err := s.Query("temple_session_nope", testEmbedding(1), 5)
	if err != nil {
		t.Fatalf("query on missing collection errored: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("expected empty result, got %d", len(matches))
	}
}

func TestUpsertOverwrites(t *testing.T) {
	s := setupTestStore(t)

	if err := s.Add("temple_global", []Document{testDoc("x", "first")}, [][]float64{testEmbedding(0)}); err != nil {
		t.Fatal(err)
	}
	updated := testDoc("x", "second")
	if err := s.Add("temple_global", []Document{updated}, [][]float64{testEmbedding(1)}); err != nil {
		t.Fatal(err)
	}

	n, err := s.Count("temple_global")
	if err != nil || n != 1 {
		t.Fatalf("count = %d (%v), want 1", n, err)
	}
	docs, err := s.GetByIDs("temple_global", []string{"x"})
	if err != nil || len(docs) != 1 {
		t.Fatalf("GetByIDs = %v (%v)", docs, err)
	}
	if docs[0].Content != "second" {
		t.Errorf("content = %q, want overwritten value", docs[0].Content)
	}
}

func TestGetAllPagination(t *testing.T) {
	s := setupTestStore(t)

	var docs []Document
	var embs [][]float64
	for i := 0; i < 25; i++ {
		docs = append(docs, testDoc(fmt.Sprintf("doc-%02d", i), "content"))
		embs = append(embs, testEmbedding(i))
	}
	if err := s.Add("temple_project_p", docs, embs); err != nil {
		t.Fatal(err)
	}

	seen := map[string]bool{}
	for offset := 0; ; offset += 10 {
		page, err := s.GetAll("temple_project_p", 10, offset)
		if err != nil {
			t.Fatalf("GetAll failed: %v", err)
		}
		if len(page) == 0 {
			break
		}
		for _, d := range page {
			if seen[d.ID] {
				t.Errorf("doc %s returned twice across pages", d.ID)
			}
			seen[d.ID] = true
		}
	}
	if len(seen) != 25 {
		t.Errorf("paged %d docs, want 25", len(seen))
	}
}

func TestDeleteAndDeleteCollection(t *testing.T) {
	s := setupTestStore(t)

	docs := []Document{testDoc("a", "alpha"), testDoc("b", "bravo")}
	if err := s.Add("temple_session_s1", docs, [][]float64{testEmbedding(0), testEmbedding(1)}); err != nil {
		t.Fatal(err)
	}

	if err := s.Delete("temple_session_s1", []string{"a", "missing"}); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if n, _ := s.Count("temple_session_s1"); n != 1 {
		t.Errorf("count after delete = %d, want 1", n)
	}

	if err := s.DeleteCollection("temple_session_s1"); err != nil {
		t.Fatalf("DeleteCollection failed: %v", err)
	}
	names, err := s.ListCollections()
	if err != nil {
		t.Fatal(err)
	}
	for _, n := range names {
		if n == "temple_session_s1" {
			t.Error("collection still listed after delete")
		}
	}
	// A second delete is a no-op.
	if err := s.DeleteCollection("temple_session_s1"); err != nil {
		t.Errorf("repeat DeleteCollection errored: %v", err)
	}
}
