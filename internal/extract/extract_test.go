package extract

import (
	"fmt"
	"strings"
	"testing"
)

// stubGenerator returns a canned response or error.
type stubGenerator struct {
	response string
	err      error
}

func (s *stubGenerator) Generate(prompt string) (string, error) {
	return s.response, s.err
}

func findEntity(result *Result, name string) *EntityCandidate {
	for i := range result.Entities {
		if result.Entities[i].Name == name {
			return &result.Entities[i]
		}
	}
	return nil
}

func findRelation(result *Result, source, target string) *RelationCandidate {
	for i := range result.Relations {
		if result.Relations[i].Source == source && result.Relations[i].Target == target {
			return &result.Relations[i]
		}
	}
	return nil
}

func TestHeuristicCollaboration(t *testing.T) {
	engine := NewEngine(nil)
	result := engine.Extract("I work with Alice on the new rollout", "bob")

	if result.Method != "heuristic" {
		t.Fatalf("method = %s", result.Method)
	}
	if findEntity(result, "Bob") == nil {
		t.Error("actor missing from entities")
	}
	if findEntity(result, "Alice") == nil {
		t.Fatalf("Alice not extracted: %v", result.Entities)
	}

	rel := findRelation(result, "Bob", "Alice")
	if rel == nil {
		t.Fatalf("no bob->alice relation: %v", result.Relations)
	}
	if rel.Type != "collaborates_with" || rel.Confidence != 0.86 {
		t.Errorf("relation = %s@%.2f, want collaborates_with@0.86", rel.Type, rel.Confidence)
	}
}

func TestHeuristicBucketPriority(t *testing.T) {
	engine := NewEngine(nil)
	cases := []struct {
		text       string
		relType    string
		confidence float64
	}{
		{"We collaborate with Alice", "collaborates_with", 0.86},
		{"Alice is mentoring me", "mentors", 0.84},
		{"Blocked by the Platform team", "blocked_by", 0.81},
		{"I am using Docker daily", "uses", 0.82},
		{"My goal is to learn Rust with Alice", "interested_in", 0.78},
		{"Met Alice yesterday", "related_to", 0.62},
	}
	for _, tc := range cases {
		result := engine.Extract(tc.text, "bob")
		if len(result.Relations) == 0 {
			t.Errorf("%q: no relations", tc.text)
			continue
		}
		r := result.Relations[0]
		if r.Type != tc.relType || r.Confidence != tc.confidence {
			t.Errorf("%q: got %s@%.2f, want %s@%.2f", tc.text, r.Type, r.Confidence, tc.relType, tc.confidence)
		}
	}
}

func TestHeuristicFiltersNoise(t *testing.T) {
	engine := NewEngine(nil)
	result := engine.Extract("The API uses REST and MCP for transport", "bob")

	for _, blocked := range []string{"The", "API", "REST", "MCP"} {
		if findEntity(result, blocked) != nil {
			t.Errorf("blocked word %q extracted", blocked)
		}
	}
}

func TestHeuristicEntityCap(t *testing.T) {
	engine := NewEngine(nil)
	var sb strings.Builder
	for i := 0; i < 60; i++ {
		fmt.Fprintf(&sb, "Word%c%c something ", 'A'+i%26, 'a'+i%26)
	}
	result := engine.Extract(sb.String(), "bob")
	if len(result.Entities) > 25 {
		t.Errorf("entity cap exceeded: %d", len(result.Entities))
	}
}

func TestNormalizeEntityName(t *testing.T) {
	cases := []struct{ in, want string }{
		{"  alice   smith ", "Alice Smith"},
		{"NASA", "NASA"},
		{"docker", "Docker"},
		{"éric dupont", "Éric Dupont"},
		{"ÉCOLE", "ÉCOLE"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := NormalizeEntityName(tc.in); got != tc.want {
			t.Errorf("NormalizeEntityName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestLLMPathValidation(t *testing.T) {
	response := `{
		"entities": [
			{"name": "alice", "type": "person", "confidence": 0.95},
			{"name": "Alice", "type": "person", "confidence": 0.40},
			{"name": "Docker", "type": "weird_type", "confidence": 1.7},
			{"name": "", "type": "person", "confidence": 0.9}
		],
		"relations": [
			{"source": "Alice", "target": "Docker", "type": "uses", "confidence": 0.9},
			{"source": "Alice", "target": "Alice", "type": "uses", "confidence": 0.9},
			{"source": "Alice", "target": "Ghost", "type": "uses", "confidence": 0.9},
			{"source": "Alice", "target": "Docker", "type": "invented_type", "confidence": 0.5}
		]
	}`
	engine := NewEngine(&stubGenerator{response: "```json\n" + response + "\n```"})
	result := engine.Extract("whatever", "bob")

	if result.Method != "llm" {
		t.Fatalf("method = %s, llm error = %s", result.Method, result.LLMError)
	}

	// Dedup by name keeps first occurrence; actor inserted at 1.0.
	alice := findEntity(result, "Alice")
	if alice == nil || alice.Confidence != 0.95 {
		t.Errorf("Alice = %+v, want first occurrence kept", alice)
	}
	docker := findEntity(result, "Docker")
	if docker == nil || docker.Type != "concept" || docker.Confidence != 1.0 {
		t.Errorf("Docker = %+v, want type defaulted and confidence clamped", docker)
	}
	bob := findEntity(result, "Bob")
	if bob == nil || bob.Confidence != 1.0 {
		t.Errorf("actor = %+v, want inserted at 1.0", bob)
	}

	// Self-loop and dangling dropped; unknown type defaulted.
	if len(result.Relations) != 2 {
		t.Fatalf("relations = %v, want 2 surviving", result.Relations)
	}
	for _, r := range result.Relations {
		if r.Source != "Alice" || r.Target != "Docker" {
			t.Errorf("unexpected relation %+v", r)
		}
	}
	if result.Relations[1].Type != "related_to" {
		t.Errorf("unknown type = %s, want related_to", result.Relations[1].Type)
	}
}

func TestLLMFallbackOnError(t *testing.T) {
	engine := NewEngine(&stubGenerator{err: fmt.Errorf("connection refused")})
	result := engine.Extract("I work with Alice", "bob")

	if result.Method != "heuristic" {
		t.Errorf("method = %s, want heuristic fallback", result.Method)
	}
	if result.LLMError == "" {
		t.Error("fallback did not record the model failure")
	}
}

func TestLLMFallbackOnBadJSON(t *testing.T) {
	engine := NewEngine(&stubGenerator{response: "Sorry, I cannot do that."})
	result := engine.Extract("I work with Alice", "bob")

	if result.Method != "heuristic" || result.LLMError == "" {
		t.Errorf("method = %s, error = %q; want heuristic with recorded error", result.Method, result.LLMError)
	}
	if findRelation(result, "Bob", "Alice") == nil {
		t.Error("fallback lost heuristic relation")
	}
}
