// Package extract turns raw text into candidate entities and relations
// with confidence scores. Two paths produce the same result shape: a
// deterministic heuristic (always available) and a model-assisted path
// that falls back to the heuristic on any failure.
package extract

import (
	"github.com/vthunder/temple/internal/logging"
)

// EntityCandidate is one extracted entity.
type EntityCandidate struct {
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// RelationCandidate is one extracted relation. Source and Target refer
// to entity names in the same result.
type RelationCandidate struct {
	Source     string  `json:"source"`
	Target     string  `json:"target"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// Result is the uniform output of both extraction paths.
type Result struct {
	Entities  []EntityCandidate   `json:"entities"`
	Relations []RelationCandidate `json:"relations"`
	Method    string              `json:"method"` // "llm" or "heuristic"
	LLMError  string              `json:"llm_error,omitempty"`
}

// Generator is the request/response surface of an external model.
type Generator interface {
	Generate(prompt string) (string, error)
}

// Engine extracts structure from text.
type Engine struct {
	generator Generator // nil keeps extraction heuristic-only
}

// NewEngine returns an engine. A nil generator disables the model path.
func NewEngine(generator Generator) *Engine {
	return &Engine{generator: generator}
}

// Extract runs the model path when configured, falling back to the
// heuristic on any failure. It never returns an error: extraction must
// not hard-fail the enrichment pipeline.
func (e *Engine) Extract(text, actor string) *Result {
	if e.generator == nil {
		return e.heuristic(text, actor)
	}

	result, err := e.llm(text, actor)
	if err != nil {
		logging.Warn("extract", "model extraction failed, using heuristic: %v", err)
		fallback := e.heuristic(text, actor)
		fallback.LLMError = err.Error()
		return fallback
	}
	return result
}
