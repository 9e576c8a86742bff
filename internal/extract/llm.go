package extract

import (
	"encoding/json"
	"fmt"
	"strings"
)

var entityTypes = []string{"person", "organization", "technology", "project", "concept", "location"}

var relationTypes = []string{
	"works_with", "uses", "manages", "blocked_by", "interested_in", "mentors",
	"collaborates_with", "related_to", "reports_to", "depends_on", "owns",
	"created", "supports",
}

var knownRelationTypes = func() map[string]bool {
	m := make(map[string]bool, len(relationTypes))
	for _, t := range relationTypes {
		m[t] = true
	}
	return m
}()

var knownEntityTypes = func() map[string]bool {
	m := make(map[string]bool, len(entityTypes))
	for _, t := range entityTypes {
		m[t] = true
	}
	return m
}()

var extractionPrompt = fmt.Sprintf(`You are an entity and relation extractor. Given a text payload, extract structured entities and relations.

Return ONLY valid JSON (no markdown fences) with this exact schema:
{
  "entities": [
    {"name": "string", "type": "string", "confidence": 0.0}
  ],
  "relations": [
    {"source": "string", "target": "string", "type": "string", "confidence": 0.0}
  ]
}

Entity type must be one of: %s
Relation type must be one of: %s
Confidence is a float between 0.0 and 1.0.

Rules:
- Extract real named entities, not generic nouns or pronouns.
- Normalize names to title case (except all-caps acronyms).
- For each relation, both source and target must appear in the entities list.
- Assign confidence based on how explicitly the text supports the extraction.
- If no entities or relations are found, return empty lists.

Text:
`, strings.Join(entityTypes, ", "), strings.Join(relationTypes, ", "))

// llmResponse is the JSON contract the model must return.
type llmResponse struct {
	Entities  []EntityCandidate   `json:"entities"`
	Relations []RelationCandidate `json:"relations"`
}

// llm runs the model path: one generation call, fence-tolerant JSON
// parsing, then validation to the canonical result shape.
func (e *Engine) llm(text, actor string) (*Result, error) {
	raw, err := e.generator.Generate(extractionPrompt + text)
	if err != nil {
		return nil, fmt.Errorf("generation failed: %w", err)
	}

	var parsed llmResponse
	if err := json.Unmarshal([]byte(cleanJSONResponse(raw)), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse model response: %w", err)
	}

	entities := validateEntities(parsed.Entities)
	relations := validateRelations(parsed.Relations, entities)

	// The actor is always present as an entity.
	actorName := NormalizeEntityName(actor)
	if actorName != "" {
		found := false
		for _, ent := range entities {
			if ent.Name == actorName {
				found = true
				break
			}
		}
		if !found {
			entities = append([]EntityCandidate{{
				Name:       actorName,
				Type:       InferEntityType(actorName),
				Confidence: 1.0,
			}}, entities...)
		}
	}

	return &Result{Entities: entities, Relations: relations, Method: "llm"}, nil
}

// cleanJSONResponse strips a markdown code fence if the model wrapped
// its output in one.
func cleanJSONResponse(raw string) string {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	lines = lines[1:] // drop opening ```json or ```
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

// validateEntities drops malformed entries, normalizes names and types,
// clamps confidence and dedups by name keeping the first occurrence.
func validateEntities(raw []EntityCandidate) []EntityCandidate {
	var valid []EntityCandidate
	seen := make(map[string]bool)
	for _, ent := range raw {
		name := NormalizeEntityName(ent.Name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		entityType := strings.ToLower(strings.TrimSpace(ent.Type))
		if !knownEntityTypes[entityType] {
			entityType = "concept"
		}
		valid = append(valid, EntityCandidate{
			Name:       name,
			Type:       entityType,
			Confidence: clampConfidence(ent.Confidence),
		})
	}
	return valid
}

// validateRelations drops self-loops and relations whose endpoints are
// not in the validated entity set, defaulting unknown types to the
// generic relation.
func validateRelations(raw []RelationCandidate, entities []EntityCandidate) []RelationCandidate {
	names := make(map[string]bool, len(entities))
	for _, ent := range entities {
		names[ent.Name] = true
	}

	var valid []RelationCandidate
	for _, rel := range raw {
		source := NormalizeEntityName(rel.Source)
		target := NormalizeEntityName(rel.Target)
		if source == "" || target == "" || source == target {
			continue
		}
		if !names[source] || !names[target] {
			continue // dangling endpoint
		}
		relType := strings.ToLower(strings.TrimSpace(rel.Type))
		if !knownRelationTypes[relType] {
			relType = "related_to"
		}
		valid = append(valid, RelationCandidate{
			Source:     source,
			Target:     target,
			Type:       relType,
			Confidence: clampConfidence(rel.Confidence),
		})
	}
	return valid
}

func clampConfidence(c float64) float64 {
	if c <= 0 {
		return 0.7 // unspecified, assume moderate
	}
	if c > 1 {
		return 1
	}
	return c
}
