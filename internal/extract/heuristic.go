package extract

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/tsawler/prose/v3"
)

const (
	maxHeuristicEntities  = 25
	maxHeuristicRelations = 50
)

var (
	// Proper nouns: up to three capitalized words in a row.
	properNounPattern = regexp.MustCompile(`\b[A-Z][a-z]+(?:\s+[A-Z][a-z]+){0,2}\b`)
	// Acronyms like API2, K8S, MCP.
	acronymPattern = regexp.MustCompile(`\b[A-Z]{2,}(?:[0-9]+)?\b`)
)

// blockedCandidates filters sentence-initial words and generic noise
// the patterns inevitably pick up.
var blockedCandidates = map[string]bool{
	"I": true, "We": true, "The": true, "This": true, "That": true,
	"And": true, "But": true, "For": true, "With": true, "You": true,
	"Your": true, "Our": true, "It": true,
	"MCP": true, "REST": true, "API": true,
}

// relationBucket maps keyword cues to a relation type and confidence.
// Buckets are evaluated in order; the first hit wins for the whole text.
type relationBucket struct {
	keywords   []string
	relType    string
	confidence float64
}

var relationBuckets = []relationBucket{
	{[]string{"work with", "works with", "collaborat", "partner"}, "collaborates_with", 0.86},
	{[]string{"mentor", "coaching"}, "mentors", 0.84},
	{[]string{"blocked by", "blocker", "obstacle", "dependency"}, "blocked_by", 0.81},
	{[]string{"use ", "using ", "tool", "platform"}, "uses", 0.82},
	{[]string{"interested in", "want to learn", "goal"}, "interested_in", 0.78},
}

const (
	defaultRelationType       = "related_to"
	defaultRelationConfidence = 0.62
	heuristicEntityConfidence = 0.7
)

// heuristic extracts entities by pattern matching plus a prose NER
// pass, then infers one relation candidate per (actor, entity) pair
// from keyword cues in the text.
func (e *Engine) heuristic(text, actor string) *Result {
	result := &Result{Method: "heuristic"}

	seen := make(map[string]bool)
	addEntity := func(name, entityType string, confidence float64) {
		name = NormalizeEntityName(name)
		if name == "" || blockedCandidates[name] {
			return
		}
		key := strings.ToLower(name)
		if seen[key] || len(result.Entities) >= maxHeuristicEntities {
			return
		}
		seen[key] = true
		if entityType == "" {
			entityType = InferEntityType(name)
		}
		result.Entities = append(result.Entities, EntityCandidate{
			Name:       name,
			Type:       entityType,
			Confidence: confidence,
		})
	}

	// The actor is always an entity, pattern match or not.
	if actor != "" {
		addEntity(actor, "", heuristicEntityConfidence)
	}

	for _, match := range properNounPattern.FindAllString(text, -1) {
		if blockedCandidates[match] {
			continue
		}
		addEntity(match, "", heuristicEntityConfidence)
	}
	for _, match := range acronymPattern.FindAllString(text, -1) {
		if blockedCandidates[match] {
			continue
		}
		addEntity(match, "technology", heuristicEntityConfidence)
	}

	// NER pass catches multiword names the regexes split or miss.
	if doc, err := prose.NewDocument(text); err == nil {
		for _, ent := range doc.Entities() {
			addEntity(ent.Text, proseLabelToType(ent.Label), heuristicEntityConfidence)
		}
	}

	relType, confidence := inferRelation(text)
	actorName := NormalizeEntityName(actor)
	for _, entity := range result.Entities {
		if len(result.Relations) >= maxHeuristicRelations {
			break
		}
		if actorName == "" || strings.EqualFold(entity.Name, actorName) {
			continue
		}
		result.Relations = append(result.Relations, RelationCandidate{
			Source:     actorName,
			Target:     entity.Name,
			Type:       relType,
			Confidence: confidence,
		})
	}

	return result
}

// inferRelation picks the relation type for the whole text from the
// first keyword bucket that matches.
func inferRelation(text string) (string, float64) {
	lower := strings.ToLower(text)
	for _, bucket := range relationBuckets {
		for _, kw := range bucket.keywords {
			if strings.Contains(lower, kw) {
				return bucket.relType, bucket.confidence
			}
		}
	}
	return defaultRelationType, defaultRelationConfidence
}

// NormalizeEntityName collapses whitespace and title-cases words,
// preserving all-caps tokens as acronyms.
func NormalizeEntityName(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return ""
	}
	for i, f := range fields {
		if f == strings.ToUpper(f) {
			continue // acronym, keep as is
		}
		r, size := utf8.DecodeRuneInString(f)
		fields[i] = string(unicode.ToUpper(r)) + strings.ToLower(f[size:])
	}
	return strings.Join(fields, " ")
}

// InferEntityType guesses a type from the shape of the name: multiword
// capitalized names read as people, all-caps as technology.
func InferEntityType(name string) string {
	if strings.Contains(name, " ") && name[0] >= 'A' && name[0] <= 'Z' {
		return "person"
	}
	if name == strings.ToUpper(name) {
		return "technology"
	}
	return "concept"
}

func proseLabelToType(label string) string {
	switch strings.ToUpper(label) {
	case "PERSON":
		return "person"
	case "ORG", "NORP":
		return "organization"
	case "GPE", "LOC", "FAC":
		return "location"
	case "PRODUCT":
		return "technology"
	default:
		return "concept"
	}
}
