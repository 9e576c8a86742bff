package broker

import (
	"fmt"
	"sort"
	"time"

	"github.com/vthunder/temple/internal/hashing"
	"github.com/vthunder/temple/internal/logging"
	"github.com/vthunder/temple/internal/scope"
	"github.com/vthunder/temple/internal/vector"
)

// tagSearchPageSize is the collection scan page for tag-only search and
// the TTL sweep.
const tagSearchPageSize = 200

// Memory is a stored text entry annotated with its scope and, on
// retrieval, the similarity to the query.
type Memory struct {
	ID         string            `json:"id"`
	Content    string            `json:"content"`
	Tags       []string          `json:"tags"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Scope      string            `json:"scope"`
	Similarity float64           `json:"similarity,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

func memoryFromDocument(doc vector.Document, sc scope.Scope) Memory {
	return Memory{
		ID:        doc.ID,
		Content:   doc.Content,
		Tags:      doc.Tags,
		Metadata:  doc.Metadata,
		Scope:     sc.String(),
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
}

// StoreMemory persists content into the target scope. The memory id is
// the SHA-256 of the content, so storing identical text twice returns
// the existing entry with refreshed metadata instead of a duplicate.
func (b *Broker) StoreMemory(content string, tags []string, metadata map[string]string, scopeOverride string) (*Memory, bool, error) {
	b.maybeSweep(false)

	sc, err := b.ctx.StoreScope(scopeOverride)
	if err != nil {
		return nil, false, err
	}

	id := hashing.ContentAddress(content)
	collection := sc.Collection()
	now := time.Now().UTC()

	doc := vector.Document{
		ID:        id,
		Content:   content,
		Tags:      tags,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}

	created := true
	if existing, err := b.vectors.GetByIDs(collection, []string{id}); err == nil && len(existing) == 1 {
		created = false
		doc.CreatedAt = existing[0].CreatedAt
		doc.Tags = mergeTags(existing[0].Tags, tags)
		doc.Metadata = mergeMetadata(existing[0].Metadata, metadata)
	}

	emb, err := b.embedder.Embed(content)
	if err != nil {
		return nil, false, fmt.Errorf("failed to embed memory: %w", err)
	}
	if err := b.vectors.Add(collection, []vector.Document{doc}, [][]float64{emb}); err != nil {
		return nil, false, fmt.Errorf("failed to store memory: %w", err)
	}

	b.audit.Record("store_memory", sc.String(), map[string]any{
		"memory_id": id, "created": created, "content": logging.Truncate(content, 120),
	})

	mem := memoryFromDocument(doc, sc)
	return &mem, created, nil
}

// RetrieveMemories runs a semantic query over every active scope and
// ranks hits by scope precedence first, similarity second. With a tag
// filter the per-scope query overfetches so filtering does not starve
// the result set.
func (b *Broker) RetrieveMemories(query string, n int, tags []string) ([]Memory, error) {
	b.maybeSweep(false)

	if n <= 0 {
		n = 5
	}
	emb, err := b.embedder.Embed(query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	k := n
	if len(tags) > 0 {
		if overfetch := n * 5; overfetch > k {
			k = overfetch
		}
	}

	var out []Memory
	for _, sc := range b.ctx.RetrievalScopes() {
		matches, err := b.vectors.Query(sc.Collection(), emb, k)
		if err != nil {
			// A scope without a collection yet is not an error worth
			// failing the whole retrieval over.
			logging.Warn("broker", "query failed for %s: %v", sc, err)
			continue
		}
		for _, m := range matches {
			if !hasAllTags(m.Tags, tags) {
				continue
			}
			mem := memoryFromDocument(m.Document, sc)
			mem.Similarity = similarityFromDistance(m.Distance)
			out = append(out, mem)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := scopePrecedence(out[i].Scope), scopePrecedence(out[j].Scope)
		if pi != pj {
			return pi > pj
		}
		return out[i].Similarity > out[j].Similarity
	})
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// SearchByTags scans the active scopes page by page and keeps entries
// carrying every requested tag, newest first within a scope tier.
func (b *Broker) SearchByTags(tags []string, n int) ([]Memory, error) {
	b.maybeSweep(false)

	if n <= 0 {
		n = 20
	}

	var out []Memory
	for _, sc := range b.ctx.RetrievalScopes() {
		docs, err := b.scanCollection(sc.Collection())
		if err != nil {
			logging.Warn("broker", "tag scan failed for %s: %v", sc, err)
			continue
		}
		for _, doc := range docs {
			if !hasAllTags(doc.Tags, tags) {
				continue
			}
			out = append(out, memoryFromDocument(doc, sc))
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := scopePrecedence(out[i].Scope), scopePrecedence(out[j].Scope)
		if pi != pj {
			return pi > pj
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// GetMemory looks an id up in the given scope, or across active scopes
// highest precedence first when no scope is given.
func (b *Broker) GetMemory(id, scopeOverride string) (*Memory, error) {
	scopes := b.ctx.GraphReadScopes()
	if scopeOverride != "" {
		sc, err := scope.Parse(scopeOverride)
		if err != nil {
			return nil, err
		}
		scopes = []scope.Scope{sc}
	}

	for _, sc := range scopes {
		docs, err := b.vectors.GetByIDs(sc.Collection(), []string{id})
		if err != nil {
			logging.Warn("broker", "lookup failed for %s: %v", sc, err)
			continue
		}
		if len(docs) == 1 {
			mem := memoryFromDocument(docs[0], sc)
			return &mem, nil
		}
	}
	return nil, ErrNotFound
}

// DeleteMemory removes an id from the given scope, or from the first
// active scope containing it.
func (b *Broker) DeleteMemory(id, scopeOverride string) (bool, error) {
	mem, err := b.GetMemory(id, scopeOverride)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	sc, _ := scope.Parse(mem.Scope)
	if err := b.vectors.Delete(sc.Collection(), []string{id}); err != nil {
		return false, fmt.Errorf("failed to delete memory: %w", err)
	}
	b.audit.Record("delete_memory", mem.Scope, map[string]any{"memory_id": id})
	return true, nil
}

// scanCollection pages through a whole collection.
func (b *Broker) scanCollection(collection string) ([]vector.Document, error) {
	var all []vector.Document
	for offset := 0; ; offset += tagSearchPageSize {
		page, err := b.vectors.GetAll(collection, tagSearchPageSize, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < tagSearchPageSize {
			return all, nil
		}
	}
}

func hasAllTags(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[t] = struct{}{}
	}
	for _, t := range want {
		if _, ok := set[t]; !ok {
			return false
		}
	}
	return true
}

func mergeTags(existing, incoming []string) []string {
	out := append([]string(nil), existing...)
	seen := make(map[string]struct{}, len(existing))
	for _, t := range existing {
		seen[t] = struct{}{}
	}
	for _, t := range incoming {
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

func mergeMetadata(existing, incoming map[string]string) map[string]string {
	if len(existing) == 0 {
		return incoming
	}
	out := make(map[string]string, len(existing)+len(incoming))
	for k, v := range existing {
		out[k] = v
	}
	for k, v := range incoming {
		out[k] = v
	}
	return out
}

func scopePrecedence(scopeName string) int {
	sc, err := scope.Parse(scopeName)
	if err != nil {
		return -1
	}
	return sc.Precedence()
}
