// Package broker is the orchestration surface over the vector store,
// the graph store, the extraction engine and the enrichment pipeline.
// All synchronous API calls (MCP tools, REST handlers) go through one
// Broker; enrichment runs on the pipeline's worker.
package broker

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/vthunder/temple/internal/audit"
	"github.com/vthunder/temple/internal/config"
	"github.com/vthunder/temple/internal/embedding"
	"github.com/vthunder/temple/internal/extract"
	"github.com/vthunder/temple/internal/graph"
	"github.com/vthunder/temple/internal/logging"
	"github.com/vthunder/temple/internal/pipeline"
	"github.com/vthunder/temple/internal/scope"
	"github.com/vthunder/temple/internal/vector"
)

// ErrNotFound marks a missing memory, entity, job or review.
var ErrNotFound = errors.New("not found")

// nearDuplicateSimilarity is the corroboration bar for the confidence
// boost on enrichment candidates.
const nearDuplicateSimilarity = 0.88

// sweepInterval throttles the lazy session TTL sweep.
const sweepInterval = 5 * time.Minute

// Broker wires the storage backends together behind a stable API.
type Broker struct {
	cfg      config.Settings
	vectors  *vector.Store
	graph    *graph.DB
	embedder embedding.Embedder
	pipe     *pipeline.Pipeline
	audit    *audit.Log
	ctx      *scope.Context

	sweepMu   sync.Mutex
	lastSweep time.Time
}

// New opens the backends under cfg and starts the enrichment worker.
// generator may be nil, which keeps extraction heuristic-only.
func New(cfg config.Settings, embedder embedding.Embedder, generator extract.Generator) (*Broker, error) {
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}

	vectors, err := vector.Open(cfg.VectorDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}
	graphDB, err := graph.Open(cfg.GraphDBPath)
	if err != nil {
		vectors.Close()
		return nil, fmt.Errorf("failed to open graph store: %w", err)
	}
	auditLog, err := audit.New(cfg.AuditDir)
	if err != nil {
		vectors.Close()
		graphDB.Close()
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	b := &Broker{
		cfg:      cfg,
		vectors:  vectors,
		graph:    graphDB,
		embedder: embedder,
		audit:    auditLog,
		ctx:      scope.NewContext(),
	}

	pipe, err := pipeline.New(cfg.JobsPath, extract.NewEngine(generator), b)
	if err != nil {
		vectors.Close()
		graphDB.Close()
		return nil, fmt.Errorf("failed to load enrichment pipeline: %w", err)
	}
	b.pipe = pipe
	pipe.Start()

	logging.Info("broker", "ready (graph schema: %s)", graphDB.Schema())
	return b, nil
}

// Close stops the worker and closes the backends.
func (b *Broker) Close() error {
	b.pipe.Stop()
	verr := b.vectors.Close()
	gerr := b.graph.Close()
	if verr != nil {
		return verr
	}
	return gerr
}

// Context exposes the active project/session state.
func (b *Broker) Context() *scope.Context {
	return b.ctx
}

// Graph exposes the graph store for admin operations (migration, the
// state inspector command).
func (b *Broker) Graph() *graph.DB {
	return b.graph
}

// AuditLog exposes the audit sink for read and compaction endpoints.
func (b *Broker) AuditLog() *audit.Log {
	return b.audit
}

// EnsureEntity creates the entity in scope if absent. It is the
// pipeline's entity write path.
func (b *Broker) EnsureEntity(name, entityType, scopeName string, confidence float64) (bool, error) {
	created, err := b.graph.CreateEntity(name, entityType, nil, scopeName, confidence)
	if err != nil {
		return false, err
	}
	if created {
		b.audit.Record("entity_created", scopeName, map[string]any{
			"name": name, "entity_type": entityType, "origin": "enrichment",
		})
	}
	return created, nil
}

// CommitRelation writes an enrichment-approved edge.
func (b *Broker) CommitRelation(source, target, relationType, scopeName string, confidence float64, provenance map[string]string) (bool, error) {
	created, err := b.graph.CreateRelation(source, target, relationType, scopeName, confidence, provenance)
	if err != nil {
		return false, err
	}
	if created {
		b.audit.Record("relation_created", scopeName, map[string]any{
			"source": source, "target": target, "relation_type": relationType,
			"origin": "enrichment",
		})
	}
	return created, nil
}

// HasNearDuplicate reports whether a different memory in scope sits at
// or above the corroboration similarity for the given content.
func (b *Broker) HasNearDuplicate(content, scopeName, excludeID string) (bool, error) {
	sc, err := scope.Parse(scopeName)
	if err != nil {
		return false, err
	}
	emb, err := b.embedder.Embed(content)
	if err != nil {
		return false, err
	}
	matches, err := b.vectors.Query(sc.Collection(), emb, 5)
	if err != nil {
		return false, err
	}
	for _, m := range matches {
		if m.ID == excludeID {
			continue
		}
		if similarityFromDistance(m.Distance) >= nearDuplicateSimilarity {
			return true, nil
		}
	}
	return false, nil
}

// similarityFromDistance converts the stored cosine distance in [0, 2]
// to a similarity score. With normalized vectors this is the cosine of
// the angle, so 1.0 means identical and values below 0 carry no signal.
func similarityFromDistance(distance float64) float64 {
	return 1 - distance
}

// auditDirWritable probes the audit directory for the health check.
func (b *Broker) auditDirWritable() bool {
	f, err := os.CreateTemp(b.audit.Dir(), ".health-*")
	if err != nil {
		return false
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return true
}
