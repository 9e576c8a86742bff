package broker

import (
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/vthunder/temple/internal/graph"
	"github.com/vthunder/temple/internal/logging"
	"github.com/vthunder/temple/internal/scope"
)

// GraphExport is the full entity/relation dump for one or all scopes.
type GraphExport struct {
	Scope     string           `json:"scope,omitempty"`
	Entities  []graph.Entity   `json:"entities"`
	Relations []graph.Relation `json:"relations"`
}

// ExportGraph dumps entities and their relations, either for one scope
// or for every active scope.
func (b *Broker) ExportGraph(scopeOverride string) (*GraphExport, error) {
	scopes := b.ctx.ActiveScopes()
	export := &GraphExport{}
	if scopeOverride != "" {
		sc, err := scope.Parse(scopeOverride)
		if err != nil {
			return nil, err
		}
		scopes = []scope.Scope{sc}
		export.Scope = sc.String()
	}

	for _, sc := range scopes {
		entities, err := b.graph.EntitiesInScope(sc.String())
		if err != nil {
			return nil, err
		}
		relations, err := b.graph.RelationsInScope(sc.String())
		if err != nil {
			return nil, err
		}
		export.Entities = append(export.Entities, entities...)
		export.Relations = append(export.Relations, relations...)
	}
	if export.Entities == nil {
		export.Entities = []graph.Entity{}
	}
	if export.Relations == nil {
		export.Relations = []graph.Relation{}
	}
	return export, nil
}

// Stats is the admin overview of the whole store.
type Stats struct {
	Context      ContextState   `json:"context"`
	Memories     map[string]int `json:"memories_by_scope"`
	Entities     map[string]int `json:"entities_by_scope"`
	Relations    map[string]int `json:"relations_by_scope"`
	Jobs         map[string]int `json:"jobs_by_status"`
	Reviews      map[string]int `json:"reviews_by_status"`
	GraphSchema  string         `json:"graph_schema"`
	Collections  int            `json:"collections"`
}

// GetStats gathers counts per scope plus pipeline tallies. The session
// sweep runs first so expired sessions are not counted.
func (b *Broker) GetStats() (*Stats, error) {
	b.maybeSweep(true)

	stats := &Stats{
		Context:     b.GetContext(),
		Memories:    make(map[string]int),
		Entities:    make(map[string]int),
		Relations:   make(map[string]int),
		GraphSchema: b.graph.Schema().String(),
	}

	collections, err := b.vectors.ListCollections()
	if err != nil {
		return nil, err
	}
	stats.Collections = len(collections)
	for _, c := range collections {
		sc, ok := scope.FromCollection(c)
		if !ok {
			continue
		}
		count, err := b.vectors.Count(c)
		if err != nil {
			logging.Warn("broker", "count failed for %s: %v", c, err)
			continue
		}
		stats.Memories[sc.String()] = count
		countGraph(b, stats, sc.String())
	}

	// Scopes can hold graph data without any vector collection, for
	// example entities created before the first memory is stored.
	graphScopes, err := b.graph.Scopes()
	if err != nil {
		return nil, err
	}
	for _, s := range graphScopes {
		if _, seen := stats.Entities[s]; seen {
			continue
		}
		countGraph(b, stats, s)
	}

	stats.Jobs, stats.Reviews = b.pipe.Counts()
	return stats, nil
}

func countGraph(b *Broker, stats *Stats, scopeName string) {
	if n, err := b.graph.EntityCount(scopeName); err == nil {
		stats.Entities[scopeName] = n
	}
	if n, err := b.graph.RelationCount(scopeName); err == nil {
		stats.Relations[scopeName] = n
	}
}

// Health is the per-backend liveness report.
type Health struct {
	Status    string            `json:"status"`
	Backends  map[string]string `json:"backends"`
	RSSBytes  uint64            `json:"rss_bytes,omitempty"`
	CPUPct    float64           `json:"cpu_percent,omitempty"`
	CheckedAt string            `json:"checked_at"`
}

// CheckHealth pings every backend and samples process resource usage.
func (b *Broker) CheckHealth() *Health {
	h := &Health{
		Status:    "ok",
		Backends:  make(map[string]string),
		CheckedAt: time.Now().UTC().Format(time.RFC3339),
	}

	if err := b.vectors.Ping(); err != nil {
		h.Backends["vector"] = err.Error()
		h.Status = "degraded"
	} else {
		h.Backends["vector"] = "ok"
	}
	if err := b.graph.Ping(); err != nil {
		h.Backends["graph"] = err.Error()
		h.Status = "degraded"
	} else {
		h.Backends["graph"] = "ok"
	}
	if b.auditDirWritable() {
		h.Backends["audit"] = "ok"
	} else {
		h.Backends["audit"] = "not writable"
		h.Status = "degraded"
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mem, err := proc.MemoryInfo(); err == nil {
			h.RSSBytes = mem.RSS
		}
		if pct, err := proc.CPUPercent(); err == nil {
			h.CPUPct = pct
		}
	}
	return h
}

// MigrateGraph runs the legacy schema migration.
func (b *Broker) MigrateGraph(backupPath string) *graph.MigrationResult {
	result := b.graph.MigrateLegacySchema(backupPath)
	b.audit.Record("graph_migrated", "global", map[string]any{
		"migrated": result.Migrated, "entities": result.Entities,
		"relations": result.Relations, "skipped": result.Skipped,
		"backup_path": result.BackupPath,
	})
	return result
}

// CompactAuditLog trims one scope's audit file to its newest entries.
func (b *Broker) CompactAuditLog(scopeName string, keep int) (int, error) {
	if _, err := scope.Parse(scopeName); err != nil {
		return 0, err
	}
	return b.audit.Compact(scopeName, keep)
}
