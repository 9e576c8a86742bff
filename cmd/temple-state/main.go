// temple-state inspects the store's on-disk state without going
// through a running server. It opens the databases read-only with a
// cgo-free driver, so it works anywhere the data files do.
package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	_ "modernc.org/sqlite"

	"github.com/vthunder/temple/internal/config"
	"github.com/vthunder/temple/internal/scope"
)

func main() {
	cfg, err := config.Load(os.Getenv("TEMPLE_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	cmd := "summary"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "summary":
		handleSummary(cfg)
	case "memories":
		handleMemories(cfg, os.Args[2:])
	case "entities":
		handleEntities(cfg, os.Args[2:])
	case "relations":
		handleRelations(cfg, os.Args[2:])
	case "jobs":
		handleJobs(cfg)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`temple-state - Inspect the knowledge store's on-disk state

Usage: temple-state <command> [scope]

Commands:
  summary      Collection, entity, relation and job counts (default)
  memories     List memories, optionally for one scope
  entities     List entities, optionally for one scope
  relations    List relations, optionally for one scope
  jobs         Show the enrichment job snapshot`)
}

func openRO(path string) (*sql.DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("no database at %s", path)
	}
	return sql.Open("sqlite", "file:"+path+"?mode=ro")
}

func handleSummary(cfg config.Settings) {
	if db, err := openRO(cfg.VectorDBPath); err == nil {
		defer db.Close()
		rows, err := db.Query(`SELECT collection, COUNT(*) FROM documents GROUP BY collection ORDER BY collection`)
		if err == nil {
			fmt.Println("Memories:")
			for rows.Next() {
				var collection string
				var count int
				rows.Scan(&collection, &count)
				fmt.Printf("  %-40s %d\n", collection, count)
			}
			rows.Close()
		}
	} else {
		fmt.Println(err)
	}

	if db, err := openRO(cfg.GraphDBPath); err == nil {
		defer db.Close()
		var entities, relations int
		db.QueryRow(`SELECT COUNT(*) FROM entities`).Scan(&entities)
		db.QueryRow(`SELECT COUNT(*) FROM relations`).Scan(&relations)
		fmt.Printf("Graph: %d entities, %d relations\n", entities, relations)
	} else {
		fmt.Println(err)
	}

	if snap := readSnapshot(cfg.JobsPath); snap != nil {
		counts := map[string]int{}
		for _, job := range snap.Jobs {
			counts[job.Status]++
		}
		fmt.Printf("Jobs: %d total %v, %d reviews, %d retained payloads\n",
			len(snap.Jobs), counts, len(snap.Reviews), len(snap.Payloads))
	}
}

func handleMemories(cfg config.Settings, args []string) {
	db, err := openRO(cfg.VectorDBPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer db.Close()

	query := `SELECT collection, doc_id, content, tags, updated_at FROM documents ORDER BY collection, rowid`
	var rows *sql.Rows
	if len(args) > 0 {
		query = `SELECT collection, doc_id, content, tags, updated_at FROM documents WHERE collection = ? ORDER BY rowid`
		rows, err = db.Query(query, collectionFor(args[0]))
	} else {
		rows, err = db.Query(query)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer rows.Close()

	for rows.Next() {
		var collection, id, content, tags, updated string
		rows.Scan(&collection, &id, &content, &tags, &updated)
		fmt.Printf("%s  %s  %s\n  %s  tags=%s\n", collection, id[:12], updated, truncate(content, 80), tags)
	}
}

func handleEntities(cfg config.Settings, args []string) {
	db, err := openRO(cfg.GraphDBPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer db.Close()

	query := `SELECT name, entity_type, scope, observations FROM entities ORDER BY scope, name`
	var rows *sql.Rows
	if len(args) > 0 {
		query = `SELECT name, entity_type, scope, observations FROM entities WHERE scope = ? ORDER BY name`
		rows, err = db.Query(query, args[0])
	} else {
		rows, err = db.Query(query)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer rows.Close()

	for rows.Next() {
		var name, entityType, scope, observations string
		rows.Scan(&name, &entityType, &scope, &observations)
		fmt.Printf("%-16s %-32s %-12s %s\n", scope, name, entityType, truncate(observations, 60))
	}
}

func handleRelations(cfg config.Settings, args []string) {
	db, err := openRO(cfg.GraphDBPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer db.Close()

	query := `SELECT s.name, r.relation_type, t.name, r.scope, r.confidence
		FROM relations r
		JOIN entities s ON s.id = r.source_id
		JOIN entities t ON t.id = r.target_id`
	var rows *sql.Rows
	if len(args) > 0 {
		rows, err = db.Query(query+` WHERE r.scope = ? ORDER BY s.name`, args[0])
	} else {
		rows, err = db.Query(query + ` ORDER BY r.scope, s.name`)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer rows.Close()

	for rows.Next() {
		var source, relType, target, scope string
		var confidence float64
		rows.Scan(&source, &relType, &target, &scope, &confidence)
		fmt.Printf("%-16s %s -[%s]-> %s  (%.2f)\n", scope, source, relType, target, confidence)
	}
}

type jobSnapshot struct {
	UpdatedAt string `json:"updated_at"`
	Jobs      map[string]struct {
		Status      string `json:"status"`
		ItemType    string `json:"item_type"`
		Scope       string `json:"scope"`
		SubmittedAt string `json:"submitted_at"`
	} `json:"jobs"`
	Reviews  map[string]json.RawMessage `json:"reviews"`
	Payloads map[string]json.RawMessage `json:"payloads"`
}

func readSnapshot(path string) *jobSnapshot {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var snap jobSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil
	}
	return &snap
}

func handleJobs(cfg config.Settings) {
	snap := readSnapshot(cfg.JobsPath)
	if snap == nil {
		fmt.Printf("no job snapshot at %s\n", cfg.JobsPath)
		return
	}
	fmt.Printf("snapshot updated %s\n", snap.UpdatedAt)
	for id, job := range snap.Jobs {
		fmt.Printf("%s  %-10s %-10s %-16s %s\n", id[:8], job.Status, job.ItemType, job.Scope, job.SubmittedAt)
	}
	fmt.Printf("%d reviews, %d retained payloads\n", len(snap.Reviews), len(snap.Payloads))
}

func collectionFor(scopeName string) string {
	sc, err := scope.Parse(scopeName)
	if err != nil {
		return scopeName
	}
	return sc.Collection()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
