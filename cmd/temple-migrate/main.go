// temple-migrate upgrades a legacy name-keyed graph database to the
// scoped schema. A JSON backup of every entity and relation is written
// before anything is touched.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/vthunder/temple/internal/config"
	"github.com/vthunder/temple/internal/graph"
)

func main() {
	_ = godotenv.Load()

	dbPath := flag.String("db", "", "graph database path (defaults to the configured graph_db_path)")
	backupPath := flag.String("backup", "", "backup file path (defaults next to the database)")
	check := flag.Bool("check", false, "report the schema version without migrating")
	flag.Parse()

	path := *dbPath
	if path == "" {
		cfg, err := config.Load(os.Getenv("TEMPLE_CONFIG"))
		if err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
		path = cfg.GraphDBPath
	}

	g, err := graph.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open %s: %v\n", path, err)
		os.Exit(1)
	}
	defer g.Close()

	if *check {
		fmt.Printf("schema: %s\n", g.Schema())
		return
	}

	result := g.MigrateLegacySchema(*backupPath)
	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))
	if result.Error != "" {
		os.Exit(1)
	}
}
