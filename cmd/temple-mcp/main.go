// temple-mcp serves the knowledge store over MCP stdio.
package main

import (
	"log"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"

	"github.com/vthunder/temple/internal/broker"
	"github.com/vthunder/temple/internal/config"
	"github.com/vthunder/temple/internal/embedding"
	"github.com/vthunder/temple/internal/extract"
	"github.com/vthunder/temple/internal/tools"
)

func main() {
	// Log to stderr so stdout is clean for JSON-RPC
	log.SetOutput(os.Stderr)
	log.SetPrefix("[temple-mcp] ")

	loadDotenv()

	cfg, err := config.Load(os.Getenv("TEMPLE_CONFIG"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	embedder := embedding.NewClient(cfg.EmbeddingBaseURL, cfg.EmbeddingModel)

	var generator extract.Generator
	switch {
	case cfg.LLMAPIKey != "":
		generator = extract.NewAnthropicGenerator(cfg.LLMAPIKey, cfg.LLMModel)
		log.Printf("LLM extraction enabled (%s)", cfg.LLMModel)
	case cfg.LLMBaseURL != "":
		local := embedding.NewClient(cfg.LLMBaseURL, cfg.EmbeddingModel)
		local.SetGenerationModel(cfg.LLMModel)
		generator = local
		log.Printf("local model extraction enabled (%s via %s)", cfg.LLMModel, cfg.LLMBaseURL)
	default:
		log.Println("no LLM configured, extraction is heuristic-only")
	}

	b, err := broker.New(cfg, embedder, generator)
	if err != nil {
		log.Fatalf("broker: %v", err)
	}
	defer b.Close()

	s := server.NewMCPServer(
		"temple",
		"1.0.0",
		server.WithToolCapabilities(true),
	)
	tools.RegisterAll(s, &tools.Deps{Broker: b})

	log.Println("serving MCP over stdio")
	if err := server.ServeStdio(s); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// loadDotenv probes the usual spots for a .env file: next to the
// executable, the executable's parent dir, then the working directory.
func loadDotenv() {
	paths := []string{".env"}
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append([]string{
			filepath.Join(filepath.Dir(exeDir), ".env"),
			filepath.Join(exeDir, ".env"),
		}, paths...)
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
			return
		}
	}
}
