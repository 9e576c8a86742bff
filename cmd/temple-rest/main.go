// temple-rest serves the knowledge store over HTTP.
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/vthunder/temple/internal/broker"
	"github.com/vthunder/temple/internal/config"
	"github.com/vthunder/temple/internal/embedding"
	"github.com/vthunder/temple/internal/extract"
	"github.com/vthunder/temple/internal/rest"
)

func main() {
	log.SetPrefix("[temple-rest] ")
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("TEMPLE_CONFIG"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	embedder := embedding.NewClient(cfg.EmbeddingBaseURL, cfg.EmbeddingModel)

	var generator extract.Generator
	switch {
	case cfg.LLMAPIKey != "":
		generator = extract.NewAnthropicGenerator(cfg.LLMAPIKey, cfg.LLMModel)
	case cfg.LLMBaseURL != "":
		local := embedding.NewClient(cfg.LLMBaseURL, cfg.EmbeddingModel)
		local.SetGenerationModel(cfg.LLMModel)
		generator = local
	}

	b, err := broker.New(cfg, embedder, generator)
	if err != nil {
		log.Fatalf("broker: %v", err)
	}

	server := rest.NewServer(b, cfg.APIKey)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-done
		log.Println("shutting down")
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown: %v", err)
		}
		b.Close()
	}()

	if err := server.Run(cfg.ListenAddr()); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
