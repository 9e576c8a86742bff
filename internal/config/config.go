// Package config loads server settings from an optional YAML file with
// TEMPLE_* environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings holds every tunable for the temple services.
type Settings struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"` // empty disables bearer auth

	DataDir      string `yaml:"data_dir"`
	VectorDBPath string `yaml:"vector_db_path"` // defaults to {data_dir}/vectors.db
	GraphDBPath  string `yaml:"graph_db_path"`  // defaults to {data_dir}/graph.db
	AuditDir     string `yaml:"audit_dir"`      // defaults to {data_dir}/audit
	JobsPath     string `yaml:"jobs_path"`      // defaults to {data_dir}/ingest_jobs.json

	EmbeddingBaseURL string `yaml:"embedding_base_url"`
	EmbeddingModel   string `yaml:"embedding_model"`

	LLMAPIKey  string `yaml:"llm_api_key"` // empty keeps extraction heuristic-only
	LLMModel   string `yaml:"llm_model"`
	LLMBaseURL string `yaml:"llm_base_url"`

	SessionTTLSeconds int `yaml:"session_ttl_seconds"`
}

// Defaults returns the settings used when no file or env overrides exist.
func Defaults() Settings {
	return Settings{
		Host:              "0.0.0.0",
		Port:              8100,
		DataDir:           "data",
		EmbeddingBaseURL:  "http://localhost:11434",
		EmbeddingModel:    "nomic-embed-text",
		LLMModel:          "claude-3-5-haiku-latest",
		SessionTTLSeconds: 86400,
	}
}

// Load reads settings from path (when it exists) over the defaults, then
// applies TEMPLE_* environment overrides and fills derived paths.
func Load(path string) (Settings, error) {
	s := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, &s); err != nil {
				return s, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return s, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	applyEnv(&s)

	if s.VectorDBPath == "" {
		s.VectorDBPath = filepath.Join(s.DataDir, "vectors.db")
	}
	if s.GraphDBPath == "" {
		s.GraphDBPath = filepath.Join(s.DataDir, "graph.db")
	}
	if s.AuditDir == "" {
		s.AuditDir = filepath.Join(s.DataDir, "audit")
	}
	if s.JobsPath == "" {
		s.JobsPath = filepath.Join(s.DataDir, "ingest_jobs.json")
	}
	return s, nil
}

func applyEnv(s *Settings) {
	setStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	setStr("TEMPLE_HOST", &s.Host)
	setInt("TEMPLE_PORT", &s.Port)
	setStr("TEMPLE_API_KEY", &s.APIKey)
	setStr("TEMPLE_DATA_DIR", &s.DataDir)
	setStr("TEMPLE_VECTOR_DB_PATH", &s.VectorDBPath)
	setStr("TEMPLE_GRAPH_DB_PATH", &s.GraphDBPath)
	setStr("TEMPLE_AUDIT_DIR", &s.AuditDir)
	setStr("TEMPLE_JOBS_PATH", &s.JobsPath)
	setStr("TEMPLE_EMBEDDING_BASE_URL", &s.EmbeddingBaseURL)
	setStr("TEMPLE_EMBEDDING_MODEL", &s.EmbeddingModel)
	setStr("TEMPLE_LLM_API_KEY", &s.LLMAPIKey)
	setStr("TEMPLE_LLM_MODEL", &s.LLMModel)
	setStr("TEMPLE_LLM_BASE_URL", &s.LLMBaseURL)
	setInt("TEMPLE_SESSION_TTL_SECONDS", &s.SessionTTLSeconds)
}

// SessionTTL returns the session expiry as a duration.
func (s Settings) SessionTTL() time.Duration {
	return time.Duration(s.SessionTTLSeconds) * time.Second
}

// EnsureDirs creates the data directories if missing.
func (s Settings) EnsureDirs() error {
	for _, dir := range []string{s.DataDir, s.AuditDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// ListenAddr returns the host:port pair for the REST server.
func (s Settings) ListenAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
