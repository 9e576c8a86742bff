package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if s.Port != 8100 {
		t.Errorf("default port = %d", s.Port)
	}
	if s.VectorDBPath != filepath.Join("data", "vectors.db") {
		t.Errorf("derived vector path = %s", s.VectorDBPath)
	}
	if s.SessionTTL().Seconds() != 86400 {
		t.Errorf("session ttl = %v", s.SessionTTL())
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "temple.yaml")
	body := "port: 9000\ndata_dir: " + dir + "\napi_key: secret\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	os.Setenv("TEMPLE_PORT", "9100")
	defer os.Unsetenv("TEMPLE_PORT")

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if s.Port != 9100 {
		t.Errorf("env override lost: port = %d", s.Port)
	}
	if s.APIKey != "secret" {
		t.Errorf("file value lost: api_key = %q", s.APIKey)
	}
	if s.AuditDir != filepath.Join(dir, "audit") {
		t.Errorf("audit dir = %s", s.AuditDir)
	}
}
