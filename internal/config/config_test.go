package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault_Values(t *testing.T) {
	c := Default()
	if c == nil {
		t.Fatal("Default() returned nil")
	}
	if c.Analysis.RegionID != DefaultRegionID {
		t.Errorf("RegionID = %v, want %v", c.Analysis.RegionID, DefaultRegionID)
	}
	if c.Analysis.PredictPeriods != 7 {
		t.Errorf("PredictPeriods = %v, want 7", c.Analysis.PredictPeriods)
	}
	if c.Cache.Backend != "sqlite" {
		t.Errorf("Cache.Backend = %q, want sqlite", c.Cache.Backend)
	}
	if c.Cache.HistoryTTL != 24*time.Hour {
		t.Errorf("HistoryTTL = %v, want 24h", c.Cache.HistoryTTL)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	c, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Server.Port != Default().Server.Port {
		t.Errorf("Port = %d, want default", c.Server.Port)
	}
}

func TestLoad_YAMLOverlay(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "config.yaml")
	yml := `
esi:
  timeout: 5s
cache:
  backend: redis
  history_ttl: 2h
analysis:
  region_id: 10000043
  concurrency: 3
  min_score: 40
  competition: low
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Analysis.RegionID != 10000043 || c.Analysis.Concurrency != 3 || c.Analysis.MinScore != 40 {
		t.Errorf("Analysis = %+v", c.Analysis)
	}
	if c.Cache.Backend != "redis" || c.Cache.HistoryTTL != 2*time.Hour {
		t.Errorf("Cache = %+v", c.Cache)
	}
	if c.ESI.Timeout != 5*time.Second {
		t.Errorf("ESI.Timeout = %v, want 5s", c.ESI.Timeout)
	}
	// Untouched keys keep defaults.
	if c.Analysis.PredictPeriods != 7 {
		t.Errorf("PredictPeriods = %d, want 7", c.Analysis.PredictPeriods)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("EVE_REGION_ID", "10000030")
	t.Setenv("EVE_CHARACTER_ID", "90000001")
	t.Setenv("EVE_ACCESS_TOKEN", "tok")
	t.Setenv("EVE_PORT", "8080")

	c, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Analysis.RegionID != 10000030 {
		t.Errorf("RegionID = %d", c.Analysis.RegionID)
	}
	if c.Character.ID != 90000001 || c.Character.AccessToken != "tok" {
		t.Errorf("Character = %+v", c.Character)
	}
	if c.Addr() != "127.0.0.1:8080" {
		t.Errorf("Addr = %q", c.Addr())
	}
}

func TestLoad_DotEnvFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("EVE_DB_PATH=from-dotenv.db\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	// godotenv never overrides variables that are already set, so make sure
	// the key is absent and cleaned up after the test.
	t.Setenv("EVE_DB_PATH", "")
	os.Unsetenv("EVE_DB_PATH")

	c, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Database.Path != "from-dotenv.db" {
		t.Errorf("Database.Path = %q, want from-dotenv.db", c.Database.Path)
	}
}

func TestLoad_BadEnvValue(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("EVE_CHARACTER_ID", "abc")
	if _, err := Load(""); err == nil {
		t.Error("Load with bad EVE_CHARACTER_ID want error")
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	c := Default()
	c.Analysis.Concurrency = 0
	c.Cache.Backend = "memcached"
	c.Analysis.Competition = "fierce"

	err := c.Validate()
	if err == nil {
		t.Fatal("Validate want error")
	}
	for _, want := range []string{"concurrency", "memcached", "fierce"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}
