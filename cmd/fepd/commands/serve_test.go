package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/op/go-logging"

	"github.com/nilm987521/fep/channel"
	"github.com/nilm987521/fep/txn/memory"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want logging.Level
	}{
		{"DEBUG", logging.DEBUG},
		{"INFO", logging.INFO},
		{"WARNING", logging.WARNING},
		{"ERROR", logging.ERROR},
		{"not-a-level", logging.INFO}, // falls back rather than failing startup
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestBuildVaultDefaultsWhenEnvUnset(t *testing.T) {
	panSecretEnv = "FEP_TEST_PAN_SECRET_UNSET"
	os.Unsetenv(panSecretEnv)

	v, err := buildVault()
	if err != nil {
		t.Fatalf("buildVault: %v", err)
	}
	if v == nil {
		t.Fatal("buildVault returned nil vault")
	}
}

func TestBuildRepositoryDefaultsToMemory(t *testing.T) {
	postgresDSN = ""
	repo, closeFn, err := buildRepository()
	if err != nil {
		t.Fatalf("buildRepository: %v", err)
	}
	defer closeFn()

	if _, ok := repo.(*memory.Repository); !ok {
		t.Fatalf("buildRepository() with no DSN = %T, want *memory.Repository", repo)
	}
}

func TestBuildRuleSetEmptyWhenNoFileConfigured(t *testing.T) {
	rulesFile = ""
	rs, err := buildRuleSet()
	if err != nil {
		t.Fatalf("buildRuleSet: %v", err)
	}
	if len(rs.Global()) != 0 {
		t.Fatalf("buildRuleSet() with no rules file should be empty, got %v", rs.Global())
	}
}

func TestBuildRuleSetReadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.txt")
	if err := os.WriteFile(path, []byte("REQUIRED:2,3,4"), 0644); err != nil {
		t.Fatalf("write rules file: %v", err)
	}
	rulesFile = path
	defer func() { rulesFile = "" }()

	rs, err := buildRuleSet()
	if err != nil {
		t.Fatalf("buildRuleSet: %v", err)
	}
	if len(rs.Global()) != 1 {
		t.Fatalf("buildRuleSet() from file = %v, want one REQUIRED rule", rs.Global())
	}
}

func TestResolveCodecUsesDefaultSchema(t *testing.T) {
	cfg := channel.Config{ChannelID: "A"}
	codec := resolveCodec(cfg)
	if codec == nil {
		t.Fatal("resolveCodec returned nil")
	}
	if codec.Schema == nil || len(codec.Schema.Fields) == 0 {
		t.Fatal("resolveCodec built a codec with no schema fields")
	}
}
