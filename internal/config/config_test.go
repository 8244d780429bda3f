package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := &Config{
		InstanceID: "test-instance-abc",
		BaseDir:    "/home/user/.local/share/ib",
		LogDir:     "/home/user/.local/share/ib/log",
		Database:   DatabaseConfig{Type: "bolt", DataDir: "/home/user/.local/share/ib/db"},
		Files:      FilesConfig{BasePath: "/media/boards"},
		Vault: VaultConfig{
			Type:       "s3",
			Name:       "offsite",
			S3Bucket:   "snapshots",
			S3Prefix:   "ib",
			S3Region:   "eu-west-1",
			S3Endpoint: "http://localhost:9000",
		},
		Encryption: EncryptionConfig{
			Type:           "age",
			PublicKeyPath:  "/home/user/.local/share/ib/keys/ib.pub",
			PrivateKeyPath: "/home/user/.local/share/ib/keys/ib.key",
		},
		Query: QueryConfig{Limit: 50, Sort: "rating", SortOrder: "asc"},
	}

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.InstanceID != original.InstanceID {
		t.Errorf("InstanceID = %q, want %q", got.InstanceID, original.InstanceID)
	}
	if got.LogDir != original.LogDir {
		t.Errorf("LogDir = %q, want %q", got.LogDir, original.LogDir)
	}
	if got.Database != original.Database {
		t.Errorf("Database = %+v, want %+v", got.Database, original.Database)
	}
	if got.Files.BasePath != "/media/boards" {
		t.Errorf("Files.BasePath = %q, want %q", got.Files.BasePath, "/media/boards")
	}
	if got.Vault != original.Vault {
		t.Errorf("Vault = %+v, want %+v", got.Vault, original.Vault)
	}
	if got.Encryption != original.Encryption {
		t.Errorf("Encryption = %+v, want %+v", got.Encryption, original.Encryption)
	}
	if got.Query != original.Query {
		t.Errorf("Query = %+v, want %+v", got.Query, original.Query)
	}
}

func TestManager_Read_QueryDefaults(t *testing.T) {
	tests := []struct {
		name string
		toml string
		want QueryConfig
	}{
		{
			name: "no query table",
			toml: "instance_id = \"abc\"\n",
			want: DefaultQueryConfig(),
		},
		{
			name: "partial query table",
			toml: "instance_id = \"abc\"\n[query]\nlimit = 10\n",
			want: QueryConfig{Limit: 10, Sort: "date-uploaded", SortOrder: "desc", ShowFavorites: true},
		},
		{
			name: "favorites hidden explicitly",
			toml: "instance_id = \"abc\"\n[query]\nshow_favorites = false\n",
			want: QueryConfig{Limit: 100, Sort: "date-uploaded", SortOrder: "desc", ShowFavorites: false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Manager{}
			got, err := m.Read(strings.NewReader(tt.toml))
			if err != nil {
				t.Fatalf("Read() error = %v", err)
			}
			if got.Query != tt.want {
				t.Errorf("Query = %+v, want %+v", got.Query, tt.want)
			}
		})
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("instance-1", "/data/ib")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"InstanceID", cfg.InstanceID, "instance-1"},
		{"BaseDir", cfg.BaseDir, "/data/ib"},
		{"LogDir", cfg.LogDir, "/data/ib/log"},
		{"Database.Type", cfg.Database.Type, "sqlite"},
		{"Database.DataDir", cfg.Database.DataDir, "/data/ib/db"},
		{"Files.BasePath", cfg.Files.BasePath, "/data/ib/files"},
		{"Vault.FSVaultRoot", cfg.Vault.FSVaultRoot, "/data/ib/vault"},
		{"Encryption.PublicKeyPath", cfg.Encryption.PublicKeyPath, "/data/ib/keys/ib.pub"},
		{"Encryption.PrivateKeyPath", cfg.Encryption.PrivateKeyPath, "/data/ib/keys/ib.key"},
		{"Query.Sort", cfg.Query.Sort, "date-uploaded"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() on defaults error = %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing instance id", func(c *Config) { c.InstanceID = "" }, "instance_id"},
		{"sqlite without data dir", func(c *Config) { c.Database = DatabaseConfig{Type: "sqlite"} }, "data_dir"},
		{"bolt without data dir", func(c *Config) { c.Database = DatabaseConfig{Type: "bolt"} }, "data_dir"},
		{"unknown database", func(c *Config) { c.Database.Type = "postgres" }, "unknown database type"},
		{"negative limit", func(c *Config) { c.Query.Limit = -1 }, "query.limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig("i1", "/data/ib")
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want it to mention %q", err, tt.wantErr)
			}
		})
	}

	t.Run("memory needs no data dir", func(t *testing.T) {
		cfg := NewConfig("i1", "/data/ib")
		cfg.Database = DatabaseConfig{Type: "memory"}
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() error = %v", err)
		}
	})
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "nested", "ib.toml")
		cfg := NewConfig("i1", dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		if _, err := os.Stat(path); err != nil {
			t.Fatalf("config file not created: %v", err)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "ib.toml")
		cfg := NewConfig("i1", dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}

		if err := Init(path, cfg); err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "ib.toml")
		cfg := NewConfig("read-test", dir)
		cfg.Database = DatabaseConfig{Type: "memory"}

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.InstanceID != "read-test" {
			t.Errorf("InstanceID = %q, want %q", got.InstanceID, "read-test")
		}
		if got.Database.Type != "memory" {
			t.Errorf("Database.Type = %q, want %q", got.Database.Type, "memory")
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		if _, err := ReadFromFile("/nonexistent/path/ib.toml"); err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})
}
