// Package config holds backend connection parameters and engine options. Values
// come from VERDICT_* environment variables and are overridden by CLI flags.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/sahithikokkula/verdict-aqe/pkg/errdefs"
)

// Kind tags the backing store a Backend points at.
type Kind string

const (
	KindSQLite Kind = "sqlite"
	KindMySQL  Kind = "mysql"
)

// Backend is a tagged variant: Kind selects which of the remaining fields apply.
// SQLite uses Path (":memory:" for a private in-memory store) and SchemaDir
// (where attached schemas live; empty keeps them in memory). MySQL uses Host,
// Port, User, Password and the optional default Database.
type Backend struct {
	Kind      Kind   `json:"kind"`
	Path      string `json:"path,omitempty"`
	SchemaDir string `json:"schema_dir,omitempty"`
	Host      string `json:"host,omitempty"`
	Port      int    `json:"port,omitempty"`
	Database  string `json:"database,omitempty"`
	User      string `json:"user,omitempty"`
	Password  string `json:"-"`
}

func SQLite(path string) Backend {
	if path == "" {
		path = ":memory:"
	}
	return Backend{Kind: KindSQLite, Path: path}
}

func MySQL(host string, port int, user, password, database string) Backend {
	if port == 0 {
		port = 3306
	}
	return Backend{Kind: KindMySQL, Host: host, Port: port, User: user, Password: password, Database: database}
}

func (b Backend) Validate() error {
	switch b.Kind {
	case KindSQLite:
		if b.Path == "" {
			return errdefs.Newf(errdefs.ErrInvalidArgument, "sqlite backend requires a path")
		}
	case KindMySQL:
		if b.Host == "" || b.User == "" {
			return errdefs.Newf(errdefs.ErrInvalidArgument, "mysql backend requires host and user")
		}
		if b.Port <= 0 || b.Port > 65535 {
			return errdefs.Newf(errdefs.ErrInvalidArgument, "invalid port %d", b.Port)
		}
	default:
		return errdefs.Newf(errdefs.ErrInvalidArgument, "unknown backend %q", b.Kind)
	}
	return nil
}

// String never includes the password.
func (b Backend) String() string {
	if b.Kind == KindSQLite {
		return fmt.Sprintf("sqlite:%s", b.Path)
	}
	return fmt.Sprintf("%s://%s@%s:%d/%s", b.Kind, b.User, b.Host, b.Port, b.Database)
}

// Metadata store kinds.
const (
	MetaStoreSQL    = "sql"
	MetaStoreBadger = "badger"
)

// Options tune scrambling and approximate execution.
type Options struct {
	BlockColumn      string  `json:"block_column"`
	ScrambleSuffix   string  `json:"scramble_suffix"`
	DefaultBlockSize int64   `json:"default_block_size"`
	DefaultMethod    string  `json:"default_method"`
	ScanBlocks       int     `json:"scan_blocks"` // 0 scans every block
	Confidence       float64 `json:"confidence"`
	BuildSketches    bool    `json:"build_sketches"`
	MetaStore        string  `json:"meta_store"`
	MetaPath         string  `json:"meta_path,omitempty"` // badger directory, empty for in-memory
	CacheMetadata    bool    `json:"cache_metadata"`
}

func DefaultOptions() Options {
	return Options{
		BlockColumn:      "verdictdbblock",
		ScrambleSuffix:   "_scrambled",
		DefaultBlockSize: 1_000_000,
		DefaultMethod:    "uniform",
		Confidence:       0.95,
		BuildSketches:    true,
		MetaStore:        MetaStoreSQL,
		CacheMetadata:    true,
	}
}

func (o Options) Validate() error {
	if o.BlockColumn == "" {
		return errdefs.Newf(errdefs.ErrInvalidArgument, "block column name required")
	}
	if o.DefaultBlockSize < 1 {
		return errdefs.Newf(errdefs.ErrInvalidArgument, "default block size must be positive")
	}
	if o.ScanBlocks < 0 {
		return errdefs.Newf(errdefs.ErrInvalidArgument, "scan blocks must not be negative")
	}
	if o.Confidence <= 0 || o.Confidence >= 1 {
		return errdefs.Newf(errdefs.ErrInvalidArgument, "confidence must be in (0,1)")
	}
	if o.MetaStore != MetaStoreSQL && o.MetaStore != MetaStoreBadger {
		return errdefs.Newf(errdefs.ErrInvalidArgument, "unknown meta store %q", o.MetaStore)
	}
	return nil
}

// Config is everything a process needs: where the data lives, how to scramble
// it and where to listen.
type Config struct {
	Backend Backend
	Options Options
	Port    string
	Verbose bool
}

// FromEnv reads the VERDICT_* variables. AQE_DB_PATH is still honoured for the
// SQLite path.
func FromEnv() Config {
	cfg := Config{Options: DefaultOptions(), Port: getenv("PORT", "8080")}

	switch Kind(getenv("VERDICT_BACKEND", string(KindSQLite))) {
	case KindMySQL:
		cfg.Backend = MySQL(
			getenv("VERDICT_HOST", "localhost"),
			getenvInt("VERDICT_PORT", 3306),
			getenv("VERDICT_USER", "root"),
			os.Getenv("VERDICT_PASSWORD"),
			os.Getenv("VERDICT_DATABASE"))
	default:
		path := os.Getenv("VERDICT_DB_PATH")
		if path == "" {
			path = getenv("AQE_DB_PATH", "verdict.sqlite")
		}
		cfg.Backend = SQLite(path)
		cfg.Backend.SchemaDir = os.Getenv("VERDICT_SCHEMA_DIR")
	}

	cfg.Options.MetaStore = getenv("VERDICT_META_STORE", cfg.Options.MetaStore)
	cfg.Options.MetaPath = os.Getenv("VERDICT_META_PATH")
	if v := getenvInt("VERDICT_BLOCK_SIZE", 0); v > 0 {
		cfg.Options.DefaultBlockSize = int64(v)
	}
	cfg.Options.ScanBlocks = getenvInt("VERDICT_SCAN_BLOCKS", 0)
	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
