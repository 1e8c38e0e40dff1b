// Package config builds an easystore.Store from environment variables.
//
//	EASYSTORE_BACKEND=sqlite EASYSTORE_SQLITE_PATH=data/app.db EASYSTORE_PREFIX=app ./app
package config

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/kjk/easystore"
	"github.com/kjk/easystore/filekv"
	"github.com/kjk/easystore/httpkv"
	"github.com/kjk/easystore/kv"
	"github.com/kjk/easystore/log"
	"github.com/kjk/easystore/miniokv"
	"github.com/kjk/easystore/rediskv"
	"github.com/kjk/easystore/sqlitekv"
	"github.com/kjk/easystore/transform"
)

const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMinio  = "minio"
	BackendHTTP   = "http"
)

type Config struct {
	Backend string `env:"EASYSTORE_BACKEND" envDefault:"memory"`
	Prefix  string `env:"EASYSTORE_PREFIX"`
	// timeout of a single operation of network backends
	Timeout time.Duration `env:"EASYSTORE_TIMEOUT" envDefault:"10s"`

	FilePath             string `env:"EASYSTORE_FILE_PATH" envDefault:"easystore.txt"`
	FileSyncWrite        bool   `env:"EASYSTORE_FILE_SYNC_WRITE"`
	FileCompactThreshold int    `env:"EASYSTORE_FILE_COMPACT_THRESHOLD" envDefault:"1000"`

	SQLitePath string `env:"EASYSTORE_SQLITE_PATH" envDefault:"easystore.db"`

	RedisURL       string `env:"EASYSTORE_REDIS_URL" envDefault:"redis://localhost:6379/0"`
	RedisNamespace string `env:"EASYSTORE_REDIS_NAMESPACE"`

	MinioEndpoint string `env:"EASYSTORE_MINIO_ENDPOINT"`
	MinioAccess   string `env:"EASYSTORE_MINIO_ACCESS"`
	MinioSecret   string `env:"EASYSTORE_MINIO_SECRET"`
	MinioBucket   string `env:"EASYSTORE_MINIO_BUCKET"`
	MinioRegion   string `env:"EASYSTORE_MINIO_REGION"`
	MinioPrefix   string `env:"EASYSTORE_MINIO_PREFIX" envDefault:"easystore/"`
	MinioInsecure bool   `env:"EASYSTORE_MINIO_INSECURE"`

	HTTPURL    string `env:"EASYSTORE_HTTP_URL"`
	HTTPApiKey string `env:"EASYSTORE_HTTP_API_KEY"`

	// hex-encoded 32 byte AES-256 key. If set, values are encrypted
	EncryptionKey string `env:"EASYSTORE_ENCRYPTION_KEY"`
	// "", "brotli" or "zstd"
	Compression string `env:"EASYSTORE_COMPRESSION"`

	LogDir  string `env:"EASYSTORE_LOG_DIR"`
	Verbose bool   `env:"EASYSTORE_VERBOSE"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load returns Config from environment variables
func Load() (*Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// OpenBackend creates the backend selected by cfg.Backend.
// If the backend holds resources, it implements io.Closer.
func OpenBackend(cfg *Config) (kv.Backend, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", BackendMemory:
		return kv.NewMemory(), nil
	case BackendFile:
		s := &filekv.Store{
			Path:             cfg.FilePath,
			SyncWrite:        cfg.FileSyncWrite,
			CompactThreshold: cfg.FileCompactThreshold,
		}
		if err := filekv.OpenStore(s); err != nil {
			return nil, err
		}
		return s, nil
	case BackendSQLite:
		s, err := sqlitekv.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		if cfg.Timeout > 0 {
			s.Timeout = cfg.Timeout
		}
		return s, nil
	case BackendRedis:
		s, err := rediskv.OpenWithTimeout(cfg.RedisURL, cfg.RedisNamespace, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendMinio:
		s, err := miniokv.New(&miniokv.Config{
			Endpoint: cfg.MinioEndpoint,
			Access:   cfg.MinioAccess,
			Secret:   cfg.MinioSecret,
			Bucket:   cfg.MinioBucket,
			Region:   cfg.MinioRegion,
			Prefix:   cfg.MinioPrefix,
			Insecure: cfg.MinioInsecure,
			Timeout:  cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendHTTP:
		if cfg.HTTPURL == "" {
			return nil, fmt.Errorf("EASYSTORE_HTTP_URL is required for backend '%s'", cfg.Backend)
		}
		c := httpkv.NewClient(cfg.HTTPURL)
		c.ApiKey = cfg.HTTPApiKey
		c.Timeout = cfg.Timeout
		return c, nil
	}
	return nil, fmt.Errorf("unknown backend '%s'", cfg.Backend)
}

// Transforms returns functions to pass as post (write) and pre (read)
// transforms to Store methods. They compress and then encrypt as configured.
// Both are nil if no transform is configured.
func Transforms(cfg *Config) (write transform.Func, read transform.Func, err error) {
	var writes, reads []transform.Func
	switch strings.ToLower(cfg.Compression) {
	case "":
		// no compression
	case "brotli":
		writes = append(writes, transform.BrotliCompress)
		reads = append(reads, transform.BrotliDecompress)
	case "zstd":
		writes = append(writes, transform.ZstdCompress)
		reads = append(reads, transform.ZstdDecompress)
	default:
		return nil, nil, fmt.Errorf("unknown compression '%s'", cfg.Compression)
	}
	if cfg.EncryptionKey != "" {
		key, err := hex.DecodeString(cfg.EncryptionKey)
		if err != nil {
			return nil, nil, fmt.Errorf("decode encryption key: %w", err)
		}
		e, err := transform.NewAESGCM(key)
		if err != nil {
			return nil, nil, err
		}
		writes = append(writes, e.Encrypt)
		// decrypt first
		reads = append([]transform.Func{e.Decrypt}, reads...)
	}
	if len(writes) == 0 {
		return nil, nil, nil
	}
	return transform.Chain(writes...), transform.Chain(reads...), nil
}

func initLog(cfg *Config) {
	if cfg.LogDir != "" {
		log.Init(&log.Config{Dir: cfg.LogDir})
	}
	log.Verbose = cfg.Verbose
}

// Open creates a new Store as configured by cfg
func Open(cfg *Config) (*easystore.Store, error) {
	initLog(cfg)
	b, err := OpenBackend(cfg)
	if err != nil {
		return nil, fmt.Errorf("open backend '%s': %w", cfg.Backend, err)
	}
	s := easystore.New(b)
	s.SetPrefix(cfg.Prefix)
	log.Verbosef("config: opened backend '%s' with prefix '%s'\n", cfg.Backend, cfg.Prefix)
	return s, nil
}

// Init configures easystore.Instance(). It must be called before first use
// of easystore.Instance().
func Init(cfg *Config) (*easystore.Store, error) {
	initLog(cfg)
	b, err := OpenBackend(cfg)
	if err != nil {
		return nil, fmt.Errorf("open backend '%s': %w", cfg.Backend, err)
	}
	easystore.DefaultBackend = func() kv.Backend { return b }
	s := easystore.Instance()
	if s.Backend() != b {
		if c, ok := b.(io.Closer); ok {
			_ = c.Close()
		}
		return nil, fmt.Errorf("easystore.Instance() was already created")
	}
	s.SetPrefix(cfg.Prefix)
	return s, nil
}
