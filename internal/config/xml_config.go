// Package config provides XML-based configuration with environment overrides.
package config

import (
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/labstack/gommon/bytes"
	"github.com/valuedesk/backend/internal/storage"
	"github.com/valuedesk/backend/internal/upload"
)

// Storage backends.
const (
	BackendDisk = "disk"
	BackendS3   = "s3"
)

// AppConfig represents the root XML configuration structure
type AppConfig struct {
	XMLName xml.Name `xml:"ValuationDesk"`

	Server   ServerConfig   `xml:"Server"`
	Storage  StorageConfig  `xml:"Storage"`
	Upload   UploadConfig   `xml:"Upload"`
	Batches  BatchConfig    `xml:"Batches"`
	Security SecurityConfig `xml:"Security"`
	Advanced AdvancedConfig `xml:"Advanced"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         int    `xml:"Port" env:"PORT"`
	BindAddress  string `xml:"BindAddress" env:"BIND_ADDRESS"`
	EnableCORS   bool   `xml:"EnableCORS"`
	AllowOrigins string `xml:"AllowOrigins" env:"ALLOW_ORIGINS"`
	ReadTimeout  int    `xml:"ReadTimeoutSeconds"`
	WriteTimeout int    `xml:"WriteTimeoutSeconds"`
	IdleTimeout  int    `xml:"IdleTimeoutSeconds"`
	BodyLimit    string `xml:"BodyLimit"`
	// DashboardDirectory holds a built dashboard served at /.
	DashboardDirectory string `xml:"DashboardDirectory" env:"DASHBOARD_DIR"`
}

// StorageConfig selects where uploaded files and the catalog live
type StorageConfig struct {
	Backend          string   `xml:"Backend" env:"STORAGE_BACKEND"`
	DataDirectory    string   `xml:"DataDirectory" env:"DATA_DIR"`
	UploadsDirectory string   `xml:"UploadsDirectory" env:"UPLOADS_DIR"`
	CatalogPath      string   `xml:"CatalogPath" env:"CATALOG_PATH"`
	S3               S3Config `xml:"S3"`
}

// S3Config holds bucket settings for the s3 backend
type S3Config struct {
	Region    string `xml:"Region" env:"AWS_REGION"`
	Bucket    string `xml:"Bucket" env:"S3_BUCKET"`
	Prefix    string `xml:"Prefix" env:"S3_PREFIX"`
	Endpoint  string `xml:"Endpoint" env:"S3_ENDPOINT"`
	AccessKey string `xml:"AccessKey" env:"AWS_ACCESS_KEY_ID"`
	SecretKey string `xml:"SecretKey" env:"AWS_SECRET_ACCESS_KEY"`
}

// UploadConfig holds the default policy for new batches
type UploadConfig struct {
	MaxFileCount           int    `xml:"MaxFileCount" env:"UPLOAD_MAX_FILES"`
	MaxFileSizeBytes       int64  `xml:"MaxFileSizeBytes" env:"UPLOAD_MAX_FILE_SIZE"`
	AllowedTypes           string `xml:"AllowedTypes" env:"UPLOAD_ALLOWED_TYPES"`
	ExtractionEnabled      bool   `xml:"ExtractionEnabled" env:"UPLOAD_EXTRACTION_ENABLED"`
	AutoApplyExtractedData bool   `xml:"AutoApplyExtractedData"`
	MaxConcurrentUploads   int    `xml:"MaxConcurrentUploads" env:"UPLOAD_MAX_CONCURRENT"`
	// PolicyFile points at a YAML policy that replaces the values above.
	PolicyFile string `xml:"PolicyFile" env:"UPLOAD_POLICY"`
}

// BatchConfig contains batch lifecycle settings
type BatchConfig struct {
	MaxBatches             int `xml:"MaxBatches" env:"MAX_BATCHES"`
	IdleTimeoutMinutes     int `xml:"IdleTimeoutMinutes"`
	CleanupIntervalMinutes int `xml:"CleanupIntervalMinutes"`
}

// SecurityConfig contains security settings
type SecurityConfig struct {
	AllowFileDeletion bool   `xml:"AllowFileDeletion"`
	RequireAuth       bool   `xml:"RequireAuthentication" env:"REQUIRE_AUTH"`
	AuthToken         string `xml:"AuthToken" env:"AUTH_TOKEN"`
}

// AdvancedConfig contains advanced/tuning options
type AdvancedConfig struct {
	LogLevel             string `xml:"LogLevel" env:"LOG_LEVEL"`
	EnableRequestLogging bool   `xml:"EnableRequestLogging"`
	WebSocketPingSeconds int    `xml:"WebSocketPingSeconds"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	defaults := upload.DefaultOptions()
	return &AppConfig{
		Server: ServerConfig{
			Port:         8090,
			BindAddress:  "0.0.0.0",
			EnableCORS:   true,
			AllowOrigins: "*",
			ReadTimeout:  30,
			WriteTimeout: 60,
			IdleTimeout:  120,
			BodyLimit:    "120M",

			DashboardDirectory: "./dashboard",
		},
		Storage: StorageConfig{
			Backend:          BackendDisk,
			DataDirectory:    "./data",
			UploadsDirectory: "./data/uploads",
			CatalogPath:      "./data/catalog.duckdb",
		},
		Upload: UploadConfig{
			MaxFileCount:           defaults.MaxFileCount,
			MaxFileSizeBytes:       defaults.MaxFileSizeBytes,
			AllowedTypes:           strings.Join(defaults.AllowedTypes, ","),
			ExtractionEnabled:      defaults.ExtractionEnabled,
			AutoApplyExtractedData: defaults.AutoApplyExtractedData,
			MaxConcurrentUploads:   4,
		},
		Batches: BatchConfig{
			MaxBatches:             20,
			IdleTimeoutMinutes:     30,
			CleanupIntervalMinutes: 5,
		},
		Security: SecurityConfig{
			AllowFileDeletion: true,
		},
		Advanced: AdvancedConfig{
			LogLevel:             "info",
			EnableRequestLogging: true,
			WebSocketPingSeconds: 30,
		},
	}
}

// LoadConfig loads configuration from an XML file, creating it with defaults
// when missing. A .env file next to it and the process environment override
// the file values.
func LoadConfig(configPath string) (*AppConfig, error) {
	var config *AppConfig

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		config = DefaultConfig()
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Elements missing from the file keep their defaults.
		config = DefaultConfig()
		if err := xml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	configDir := filepath.Dir(configPath)
	envFile := filepath.Join(configDir, ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	if err := cleanenv.ReadEnv(config); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	config.resolvePaths(configDir)
	return config, nil
}

// Save saves the configuration to XML file
func (c *AppConfig) Save(configPath string) error {
	output, err := xml.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(xml.Header + "\n<!-- Valuation Desk Configuration -->\n<!-- This file is auto-generated on first run -->\n\n")
	content := append(header, output...)

	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks settings that would otherwise fail at startup.
func (c *AppConfig) Validate() error {
	switch c.Storage.Backend {
	case BackendDisk:
	case BackendS3:
		if c.Storage.S3.Bucket == "" || c.Storage.S3.Region == "" {
			return errors.New("s3 backend requires Storage.S3.Bucket and Storage.S3.Region")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Security.RequireAuth && c.Security.AuthToken == "" {
		return errors.New("RequireAuthentication is set but AuthToken is empty")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("Server.Port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if limit, err := bytes.Parse(c.Server.BodyLimit); err != nil || limit <= 0 {
		return fmt.Errorf("Server.BodyLimit %q is not a positive size", c.Server.BodyLimit)
	}
	if c.Batches.CleanupIntervalMinutes <= 0 {
		return fmt.Errorf("Batches.CleanupIntervalMinutes must be positive, got %d", c.Batches.CleanupIntervalMinutes)
	}
	if c.Batches.IdleTimeoutMinutes <= 0 {
		return fmt.Errorf("Batches.IdleTimeoutMinutes must be positive, got %d", c.Batches.IdleTimeoutMinutes)
	}
	return nil
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	for _, p := range []*string{
		&c.Server.DashboardDirectory,
		&c.Storage.DataDirectory,
		&c.Storage.UploadsDirectory,
		&c.Storage.CatalogPath,
		&c.Upload.PolicyFile,
	} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(configDir, *p)
		}
	}
}

// UploadOptions returns the default batch policy. A configured policy file
// takes precedence over the inline values.
func (c *AppConfig) UploadOptions() (upload.Options, error) {
	if c.Upload.PolicyFile != "" {
		return upload.LoadPolicy(c.Upload.PolicyFile)
	}

	var types []string
	for _, t := range strings.Split(c.Upload.AllowedTypes, ",") {
		if t = strings.TrimSpace(t); t != "" {
			types = append(types, t)
		}
	}

	opts := upload.Options{
		MaxFileCount:           c.Upload.MaxFileCount,
		MaxFileSizeBytes:       c.Upload.MaxFileSizeBytes,
		AllowedTypes:           types,
		ExtractionEnabled:      c.Upload.ExtractionEnabled,
		AutoApplyExtractedData: c.Upload.AutoApplyExtractedData,
		MaxConcurrentUploads:   c.Upload.MaxConcurrentUploads,
	}
	return opts, opts.Validate()
}

// S3 returns the blob settings for the s3 backend.
func (c *AppConfig) S3() storage.S3Config {
	s := c.Storage.S3
	return storage.S3Config{
		Region:    s.Region,
		Bucket:    s.Bucket,
		Prefix:    s.Prefix,
		Endpoint:  s.Endpoint,
		AccessKey: s.AccessKey,
		SecretKey: s.SecretKey,
	}
}

// GetDataDir returns the absolute data directory path
func (c *AppConfig) GetDataDir() string {
	return c.Storage.DataDirectory
}

// GetUploadDir returns the absolute uploads directory path
func (c *AppConfig) GetUploadDir() string {
	return c.Storage.UploadsDirectory
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	dirs := []string{c.Storage.DataDirectory}
	if c.Storage.Backend == BackendDisk {
		dirs = append(dirs, c.Storage.UploadsDirectory)
	}
	if c.Storage.CatalogPath != "" {
		dirs = append(dirs, filepath.Dir(c.Storage.CatalogPath))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
