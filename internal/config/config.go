// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/netSkope/segment-upload-tool/internal/segment"
	"gopkg.in/yaml.v3"
)

const envPrefix = "SEGMENT_UPLOAD_"

// Upload backends.
const (
	BackendS3    = "s3"
	BackendLocal = "local"
)

// Config holds all configuration for the upload tool.
type Config struct {
	// Input
	File          string
	SegmentSizeMB int  // One of segment.Presets. Default: 50
	AutoConvert   bool // Convert non-CSV input to CSV before segmenting

	// Upload backend
	Backend       string // "s3" or "local". Default: s3
	S3Bucket      string
	S3Prefix      string // Default: segment-uploads
	AWSRegion     string
	S3Endpoint    string // Optional custom endpoint (LocalStack, MinIO)
	LocalDir      string // Target directory for the local backend
	UploadRetries int    // Extra attempts per upload. Default: 0 (no retry)

	// Static AWS keys. The default credential chain is used when empty.
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSSessionToken    string

	// Structure inspection service
	InspectURL          string
	InspectAPIKey       string
	InspectSecret       string // AWS Secrets Manager secret holding {"api_key": "..."}
	InspectSecretRegion string
	InspectTimeout      int // Seconds. Default: 60

	// Optional upload ledger (MySQL/MariaDB)
	LedgerHost         string
	LedgerPort         int
	LedgerUser         string
	LedgerPassword     string
	LedgerSecret       string // AWS Secrets Manager secret holding {"password": "..."}
	LedgerSecretRegion string
	LedgerDatabase     string // Default: uploads
	LedgerTimeout      int    // Seconds. Default: 5

	WriteManifest bool

	// Output Control
	LogDir string
	Debug  bool
	Quiet  bool // Summary lists only uploaded segment references
}

// LoadConfig loads configuration from the process arguments, environment variables and YAML file.
// Priority: CLI flags > environment variables > YAML file > defaults
func LoadConfig() (*Config, error) {
	return Load(os.Args[1:])
}

// Load is LoadConfig with explicit arguments.
func Load(args []string) (*Config, error) {
	cfg := &Config{}
	fs := flag.NewFlagSet("segment-upload", flag.ContinueOnError)

	file := fs.String("file", "", "File to upload (or pass it as the first argument)")
	segmentSize := fs.Int("segment-size", 0, "Segment size in MB: 10, 50, 100 or 500 (default: 50)")
	autoConvert := fs.Bool("auto-convert", false, "Convert non-CSV files to CSV before uploading")
	backend := fs.String("backend", "", "Upload backend: s3 or local (default: s3)")
	s3Bucket := fs.String("s3-bucket", "", "S3 bucket name")
	s3Prefix := fs.String("s3-prefix", "", "S3 key prefix (default: segment-uploads)")
	awsRegion := fs.String("aws-region", "", "AWS region")
	awsAccessKeyID := fs.String("aws-access-key-id", "", "AWS access key ID (default: credential chain)")
	awsSecretAccessKey := fs.String("aws-secret-access-key", "", "AWS secret access key")
	awsSessionToken := fs.String("aws-session-token", "", "AWS session token (optional)")
	s3Endpoint := fs.String("s3-endpoint", "", "Custom S3 endpoint (LocalStack, MinIO)")
	localDir := fs.String("local-dir", "", "Target directory for the local backend")
	uploadRetries := fs.Int("upload-retries", -1, "Extra attempts per failed upload (default: 0)")
	inspectURL := fs.String("inspect-url", "", "Structure inspection service endpoint")
	inspectKey := fs.String("inspect-api-key", "", "Structure inspection service API key")
	inspectSecret := fs.String("inspect-secret", "", "AWS Secrets Manager secret holding the inspection API key")
	inspectSecretRegion := fs.String("inspect-secret-region", "", "AWS region for the inspection secret")
	inspectTimeout := fs.Int("inspect-timeout", 0, "Inspection request timeout in seconds (default: 60)")
	ledgerHost := fs.String("ledger-host", "", "Upload ledger MySQL host (optional)")
	ledgerPort := fs.Int("ledger-port", 0, "Upload ledger port (default: 3306)")
	ledgerUser := fs.String("ledger-user", "", "Upload ledger username")
	ledgerPassword := fs.String("ledger-password", "", "Upload ledger password")
	ledgerAuth := fs.String("ledger-auth", "", "Upload ledger auth file path (JSON with user and password)")
	ledgerSecret := fs.String("ledger-secret", "", "AWS Secrets Manager secret holding the ledger password")
	ledgerSecretRegion := fs.String("ledger-secret-region", "", "AWS region for the ledger secret")
	ledgerDatabase := fs.String("ledger-database", "", "Upload ledger database (default: uploads)")
	writeManifest := fs.Bool("write-manifest", false, "Upload a YAML manifest after a successful session")
	logDir := fs.String("log-dir", "", "Log directory; logs go to stdout when empty")
	debug := fs.Bool("debug", false, "Enable debug logging")
	quiet := fs.Bool("quiet", false, "List only uploaded segment references in the summary")
	configFile := fs.String("config-file", "upload-config.yaml", "Config file path (default: upload-config.yaml)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// Load from YAML file if it exists
	if *configFile != "" {
		if err := loadFromYAML(cfg, *configFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Override with environment variables
	loadFromEnv(cfg)

	// Override with CLI flags (highest priority)
	if fs.NArg() > 0 {
		cfg.File = fs.Arg(0)
	}
	setString(&cfg.File, *file)
	if *segmentSize > 0 {
		cfg.SegmentSizeMB = *segmentSize
	}
	if *autoConvert {
		cfg.AutoConvert = true
	}
	setString(&cfg.Backend, *backend)
	setString(&cfg.S3Bucket, *s3Bucket)
	setString(&cfg.S3Prefix, *s3Prefix)
	setString(&cfg.AWSRegion, *awsRegion)
	setString(&cfg.AWSAccessKeyID, *awsAccessKeyID)
	setString(&cfg.AWSSecretAccessKey, *awsSecretAccessKey)
	setString(&cfg.AWSSessionToken, *awsSessionToken)
	setString(&cfg.S3Endpoint, *s3Endpoint)
	setString(&cfg.LocalDir, *localDir)
	if *uploadRetries >= 0 {
		cfg.UploadRetries = *uploadRetries
	}
	setString(&cfg.InspectURL, *inspectURL)
	setString(&cfg.InspectAPIKey, *inspectKey)
	setString(&cfg.InspectSecret, *inspectSecret)
	setString(&cfg.InspectSecretRegion, *inspectSecretRegion)
	if *inspectTimeout > 0 {
		cfg.InspectTimeout = *inspectTimeout
	}
	setString(&cfg.LedgerHost, *ledgerHost)
	if *ledgerPort > 0 {
		cfg.LedgerPort = *ledgerPort
	}
	// Explicit user and password flags take precedence over the auth file
	if *ledgerAuth != "" {
		if err := cfg.ReadLedgerAuth(*ledgerAuth); err != nil {
			return nil, fmt.Errorf("failed to read ledger auth file: %w", err)
		}
	}
	setString(&cfg.LedgerUser, *ledgerUser)
	setString(&cfg.LedgerPassword, *ledgerPassword)
	setString(&cfg.LedgerSecret, *ledgerSecret)
	setString(&cfg.LedgerSecretRegion, *ledgerSecretRegion)
	setString(&cfg.LedgerDatabase, *ledgerDatabase)
	if *writeManifest {
		cfg.WriteManifest = true
	}
	setString(&cfg.LogDir, *logDir)
	if *debug {
		cfg.Debug = true
	}
	if *quiet {
		cfg.Quiet = true
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setString(dst *string, val string) {
	if val != "" {
		*dst = val
	}
}

func (c *Config) applyDefaults() {
	if c.SegmentSizeMB == 0 {
		c.SegmentSizeMB = segment.DefaultSizeMB
	}
	if c.Backend == "" {
		c.Backend = BackendS3
	}
	if c.S3Prefix == "" {
		c.S3Prefix = "segment-uploads"
	}
	if c.InspectTimeout == 0 {
		c.InspectTimeout = 60
	}
	if c.LedgerPort == 0 {
		c.LedgerPort = 3306
	}
	if c.LedgerDatabase == "" {
		c.LedgerDatabase = "uploads"
	}
	if c.LedgerTimeout == 0 {
		c.LedgerTimeout = 5
	}
	if c.InspectSecretRegion == "" {
		c.InspectSecretRegion = c.AWSRegion
	}
	if c.LedgerSecretRegion == "" {
		c.LedgerSecretRegion = c.AWSRegion
	}
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.File == "" {
		return fmt.Errorf("file is required")
	}
	if !segment.ValidPreset(c.SegmentSizeMB) {
		return fmt.Errorf("segment-size must be one of %v, got %d", segment.Presets, c.SegmentSizeMB)
	}
	if c.UploadRetries < 0 {
		return fmt.Errorf("upload-retries must not be negative, got %d", c.UploadRetries)
	}

	switch c.Backend {
	case BackendS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("s3-bucket is required for the s3 backend")
		}
		if c.AWSRegion == "" {
			return fmt.Errorf("aws-region is required for the s3 backend")
		}
	case BackendLocal:
		if c.LocalDir == "" {
			return fmt.Errorf("local-dir is required for the local backend")
		}
	default:
		return fmt.Errorf("unsupported backend: %s (must be s3 or local)", c.Backend)
	}

	if (c.AWSAccessKeyID == "") != (c.AWSSecretAccessKey == "") {
		return fmt.Errorf("aws-access-key-id and aws-secret-access-key must be set together")
	}
	if c.InspectSecret != "" && c.InspectSecretRegion == "" {
		return fmt.Errorf("inspect-secret-region is required when inspect-secret is set")
	}
	if c.LedgerSecret != "" && c.LedgerSecretRegion == "" {
		return fmt.Errorf("ledger-secret-region is required when ledger-secret is set")
	}
	return nil
}

// SegmentSizeBytes returns the configured segment size in bytes.
func (c *Config) SegmentSizeBytes() int64 {
	return int64(c.SegmentSizeMB) * segment.MB
}

// LedgerEnabled reports whether an upload ledger is configured.
func (c *Config) LedgerEnabled() bool {
	return c.LedgerHost != ""
}

// LedgerAddress returns host[:port], omitting the default port.
func (c *Config) LedgerAddress() string {
	if c.LedgerPort > 0 && c.LedgerPort != 3306 {
		return fmt.Sprintf("%s:%d", c.LedgerHost, c.LedgerPort)
	}
	return c.LedgerHost
}

// loadFromYAML loads configuration from a YAML file.
func loadFromYAML(cfg *Config, filepath string) error {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return err
	}

	var yamlCfg struct {
		File                string `yaml:"file"`
		SegmentSizeMB       int    `yaml:"segment_size_mb"`
		AutoConvert         bool   `yaml:"auto_convert"`
		Backend             string `yaml:"backend"`
		S3Bucket            string `yaml:"s3_bucket"`
		S3Prefix            string `yaml:"s3_prefix"`
		AWSRegion           string `yaml:"aws_region"`
		AWSAccessKeyID      string `yaml:"aws_access_key_id"`
		AWSSecretAccessKey  string `yaml:"aws_secret_access_key"`
		AWSSessionToken     string `yaml:"aws_session_token"`
		S3Endpoint          string `yaml:"s3_endpoint"`
		LocalDir            string `yaml:"local_dir"`
		UploadRetries       int    `yaml:"upload_retries"`
		InspectURL          string `yaml:"inspect_url"`
		InspectAPIKey       string `yaml:"inspect_api_key"`
		InspectSecret       string `yaml:"inspect_secret"`
		InspectSecretRegion string `yaml:"inspect_secret_region"`
		InspectTimeout      int    `yaml:"inspect_timeout"`
		LedgerHost          string `yaml:"ledger_host"`
		LedgerPort          int    `yaml:"ledger_port"`
		LedgerUser          string `yaml:"ledger_user"`
		LedgerPassword      string `yaml:"ledger_password"`
		LedgerSecret        string `yaml:"ledger_secret"`
		LedgerSecretRegion  string `yaml:"ledger_secret_region"`
		LedgerDatabase      string `yaml:"ledger_database"`
		LedgerTimeout       int    `yaml:"ledger_timeout"`
		WriteManifest       bool   `yaml:"write_manifest"`
		LogDir              string `yaml:"log_dir"`
		Debug               bool   `yaml:"debug"`
	}

	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return err
	}

	setString(&cfg.File, yamlCfg.File)
	if yamlCfg.SegmentSizeMB > 0 {
		cfg.SegmentSizeMB = yamlCfg.SegmentSizeMB
	}
	cfg.AutoConvert = yamlCfg.AutoConvert
	setString(&cfg.Backend, yamlCfg.Backend)
	setString(&cfg.S3Bucket, yamlCfg.S3Bucket)
	setString(&cfg.S3Prefix, yamlCfg.S3Prefix)
	setString(&cfg.AWSRegion, yamlCfg.AWSRegion)
	setString(&cfg.AWSAccessKeyID, yamlCfg.AWSAccessKeyID)
	setString(&cfg.AWSSecretAccessKey, yamlCfg.AWSSecretAccessKey)
	setString(&cfg.AWSSessionToken, yamlCfg.AWSSessionToken)
	setString(&cfg.S3Endpoint, yamlCfg.S3Endpoint)
	setString(&cfg.LocalDir, yamlCfg.LocalDir)
	if yamlCfg.UploadRetries > 0 {
		cfg.UploadRetries = yamlCfg.UploadRetries
	}
	setString(&cfg.InspectURL, yamlCfg.InspectURL)
	setString(&cfg.InspectAPIKey, yamlCfg.InspectAPIKey)
	setString(&cfg.InspectSecret, yamlCfg.InspectSecret)
	setString(&cfg.InspectSecretRegion, yamlCfg.InspectSecretRegion)
	if yamlCfg.InspectTimeout > 0 {
		cfg.InspectTimeout = yamlCfg.InspectTimeout
	}
	setString(&cfg.LedgerHost, yamlCfg.LedgerHost)
	if yamlCfg.LedgerPort > 0 {
		cfg.LedgerPort = yamlCfg.LedgerPort
	}
	setString(&cfg.LedgerUser, yamlCfg.LedgerUser)
	setString(&cfg.LedgerPassword, yamlCfg.LedgerPassword)
	setString(&cfg.LedgerSecret, yamlCfg.LedgerSecret)
	setString(&cfg.LedgerSecretRegion, yamlCfg.LedgerSecretRegion)
	setString(&cfg.LedgerDatabase, yamlCfg.LedgerDatabase)
	if yamlCfg.LedgerTimeout > 0 {
		cfg.LedgerTimeout = yamlCfg.LedgerTimeout
	}
	cfg.WriteManifest = yamlCfg.WriteManifest
	setString(&cfg.LogDir, yamlCfg.LogDir)
	cfg.Debug = yamlCfg.Debug

	return nil
}

// loadFromEnv loads configuration from environment variables.
func loadFromEnv(cfg *Config) {
	envString(&cfg.File, "FILE")
	envInt(&cfg.SegmentSizeMB, "SEGMENT_SIZE_MB")
	envBool(&cfg.AutoConvert, "AUTO_CONVERT")
	envString(&cfg.Backend, "BACKEND")
	envString(&cfg.S3Bucket, "S3_BUCKET")
	envString(&cfg.S3Prefix, "S3_PREFIX")
	envString(&cfg.AWSRegion, "AWS_REGION")
	envString(&cfg.AWSAccessKeyID, "AWS_ACCESS_KEY_ID")
	envString(&cfg.AWSSecretAccessKey, "AWS_SECRET_ACCESS_KEY")
	envString(&cfg.AWSSessionToken, "AWS_SESSION_TOKEN")
	envString(&cfg.S3Endpoint, "S3_ENDPOINT")
	envString(&cfg.LocalDir, "LOCAL_DIR")
	envInt(&cfg.UploadRetries, "UPLOAD_RETRIES")
	envString(&cfg.InspectURL, "INSPECT_URL")
	envString(&cfg.InspectAPIKey, "INSPECT_API_KEY")
	envString(&cfg.InspectSecret, "INSPECT_SECRET")
	envString(&cfg.InspectSecretRegion, "INSPECT_SECRET_REGION")
	envInt(&cfg.InspectTimeout, "INSPECT_TIMEOUT")
	envString(&cfg.LedgerHost, "LEDGER_HOST")
	envInt(&cfg.LedgerPort, "LEDGER_PORT")
	envString(&cfg.LedgerUser, "LEDGER_USER")
	envString(&cfg.LedgerPassword, "LEDGER_PASSWORD")
	envString(&cfg.LedgerSecret, "LEDGER_SECRET")
	envString(&cfg.LedgerSecretRegion, "LEDGER_SECRET_REGION")
	envString(&cfg.LedgerDatabase, "LEDGER_DATABASE")
	envBool(&cfg.WriteManifest, "WRITE_MANIFEST")
	envString(&cfg.LogDir, "LOG_DIR")
	envBool(&cfg.Debug, "DEBUG")
}

func envString(dst *string, key string) {
	if val := os.Getenv(envPrefix + key); val != "" {
		*dst = val
	}
}

func envInt(dst *int, key string) {
	if val := os.Getenv(envPrefix + key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			*dst = n
		}
	}
}

func envBool(dst *bool, key string) {
	if val := os.Getenv(envPrefix + key); val != "" {
		*dst = val == "true" || val == "1"
	}
}

// GetLedgerDSN returns the ledger connection string without credentials resolution.
func (c *Config) GetLedgerDSN() string {
	dsn := fmt.Sprintf("tcp(%s)/%s?parseTime=true", c.LedgerAddress(), c.LedgerDatabase)
	if c.LedgerUser != "" {
		if c.LedgerPassword != "" {
			dsn = fmt.Sprintf("%s:%s@%s", c.LedgerUser, c.LedgerPassword, dsn)
		} else {
			dsn = fmt.Sprintf("%s@%s", c.LedgerUser, dsn)
		}
	}
	return dsn
}

// ReadLedgerAuth reads ledger credentials from an auth file (JSON format).
func (c *Config) ReadLedgerAuth(authFile string) error {
	if authFile == "" {
		return nil
	}

	data, err := os.ReadFile(authFile)
	if err != nil {
		return fmt.Errorf("failed to read auth file: %w", err)
	}

	var auth struct {
		User     string `json:"user"`
		Password string `json:"password"`
	}

	if err := json.Unmarshal(data, &auth); err != nil {
		return fmt.Errorf("failed to parse auth file: %w", err)
	}

	c.LedgerUser = auth.User
	c.LedgerPassword = auth.Password
	return nil
}
