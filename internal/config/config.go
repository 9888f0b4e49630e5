package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SepoliaUSDC is the USDC token contract on the Sepolia test network.
const SepoliaUSDC = "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238"

type Config struct {
	// HTTP Server
	Port string

	// Backend selection
	DataBackend  string
	SQLiteDBPath string
	// MemorySeedFile optionally preloads the memory backend from a JSON array.
	MemorySeedFile string

	// Chain source
	RPCURL         string
	TokenContract  string
	TokenDecimals  int
	FetchBatchSize int
	PollInterval   time.Duration

	// AMQP
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// S3 archive
	S3Bucket    string
	S3Region    string
	S3Prefix    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string

	// Auth
	AuthUsername string
	AuthPassword string
	JWTSecret    string
	TokenTTL     time.Duration

	// Analytics
	AnomalyContamination float64
	DashboardWindow      time.Duration
	TransactionsLimit    int

	// Logging
	LogLevel      string
	LogFormat     string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
}

// fileConfig mirrors Config for the optional YAML overlay named by CONFIG_FILE.
// Durations are strings in time.ParseDuration syntax.
type fileConfig struct {
	Port    string `yaml:"port"`
	Backend struct {
		Type       string `yaml:"type"`
		SQLitePath string `yaml:"sqlite_path"`
		SeedFile   string `yaml:"seed_file"`
	} `yaml:"backend"`
	Chain struct {
		RPCURL        string `yaml:"rpc_url"`
		TokenContract string `yaml:"token_contract"`
		TokenDecimals int    `yaml:"token_decimals"`
		BatchSize     int    `yaml:"batch_size"`
		PollInterval  string `yaml:"poll_interval"`
	} `yaml:"chain"`
	AMQP struct {
		URL      string `yaml:"url"`
		Exchange string `yaml:"exchange"`
		Queue    string `yaml:"queue"`
	} `yaml:"amqp"`
	S3 struct {
		Bucket   string `yaml:"bucket"`
		Region   string `yaml:"region"`
		Prefix   string `yaml:"prefix"`
		Endpoint string `yaml:"endpoint"`
	} `yaml:"s3"`
	Auth struct {
		Username string `yaml:"username"`
		TokenTTL string `yaml:"token_ttl"`
	} `yaml:"auth"`
	Analytics struct {
		Contamination     float64 `yaml:"contamination"`
		DashboardWindow   string  `yaml:"dashboard_window"`
		TransactionsLimit int     `yaml:"transactions_limit"`
	} `yaml:"analytics"`
	Log struct {
		Level      string `yaml:"level"`
		Format     string `yaml:"format"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
	} `yaml:"log"`
}

// Defaults returns the configuration used when neither a file nor the
// environment set a value.
func Defaults() *Config {
	return &Config{
		Port:                 "5006",
		DataBackend:          "memory",
		SQLiteDBPath:         "./data/stablewatch.db",
		TokenContract:        SepoliaUSDC,
		TokenDecimals:        6,
		FetchBatchSize:       100,
		PollInterval:         60 * time.Second,
		AMQPExchange:         "stablewatch",
		AMQPQueue:            "transactions_ingested",
		AuthUsername:         "admin",
		AuthPassword:         "demo123",
		TokenTTL:             24 * time.Hour,
		AnomalyContamination: 0.1,
		DashboardWindow:      24 * time.Hour,
		TransactionsLimit:    500,
		LogLevel:             "info",
		LogFormat:            "text",
		LogMaxSizeMB:         50,
		LogMaxBackups:        5,
	}
}

// Load builds the configuration from defaults, the YAML file named by
// CONFIG_FILE (if any) and the environment, in increasing precedence.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&c.Port, fc.Port)
	setString(&c.DataBackend, fc.Backend.Type)
	setString(&c.SQLiteDBPath, fc.Backend.SQLitePath)
	setString(&c.MemorySeedFile, fc.Backend.SeedFile)

	setString(&c.RPCURL, fc.Chain.RPCURL)
	setString(&c.TokenContract, fc.Chain.TokenContract)
	setInt(&c.TokenDecimals, fc.Chain.TokenDecimals)
	setInt(&c.FetchBatchSize, fc.Chain.BatchSize)

	setString(&c.AMQPURL, fc.AMQP.URL)
	setString(&c.AMQPExchange, fc.AMQP.Exchange)
	setString(&c.AMQPQueue, fc.AMQP.Queue)

	setString(&c.S3Bucket, fc.S3.Bucket)
	setString(&c.S3Region, fc.S3.Region)
	setString(&c.S3Prefix, fc.S3.Prefix)
	setString(&c.S3Endpoint, fc.S3.Endpoint)

	setString(&c.AuthUsername, fc.Auth.Username)

	if fc.Analytics.Contamination != 0 {
		c.AnomalyContamination = fc.Analytics.Contamination
	}
	setInt(&c.TransactionsLimit, fc.Analytics.TransactionsLimit)

	setString(&c.LogLevel, fc.Log.Level)
	setString(&c.LogFormat, fc.Log.Format)
	setString(&c.LogFile, fc.Log.File)
	setInt(&c.LogMaxSizeMB, fc.Log.MaxSizeMB)
	setInt(&c.LogMaxBackups, fc.Log.MaxBackups)

	durations := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"chain.poll_interval", fc.Chain.PollInterval, &c.PollInterval},
		{"auth.token_ttl", fc.Auth.TokenTTL, &c.TokenTTL},
		{"analytics.dashboard_window", fc.Analytics.DashboardWindow, &c.DashboardWindow},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("config file %s: invalid %s %q: %w", path, d.name, d.value, err)
		}
		*d.dst = parsed
	}

	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.DataBackend = getEnv("DATA_BACKEND", c.DataBackend)
	c.SQLiteDBPath = getEnv("SQLITE_DB_PATH", c.SQLiteDBPath)
	c.MemorySeedFile = getEnv("MEMORY_SEED_FILE", c.MemorySeedFile)

	c.RPCURL = getEnv("RPC_URL", c.RPCURL)
	c.TokenContract = getEnv("TOKEN_CONTRACT", c.TokenContract)
	c.TokenDecimals = getEnvInt("TOKEN_DECIMALS", c.TokenDecimals)
	c.FetchBatchSize = getEnvInt("FETCH_BATCH_SIZE", c.FetchBatchSize)
	c.PollInterval = getEnvDuration("POLL_INTERVAL", c.PollInterval)

	c.AMQPURL = getEnv("AMQP_URL", c.AMQPURL)
	c.AMQPExchange = getEnv("AMQP_EXCHANGE", c.AMQPExchange)
	c.AMQPQueue = getEnv("AMQP_QUEUE", c.AMQPQueue)

	c.S3Bucket = getEnv("S3_BUCKET", c.S3Bucket)
	c.S3Region = getEnv("S3_REGION", c.S3Region)
	c.S3Prefix = getEnv("S3_PREFIX", c.S3Prefix)
	c.S3Endpoint = getEnv("S3_ENDPOINT", c.S3Endpoint)
	c.S3AccessKey = getEnv("AWS_ACCESS_KEY_ID", c.S3AccessKey)
	c.S3SecretKey = getEnv("AWS_SECRET_ACCESS_KEY", c.S3SecretKey)

	c.AuthUsername = getEnv("AUTH_USERNAME", c.AuthUsername)
	c.AuthPassword = getEnv("AUTH_PASSWORD", c.AuthPassword)
	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)
	c.TokenTTL = getEnvDuration("TOKEN_TTL", c.TokenTTL)

	c.AnomalyContamination = getEnvFloat("ANOMALY_CONTAMINATION", c.AnomalyContamination)
	c.DashboardWindow = getEnvDuration("DASHBOARD_WINDOW", c.DashboardWindow)
	c.TransactionsLimit = getEnvInt("TRANSACTIONS_LIMIT", c.TransactionsLimit)

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
	c.LogFile = getEnv("LOG_FILE", c.LogFile)
	c.LogMaxSizeMB = getEnvInt("LOG_MAX_SIZE_MB", c.LogMaxSizeMB)
	c.LogMaxBackups = getEnvInt("LOG_MAX_BACKUPS", c.LogMaxBackups)
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	// Validate data backend
	validBackends := []string{"memory", "sqlite"}
	isValidBackend := false
	for _, backend := range validBackends {
		if c.DataBackend == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	// Validate SQLite configuration if backend is sqlite
	if c.DataBackend == "sqlite" {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	}

	// Validate RPC URL if provided
	if c.RPCURL != "" {
		if parsedURL, err := url.Parse(c.RPCURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid RPC URL: %v", err))
		} else if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
			errors = append(errors, fmt.Sprintf("invalid RPC URL scheme '%s': must be 'http' or 'https'", parsedURL.Scheme))
		}
	}

	if !isHexAddress(c.TokenContract) {
		errors = append(errors, fmt.Sprintf("invalid token contract '%s': must be a 0x-prefixed 20-byte hex address", c.TokenContract))
	}
	if c.TokenDecimals < 0 || c.TokenDecimals > 36 {
		errors = append(errors, fmt.Sprintf("invalid token decimals %d: must be between 0 and 36", c.TokenDecimals))
	}

	// Validate fetch configuration
	if c.FetchBatchSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid fetch batch size %d: must be at least 1", c.FetchBatchSize))
	} else if c.FetchBatchSize > 1000 {
		errors = append(errors, fmt.Sprintf("invalid fetch batch size %d: must be at most 1000", c.FetchBatchSize))
	}

	if c.PollInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid poll interval %v: must be at least 1 second", c.PollInterval))
	} else if c.PollInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid poll interval %v: must be at most 24 hours", c.PollInterval))
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.S3Bucket != "" && c.S3Region == "" {
		errors = append(errors, "S3 region cannot be empty when S3 bucket is provided")
	}

	// Validate auth
	if c.AuthUsername == "" {
		errors = append(errors, "auth username cannot be empty")
	}
	if c.AuthPassword == "" {
		errors = append(errors, "auth password cannot be empty")
	}
	if c.TokenTTL < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid token TTL %v: must be at least 1 minute", c.TokenTTL))
	}

	// Validate analytics
	if c.AnomalyContamination <= 0 || c.AnomalyContamination > 0.5 {
		errors = append(errors, fmt.Sprintf("invalid anomaly contamination %v: must be in (0, 0.5]", c.AnomalyContamination))
	}
	if c.DashboardWindow <= 0 {
		errors = append(errors, fmt.Sprintf("invalid dashboard window %v: must be positive", c.DashboardWindow))
	}
	if c.TransactionsLimit < 1 {
		errors = append(errors, fmt.Sprintf("invalid transactions limit %d: must be at least 1", c.TransactionsLimit))
	}

	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be 'text' or 'json'", c.LogFormat))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func isHexAddress(s string) bool {
	if len(s) != 42 || !strings.HasPrefix(s, "0x") {
		return false
	}
	for _, r := range s[2:] {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
