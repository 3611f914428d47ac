package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Problem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type Config struct {
	Env              string
	ServiceName      string
	HTTPPort         int
	LogLevel         string
	ConfigPath       string
	RequestTimeoutMS int
	RequestTimeout   time.Duration

	DatabaseURL      string
	DBMaxConns       int
	DBMinConns       int
	DBConnMaxIdleSec int
	DBConnMaxLifeSec int

	KafkaBrokers  []string
	KafkaClientID string
	KafkaGroupID  string
	KafkaRetryMax int
	KafkaWriteMS  int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AsynqRedisAddr   string
	AsynqRedisPass   string
	AsynqRedisDB     int
	AsynqQueue       string
	AsynqConcurrency int

	OutboxScanSec     int
	OutboxBatchSize   int
	OutboxMaxAttempts int

	NodeID              string
	PublishIntervalSec  int
	AgentBufferSize     int
	PublishRetryMax     int
	PublishBackoffMaxMS int

	DedupWindowTTLSec  int
	DedupWindowSize    int
	MaxRedeliveryCount int

	CollectorURL       string
	CollectorTimeoutMS int

	CORSAllowedOrigins []string
	AuditEnabled       bool
	RateLimitRPS       float64
	RateLimitBurst     float64

	InfluxURL       string
	InfluxToken     string
	InfluxOrg       string
	InfluxBucket    string
	InfluxTimeoutMS int

	OtelEnabled     bool
	OtelEndpoint    string
	OtelInsecure    bool
	OtelSampleRatio float64
}

// Load builds the service configuration, env vars taking precedence over the
// JSON config file. Problems are accumulated instead of failing fast so one
// startup log line can show everything wrong at once.
func Load(serviceNameDefault string, httpPortDefault int) (Config, []Problem) {
	envRaw := strings.TrimSpace(os.Getenv("ENV"))
	cfg := Config{
		Env:                 envRaw,
		ServiceName:         serviceNameDefault,
		HTTPPort:            httpPortDefault,
		LogLevel:            "info",
		ConfigPath:          strings.TrimSpace(os.Getenv("CONFIG_PATH")),
		RequestTimeoutMS:    30000,
		DatabaseURL:         strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DBMaxConns:          10,
		DBMinConns:          1,
		DBConnMaxIdleSec:    300,
		DBConnMaxLifeSec:    1800,
		KafkaRetryMax:       5,
		KafkaWriteMS:        5000,
		AsynqQueue:          "default",
		AsynqConcurrency:    10,
		OutboxScanSec:       5,
		OutboxBatchSize:     50,
		OutboxMaxAttempts:   20,
		NodeID:              strings.TrimSpace(os.Getenv("NODE_ID")),
		PublishIntervalSec:  60,
		AgentBufferSize:     256,
		PublishRetryMax:     5,
		PublishBackoffMaxMS: 30000,
		DedupWindowTTLSec:   3600,
		DedupWindowSize:     10000,
		MaxRedeliveryCount:  5,
		CollectorTimeoutMS:  5000,
		InfluxTimeoutMS:     5000,
		OtelInsecure:        true,
		OtelSampleRatio:     1.0,
	}

	problems := make([]Problem, 0, 4)
	envProvided := envRaw != ""

	if repoRoot, ok := findRepoRoot(); ok && cfg.Env != "" && cfg.ConfigPath == "" {
		cfg.ConfigPath = filepath.Join(repoRoot, "configs", cfg.Env+".json")
	}

	explicitPath := strings.TrimSpace(os.Getenv("CONFIG_PATH")) != ""
	if fileData, fileProblems, ok := loadConfigFile(cfg.ConfigPath, explicitPath); ok {
		problems = append(problems, fileProblems...)
		if fileEnv, ok := readStringKey(fileData, "ENV"); ok && strings.TrimSpace(fileEnv) != "" {
			envProvided = true
		}
		applyConfigMap(&cfg, fileData, &problems)
	} else {
		problems = append(problems, fileProblems...)
	}

	applyEnv(&cfg, &problems)

	if cfg.Env == "" {
		cfg.Env = "dev"
	}
	if !envProvided {
		problems = append(problems, Problem{Field: "ENV", Message: "ENV is required"})
	}
	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		problems = append(problems, Problem{Field: "HTTP_PORT", Message: "HTTP_PORT must be 1-65535"})
		cfg.HTTPPort = httpPortDefault
	}
	clampIntMin(&problems, "REQUEST_TIMEOUT_MS", &cfg.RequestTimeoutMS, 1, 30000)
	cfg.RequestTimeout = time.Duration(cfg.RequestTimeoutMS) * time.Millisecond

	clampIntMin(&problems, "DB_MAX_CONNS", &cfg.DBMaxConns, 1, 10)
	clampIntMin(&problems, "DB_MIN_CONNS", &cfg.DBMinConns, 0, 1)
	if cfg.DBMinConns > cfg.DBMaxConns {
		problems = append(problems, Problem{Field: "DB_MIN_CONNS", Message: "DB_MIN_CONNS must be <= DB_MAX_CONNS"})
		cfg.DBMinConns = cfg.DBMaxConns
	}
	clampIntMin(&problems, "DB_CONN_MAX_IDLE_SECONDS", &cfg.DBConnMaxIdleSec, 1, 300)
	clampIntMin(&problems, "DB_CONN_MAX_LIFETIME_SECONDS", &cfg.DBConnMaxLifeSec, 1, 1800)

	clampIntMin(&problems, "KAFKA_RETRY_MAX", &cfg.KafkaRetryMax, 0, 5)
	clampIntMin(&problems, "KAFKA_WRITE_TIMEOUT_MS", &cfg.KafkaWriteMS, 1, 5000)
	clampIntMin(&problems, "REDIS_DB", &cfg.RedisDB, 0, 0)
	clampIntMin(&problems, "ASYNQ_REDIS_DB", &cfg.AsynqRedisDB, 0, 0)
	clampIntMin(&problems, "ASYNQ_CONCURRENCY", &cfg.AsynqConcurrency, 1, 10)
	clampIntMin(&problems, "OUTBOX_SCAN_INTERVAL_SECONDS", &cfg.OutboxScanSec, 1, 5)
	clampIntMin(&problems, "OUTBOX_BATCH_SIZE", &cfg.OutboxBatchSize, 1, 50)
	clampIntMin(&problems, "OUTBOX_MAX_ATTEMPTS", &cfg.OutboxMaxAttempts, 1, 20)
	clampIntMin(&problems, "PUBLISH_INTERVAL_SECONDS", &cfg.PublishIntervalSec, 1, 60)
	clampIntMin(&problems, "AGENT_BUFFER_SIZE", &cfg.AgentBufferSize, 1, 256)
	clampIntMin(&problems, "PUBLISH_RETRY_MAX", &cfg.PublishRetryMax, 0, 5)
	clampIntMin(&problems, "PUBLISH_BACKOFF_MAX_MS", &cfg.PublishBackoffMaxMS, 1, 30000)
	clampIntMin(&problems, "DEDUP_WINDOW_TTL_SECONDS", &cfg.DedupWindowTTLSec, 1, 3600)
	clampIntMin(&problems, "DEDUP_WINDOW_SIZE", &cfg.DedupWindowSize, 1, 10000)
	clampIntMin(&problems, "MAX_REDELIVERY_COUNT", &cfg.MaxRedeliveryCount, 1, 5)
	clampIntMin(&problems, "COLLECTOR_TIMEOUT_MS", &cfg.CollectorTimeoutMS, 1, 5000)
	clampIntMin(&problems, "INFLUX_TIMEOUT_MS", &cfg.InfluxTimeoutMS, 1, 5000)

	if cfg.RateLimitRPS < 0 {
		problems = append(problems, Problem{Field: "RATE_LIMIT_RPS", Message: "RATE_LIMIT_RPS must be >= 0"})
		cfg.RateLimitRPS = 0
	}
	if cfg.RateLimitBurst < 0 {
		problems = append(problems, Problem{Field: "RATE_LIMIT_BURST", Message: "RATE_LIMIT_BURST must be >= 0"})
		cfg.RateLimitBurst = 0
	}
	if cfg.OtelSampleRatio < 0 || cfg.OtelSampleRatio > 1 {
		problems = append(problems, Problem{Field: "OTEL_SAMPLE_RATIO", Message: "OTEL_SAMPLE_RATIO must be between 0 and 1"})
		cfg.OtelSampleRatio = 1.0
	}

	return cfg, problems
}

func clampIntMin(problems *[]Problem, key string, dst *int, min, fallback int) {
	if *dst < min {
		*problems = append(*problems, Problem{Field: key, Message: fmt.Sprintf("%s must be >= %d", key, min)})
		*dst = fallback
	}
}

func findRepoRoot() (string, bool) {
	dir, err := os.Getwd()
	if err != nil {
		return "", false
	}
	for i := 0; i < 8; i++ {
		if fi, err := os.Stat(filepath.Join(dir, "configs")); err == nil && fi.IsDir() {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false
}

func loadConfigFile(path string, explicit bool) (map[string]any, []Problem, bool) {
	if strings.TrimSpace(path) == "" {
		return nil, nil, false
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if explicit && errors.Is(err, os.ErrNotExist) {
			return nil, []Problem{{Field: "CONFIG_PATH", Message: "config file not found"}}, false
		}
		if explicit {
			return nil, []Problem{{Field: "CONFIG_PATH", Message: fmt.Sprintf("failed to read config file: %v", err)}}, false
		}
		return nil, nil, false
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, []Problem{{Field: "CONFIG_PATH", Message: fmt.Sprintf("invalid json: %v", err)}}, false
	}
	return raw, nil, true
}

func applyEnv(cfg *Config, problems *[]Problem) {
	setEnvString("SERVICE_NAME", &cfg.ServiceName)

	portRaw := strings.TrimSpace(os.Getenv("HTTP_PORT"))
	if portRaw == "" {
		portRaw = strings.TrimSpace(os.Getenv("PORT"))
	}
	if portRaw != "" {
		if p, err := strconv.Atoi(portRaw); err != nil || p <= 0 || p > 65535 {
			*problems = append(*problems, Problem{Field: "HTTP_PORT", Message: "HTTP_PORT must be 1-65535"})
		} else {
			cfg.HTTPPort = p
		}
	}

	setEnvString("LOG_LEVEL", &cfg.LogLevel)
	setEnvInt(problems, "REQUEST_TIMEOUT_MS", &cfg.RequestTimeoutMS)

	setEnvString("DATABASE_URL", &cfg.DatabaseURL)
	setEnvInt(problems, "DB_MAX_CONNS", &cfg.DBMaxConns)
	setEnvInt(problems, "DB_MIN_CONNS", &cfg.DBMinConns)
	setEnvInt(problems, "DB_CONN_MAX_IDLE_SECONDS", &cfg.DBConnMaxIdleSec)
	setEnvInt(problems, "DB_CONN_MAX_LIFETIME_SECONDS", &cfg.DBConnMaxLifeSec)

	if v := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); v != "" {
		cfg.KafkaBrokers = parseCSV(v)
	}
	setEnvString("KAFKA_CLIENT_ID", &cfg.KafkaClientID)
	setEnvString("KAFKA_CONSUMER_GROUP", &cfg.KafkaGroupID)
	setEnvInt(problems, "KAFKA_RETRY_MAX", &cfg.KafkaRetryMax)
	setEnvInt(problems, "KAFKA_WRITE_TIMEOUT_MS", &cfg.KafkaWriteMS)

	setEnvString("REDIS_ADDR", &cfg.RedisAddr)
	setEnvString("REDIS_PASSWORD", &cfg.RedisPassword)
	setEnvInt(problems, "REDIS_DB", &cfg.RedisDB)

	setEnvString("ASYNQ_REDIS_ADDR", &cfg.AsynqRedisAddr)
	setEnvString("ASYNQ_REDIS_PASSWORD", &cfg.AsynqRedisPass)
	setEnvInt(problems, "ASYNQ_REDIS_DB", &cfg.AsynqRedisDB)
	setEnvString("ASYNQ_QUEUE", &cfg.AsynqQueue)
	setEnvInt(problems, "ASYNQ_CONCURRENCY", &cfg.AsynqConcurrency)

	setEnvInt(problems, "OUTBOX_SCAN_INTERVAL_SECONDS", &cfg.OutboxScanSec)
	setEnvInt(problems, "OUTBOX_BATCH_SIZE", &cfg.OutboxBatchSize)
	setEnvInt(problems, "OUTBOX_MAX_ATTEMPTS", &cfg.OutboxMaxAttempts)

	setEnvString("NODE_ID", &cfg.NodeID)
	setEnvInt(problems, "PUBLISH_INTERVAL_SECONDS", &cfg.PublishIntervalSec)
	setEnvInt(problems, "AGENT_BUFFER_SIZE", &cfg.AgentBufferSize)
	setEnvInt(problems, "PUBLISH_RETRY_MAX", &cfg.PublishRetryMax)
	setEnvInt(problems, "PUBLISH_BACKOFF_MAX_MS", &cfg.PublishBackoffMaxMS)

	setEnvInt(problems, "DEDUP_WINDOW_TTL_SECONDS", &cfg.DedupWindowTTLSec)
	setEnvInt(problems, "DEDUP_WINDOW_SIZE", &cfg.DedupWindowSize)
	setEnvInt(problems, "MAX_REDELIVERY_COUNT", &cfg.MaxRedeliveryCount)

	setEnvString("COLLECTOR_URL", &cfg.CollectorURL)
	setEnvInt(problems, "COLLECTOR_TIMEOUT_MS", &cfg.CollectorTimeoutMS)

	if v := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS")); v != "" {
		cfg.CORSAllowedOrigins = parseCSV(v)
	}
	setEnvBool(problems, "AUDIT_ENABLED", &cfg.AuditEnabled)
	setEnvFloat(problems, "RATE_LIMIT_RPS", &cfg.RateLimitRPS)
	setEnvFloat(problems, "RATE_LIMIT_BURST", &cfg.RateLimitBurst)

	setEnvString("INFLUX_URL", &cfg.InfluxURL)
	setEnvString("INFLUX_TOKEN", &cfg.InfluxToken)
	setEnvString("INFLUX_ORG", &cfg.InfluxOrg)
	setEnvString("INFLUX_BUCKET", &cfg.InfluxBucket)
	setEnvInt(problems, "INFLUX_TIMEOUT_MS", &cfg.InfluxTimeoutMS)

	setEnvBool(problems, "OTEL_ENABLED", &cfg.OtelEnabled)
	setEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.OtelEndpoint)
	setEnvBool(problems, "OTEL_EXPORTER_OTLP_INSECURE", &cfg.OtelInsecure)
	setEnvFloat(problems, "OTEL_SAMPLE_RATIO", &cfg.OtelSampleRatio)
}

func setEnvString(key string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setEnvInt(problems *[]Problem, key string, dst *int) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*problems = append(*problems, Problem{Field: key, Message: key + " must be an integer"})
		return
	}
	*dst = n
}

func setEnvFloat(problems *[]Problem, key string, dst *float64) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*problems = append(*problems, Problem{Field: key, Message: key + " must be a number"})
		return
	}
	*dst = f
}

func setEnvBool(problems *[]Problem, key string, dst *bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	b, ok := asBool(v)
	if !ok {
		*problems = append(*problems, Problem{Field: key, Message: key + " must be a boolean"})
		return
	}
	*dst = b
}

func applyConfigMap(cfg *Config, raw map[string]any, problems *[]Problem) {
	for k, v := range raw {
		key := strings.ToUpper(strings.TrimSpace(k))
		switch key {
		case "ENV":
			if s, ok := v.(string); ok {
				cfg.Env = strings.TrimSpace(s)
			}
		case "SERVICE_NAME":
			setMapString(v, &cfg.ServiceName)
		case "HTTP_PORT":
			p, ok := asInt(v)
			if !ok || p <= 0 || p > 65535 {
				*problems = append(*problems, Problem{Field: key, Message: "HTTP_PORT must be 1-65535"})
			} else {
				cfg.HTTPPort = p
			}
		case "LOG_LEVEL":
			setMapString(v, &cfg.LogLevel)
		case "REQUEST_TIMEOUT_MS":
			setMapInt(v, key, &cfg.RequestTimeoutMS, problems)
		case "DATABASE_URL":
			setMapString(v, &cfg.DatabaseURL)
		case "DB_MAX_CONNS":
			setMapInt(v, key, &cfg.DBMaxConns, problems)
		case "DB_MIN_CONNS":
			setMapInt(v, key, &cfg.DBMinConns, problems)
		case "DB_CONN_MAX_IDLE_SECONDS":
			setMapInt(v, key, &cfg.DBConnMaxIdleSec, problems)
		case "DB_CONN_MAX_LIFETIME_SECONDS":
			setMapInt(v, key, &cfg.DBConnMaxLifeSec, problems)
		case "KAFKA_BROKERS":
			setMapList(v, &cfg.KafkaBrokers)
		case "KAFKA_CLIENT_ID":
			setMapString(v, &cfg.KafkaClientID)
		case "KAFKA_CONSUMER_GROUP":
			setMapString(v, &cfg.KafkaGroupID)
		case "KAFKA_RETRY_MAX":
			setMapInt(v, key, &cfg.KafkaRetryMax, problems)
		case "KAFKA_WRITE_TIMEOUT_MS":
			setMapInt(v, key, &cfg.KafkaWriteMS, problems)
		case "REDIS_ADDR":
			setMapString(v, &cfg.RedisAddr)
		case "REDIS_PASSWORD":
			if s, ok := v.(string); ok {
				cfg.RedisPassword = s
			}
		case "REDIS_DB":
			setMapInt(v, key, &cfg.RedisDB, problems)
		case "ASYNQ_REDIS_ADDR":
			setMapString(v, &cfg.AsynqRedisAddr)
		case "ASYNQ_REDIS_PASSWORD":
			if s, ok := v.(string); ok {
				cfg.AsynqRedisPass = s
			}
		case "ASYNQ_REDIS_DB":
			setMapInt(v, key, &cfg.AsynqRedisDB, problems)
		case "ASYNQ_QUEUE":
			setMapString(v, &cfg.AsynqQueue)
		case "ASYNQ_CONCURRENCY":
			setMapInt(v, key, &cfg.AsynqConcurrency, problems)
		case "OUTBOX_SCAN_INTERVAL_SECONDS":
			setMapInt(v, key, &cfg.OutboxScanSec, problems)
		case "OUTBOX_BATCH_SIZE":
			setMapInt(v, key, &cfg.OutboxBatchSize, problems)
		case "OUTBOX_MAX_ATTEMPTS":
			setMapInt(v, key, &cfg.OutboxMaxAttempts, problems)
		case "NODE_ID":
			setMapString(v, &cfg.NodeID)
		case "PUBLISH_INTERVAL_SECONDS":
			setMapInt(v, key, &cfg.PublishIntervalSec, problems)
		case "AGENT_BUFFER_SIZE":
			setMapInt(v, key, &cfg.AgentBufferSize, problems)
		case "PUBLISH_RETRY_MAX":
			setMapInt(v, key, &cfg.PublishRetryMax, problems)
		case "PUBLISH_BACKOFF_MAX_MS":
			setMapInt(v, key, &cfg.PublishBackoffMaxMS, problems)
		case "DEDUP_WINDOW_TTL_SECONDS":
			setMapInt(v, key, &cfg.DedupWindowTTLSec, problems)
		case "DEDUP_WINDOW_SIZE":
			setMapInt(v, key, &cfg.DedupWindowSize, problems)
		case "MAX_REDELIVERY_COUNT":
			setMapInt(v, key, &cfg.MaxRedeliveryCount, problems)
		case "COLLECTOR_URL":
			setMapString(v, &cfg.CollectorURL)
		case "COLLECTOR_TIMEOUT_MS":
			setMapInt(v, key, &cfg.CollectorTimeoutMS, problems)
		case "CORS_ALLOWED_ORIGINS":
			setMapList(v, &cfg.CORSAllowedOrigins)
		case "AUDIT_ENABLED":
			setMapBool(v, key, &cfg.AuditEnabled, problems)
		case "RATE_LIMIT_RPS":
			setMapFloat(v, key, &cfg.RateLimitRPS, problems)
		case "RATE_LIMIT_BURST":
			setMapFloat(v, key, &cfg.RateLimitBurst, problems)
		case "INFLUX_URL":
			setMapString(v, &cfg.InfluxURL)
		case "INFLUX_TOKEN":
			if s, ok := v.(string); ok {
				cfg.InfluxToken = s
			}
		case "INFLUX_ORG":
			setMapString(v, &cfg.InfluxOrg)
		case "INFLUX_BUCKET":
			setMapString(v, &cfg.InfluxBucket)
		case "INFLUX_TIMEOUT_MS":
			setMapInt(v, key, &cfg.InfluxTimeoutMS, problems)
		case "OTEL_ENABLED":
			setMapBool(v, key, &cfg.OtelEnabled, problems)
		case "OTEL_EXPORTER_OTLP_ENDPOINT":
			setMapString(v, &cfg.OtelEndpoint)
		case "OTEL_EXPORTER_OTLP_INSECURE":
			setMapBool(v, key, &cfg.OtelInsecure, problems)
		case "OTEL_SAMPLE_RATIO":
			setMapFloat(v, key, &cfg.OtelSampleRatio, problems)
		}
	}
}

func setMapString(v any, dst *string) {
	if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
		*dst = strings.TrimSpace(s)
	}
}

func setMapList(v any, dst *[]string) {
	switch t := v.(type) {
	case string:
		*dst = parseCSV(t)
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				s = strings.TrimSpace(s)
				if s != "" {
					out = append(out, s)
				}
			}
		}
		*dst = out
	}
}

func setMapInt(v any, key string, dst *int, problems *[]Problem) {
	n, ok := asInt(v)
	if !ok {
		*problems = append(*problems, Problem{Field: key, Message: key + " must be an integer"})
		return
	}
	*dst = n
}

func setMapFloat(v any, key string, dst *float64, problems *[]Problem) {
	f, ok := asFloat(v)
	if !ok {
		*problems = append(*problems, Problem{Field: key, Message: key + " must be a number"})
		return
	}
	*dst = f
}

func setMapBool(v any, key string, dst *bool, problems *[]Problem) {
	switch t := v.(type) {
	case bool:
		*dst = t
	case string:
		if b, ok := asBool(t); ok {
			*dst = b
			return
		}
		*problems = append(*problems, Problem{Field: key, Message: key + " must be a boolean"})
	default:
		*problems = append(*problems, Problem{Field: key, Message: key + " must be a boolean"})
	}
}

func readStringKey(raw map[string]any, key string) (string, bool) {
	for k, v := range raw {
		if strings.EqualFold(strings.TrimSpace(k), key) {
			s, ok := v.(string)
			return s, ok
		}
	}
	return "", false
}

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	case json.Number:
		i, err := t.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(t))
		return i, err == nil
	default:
		return 0, false
	}
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func asBool(v string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "y":
		return true, true
	case "false", "0", "no", "n":
		return false, true
	default:
		return false, false
	}
}

func parseCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
