package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

//go:embed sites.yaml
var defaultSites []byte

// Store backends
const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"
)

var (
	ErrNoSites        = errors.New("no monitored sites configured")
	ErrUnknownBackend = errors.New("unknown store backend")
)

type Config struct {
	Database   DatabaseConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	HTTP       HTTPConfig
	Schedule   ScheduleConfig
	Monitoring MonitoringConfig
	Breaker    BreakerConfig
	SMTP       SMTPConfig
	Log        LogConfig
}

type DatabaseConfig struct {
	Host          string
	Port          int
	User          string
	Password      string
	DBName        string
	SSLMode       string
	MigrationsDir string
}

func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// RedisConfig holds the status cache connection. An empty Addr disables the cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// KafkaConfig holds broker and topic settings. With no brokers, transition
// events are not published.
type KafkaConfig struct {
	Brokers           []string
	TopicRiskEvents   string
	TopicFieldSamples string
	NumPartitions     int
	GroupSampleWriter string
	GroupNotification string
}

func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

type HTTPConfig struct {
	Port            int
	ShutdownTimeout time.Duration
}

type ScheduleConfig struct {
	HourlyCron string
	DailyCron  string
	RunOnStart bool
}

type MonitoringConfig struct {
	Timezone          string
	Location          *time.Location
	StoreBackend      string
	StoreRoot         string
	DemoBias          bool
	ReportCollections []string
	SitesFile         string
	Sites             []Site
}

type BreakerConfig struct {
	MaxFailures uint32
	OpenTimeout time.Duration
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string
}

type LogConfig struct {
	Level       string
	Development bool
}

// Site is one monitored water site.
type Site struct {
	ID       string  `yaml:"id" json:"id"`
	Name     string  `yaml:"name" json:"name"`
	District string  `yaml:"district" json:"district"`
	State    string  `yaml:"state" json:"state"`
	Lat      float64 `yaml:"lat" json:"lat"`
	Lon      float64 `yaml:"lon" json:"lon"`
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	config := &Config{
		Database: DatabaseConfig{
			Host:          getEnv("DB_HOST", "localhost"),
			Port:          getEnvAsInt("DB_PORT", 5432),
			User:          getEnv("DB_USER", "water_user"),
			Password:      getEnv("DB_PASSWORD", "water_pass"),
			DBName:        getEnv("DB_NAME", "water_risk"),
			SSLMode:       getEnv("DB_SSLMODE", "disable"),
			MigrationsDir: getEnv("DB_MIGRATIONS_DIR", "migrations"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			TTL:      getEnvAsDuration("REDIS_STATUS_TTL", 7*24*time.Hour),
		},
		Kafka: KafkaConfig{
			Brokers:           getEnvAsSlice("KAFKA_BROKERS", nil),
			TopicRiskEvents:   getEnv("KAFKA_TOPIC_RISK_EVENTS", "water.risk.transitions"),
			TopicFieldSamples: getEnv("KAFKA_TOPIC_FIELD_SAMPLES", "water.samples.field"),
			NumPartitions:     getEnvAsInt("KAFKA_NUM_PARTITIONS", 6),
			GroupSampleWriter: getEnv("KAFKA_GROUP_SAMPLE_WRITER", "sample-writer"),
			GroupNotification: getEnv("KAFKA_GROUP_NOTIFICATION", "risk-notification"),
		},
		HTTP: HTTPConfig{
			Port:            getEnvAsInt("PORT", 8080),
			ShutdownTimeout: getEnvAsDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Schedule: ScheduleConfig{
			HourlyCron: getEnv("SCHEDULE_HOURLY", "0 * * * *"),
			DailyCron:  getEnv("SCHEDULE_DAILY", "55 23 * * *"),
			RunOnStart: getEnvAsBool("SCHEDULE_RUN_ON_START", true),
		},
		Monitoring: MonitoringConfig{
			Timezone:          getEnv("TIMEZONE", "Asia/Kolkata"),
			StoreBackend:      strings.ToLower(getEnv("STORE_BACKEND", StoreBackendPostgres)),
			StoreRoot:         getEnv("STORE_ROOT", "appdata/main"),
			DemoBias:          getEnvAsBool("DEMO_BIAS", true),
			ReportCollections: getEnvAsSlice("REPORT_COLLECTIONS", []string{"ashaworkers_reports", "asha_reports", "reports"}),
			SitesFile:         getEnv("SITES_FILE", ""),
		},
		Breaker: BreakerConfig{
			MaxFailures: uint32(getEnvAsInt("BREAKER_MAX_FAILURES", 5)),
			OpenTimeout: getEnvAsDuration("BREAKER_OPEN_TIMEOUT", 30*time.Second),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", "smtp.gmail.com"),
			Port:     getEnvAsInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", "water-risk@example.com"),
			To:       getEnv("SMTP_TO", "health-desk@example.com"),
		},
		Log: LogConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Development: getEnvAsBool("LOG_DEVELOPMENT", false),
		},
	}

	loc, err := time.LoadLocation(config.Monitoring.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", config.Monitoring.Timezone, err)
	}
	config.Monitoring.Location = loc

	switch config.Monitoring.StoreBackend {
	case StoreBackendPostgres, StoreBackendMemory:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, config.Monitoring.StoreBackend)
	}

	for name, expr := range map[string]string{
		"SCHEDULE_HOURLY": config.Schedule.HourlyCron,
		"SCHEDULE_DAILY":  config.Schedule.DailyCron,
	} {
		if _, err := cron.ParseStandard(expr); err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", name, expr, err)
		}
	}

	sites, err := loadSites(config.Monitoring.SitesFile)
	if err != nil {
		return nil, err
	}
	config.Monitoring.Sites = sites

	return config, nil
}

// loadSites reads the site list from path, or the embedded list when path is empty.
func loadSites(path string) ([]Site, error) {
	raw := defaultSites
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read sites file: %w", err)
		}
		raw = data
	}
	return ParseSites(raw)
}

// ParseSites decodes a YAML site list and checks ids are present and unique.
func ParseSites(data []byte) ([]Site, error) {
	var doc struct {
		Sites []Site `yaml:"sites"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse sites: %w", err)
	}
	if len(doc.Sites) == 0 {
		return nil, ErrNoSites
	}

	seen := make(map[string]struct{}, len(doc.Sites))
	for i, s := range doc.Sites {
		if s.ID == "" {
			return nil, fmt.Errorf("site %d: missing id", i)
		}
		if strings.Contains(s.ID, "/") {
			return nil, fmt.Errorf("site %q: id must not contain '/'", s.ID)
		}
		if _, dup := seen[s.ID]; dup {
			return nil, fmt.Errorf("site %q: duplicate id", s.ID)
		}
		seen[s.ID] = struct{}{}
	}
	return doc.Sites, nil
}

// SiteByID returns the configured site with the given id.
func (m MonitoringConfig) SiteByID(id string) (Site, bool) {
	for _, s := range m.Sites {
		if s.ID == id {
			return s, true
		}
	}
	return Site{}, false
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
