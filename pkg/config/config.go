package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Application
	AppName string
	Debug   bool
	Port    string
	BaseURL string // External URL of the panel, used in daemon callbacks and download links

	// Logging
	LogLevel string
	LogJSON  bool

	// Database
	DatabaseURL string

	// Authentication
	JWTSecret          string
	TokenLifetimeHours int

	// Schedules
	TaskLimitPerSchedule int // Maximum tasks attached to a single schedule
	ScheduleTickSeconds  int // How often the runner looks for due schedules

	// Backups
	BackupDisk             string // "wings" or "s3"
	DownloadLinkTTLMinutes int    // Lifetime of signed backup download URLs

	// S3 object storage (only used when BackupDisk == "s3")
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool

	// Daemon (Wings) communication
	DaemonRequestTimeoutSeconds int

	// InfluxDB (optional time-series sink for activity events)
	InfluxDBURL    string
	InfluxDBToken  string
	InfluxDBOrg    string
	InfluxDBBucket string
}

var AppConfig *Config

// Load loads configuration from environment
func Load() *Config {
	// Load .env file if exists
	_ = godotenv.Load()

	config := &Config{
		AppName: getEnv("APP_NAME", "EmberHost"),
		Debug:   getEnvBool("DEBUG", true),
		Port:    getEnv("PORT", "8000"),
		BaseURL: getEnv("BASE_URL", "http://localhost:8000"),

		LogLevel: getEnv("LOG_LEVEL", "INFO"),
		LogJSON:  getEnvBool("LOG_JSON", false),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		JWTSecret:          getEnv("JWT_SECRET", "change-me-in-production-please-use-a-random-string"),
		TokenLifetimeHours: getEnvInt("TOKEN_LIFETIME_HOURS", 24),

		TaskLimitPerSchedule: getEnvInt("TASK_LIMIT_PER_SCHEDULE", 10),
		ScheduleTickSeconds:  getEnvInt("SCHEDULE_TICK_SECONDS", 60),

		BackupDisk:             getEnv("BACKUP_DISK", "wings"),
		DownloadLinkTTLMinutes: getEnvInt("DOWNLOAD_LINK_TTL_MINUTES", 15),

		S3Endpoint:     getEnv("S3_ENDPOINT", ""),
		S3Region:       getEnv("S3_REGION", "us-east-1"),
		S3Bucket:       getEnv("S3_BUCKET", ""),
		S3AccessKey:    getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:    getEnv("S3_SECRET_KEY", ""),
		S3UsePathStyle: getEnvBool("S3_USE_PATH_STYLE", false),

		DaemonRequestTimeoutSeconds: getEnvInt("DAEMON_REQUEST_TIMEOUT_SECONDS", 30),

		InfluxDBURL:    getEnv("INFLUXDB_URL", ""),
		InfluxDBToken:  getEnv("INFLUXDB_TOKEN", ""),
		InfluxDBOrg:    getEnv("INFLUXDB_ORG", "emberhost"),
		InfluxDBBucket: getEnv("INFLUXDB_BUCKET", "activity"),
	}

	AppConfig = config
	return config
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			log.Printf("Invalid boolean for %s, using default: %v", key, defaultValue)
			return defaultValue
		}
		return boolVal
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		intVal, err := strconv.Atoi(value)
		if err != nil {
			log.Printf("Invalid integer for %s, using default: %d", key, defaultValue)
			return defaultValue
		}
		return intVal
	}
	return defaultValue
}
