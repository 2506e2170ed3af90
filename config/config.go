package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"zapflow/models"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var (
	DB        *gorm.DB
	AppConfig Config
	envLoaded bool
)

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// GatewayConfig points at the WhatsApp gateway (Evolution-style HTTP API).
type GatewayConfig struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"-"`
	Timeout time.Duration
}

// RateConfig holds the send throttling defaults. Campaigns may override
// the business-hours window and weekend flag individually.
type RateConfig struct {
	MaxSendsPerSecond  int    `json:"max_sends_per_second"`
	MaxSendsPerMinute  int    `json:"max_sends_per_minute"`
	DailySendCap       int    `json:"daily_send_cap"`
	RetryMaxCount      int    `json:"retry_max_count"`
	RetryBackoffMin    int    `json:"retry_backoff_minutes"`
	SchedulerInterval  int    `json:"scheduler_interval_seconds"`
	BusinessHoursStart string `json:"business_hours_start"`
	BusinessHoursEnd   string `json:"business_hours_end"`
}

type Config struct {
	Environment    string        `json:"environment"`
	ServerPort     string        `json:"server_port"`
	JWTSecret      string        `json:"-"`
	SentryDSN      string        `json:"-"`
	DBHost         string        `json:"db_host"`
	DBPort         string        `json:"db_port"`
	DBUser         string        `json:"db_user"`
	DBPassword     string        `json:"-"`
	DBName         string        `json:"db_name"`
	DBSSLMode      string        `json:"db_ssl_mode"`
	DBMaxIdleConns int           `json:"db_max_idle_conns"`
	DBMaxOpenConns int           `json:"db_max_open_conns"`
	Gateway        GatewayConfig `json:"gateway"`
	Rate           RateConfig    `json:"rate"`
	Redis          RedisConfig   `json:"redis"`
}

func init() {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()
	envLoaded = true
}

func LoadConfig() error {
	AppConfig = Config{
		Environment:    getEnv("ENVIRONMENT", "development"),
		ServerPort:     getEnv("SERVER_PORT", "5000"),
		JWTSecret:      getEnv("JWT_SECRET", ""),
		SentryDSN:      getEnv("SENTRY_DSN", ""),
		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", ""),
		DBName:         getEnv("DB_NAME", "zapflow"),
		DBSSLMode:      getEnv("DB_SSL_MODE", "disable"),
		DBMaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
		DBMaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 100),

		Gateway: GatewayConfig{
			BaseURL: getEnv("GATEWAY_BASE_URL", "http://localhost:8080"),
			APIKey:  getEnv("GATEWAY_API_KEY", ""),
			Timeout: time.Duration(getEnvAsInt("GATEWAY_TIMEOUT_SECONDS", 30)) * time.Second,
		},

		Rate: RateConfig{
			MaxSendsPerSecond:  getEnvAsInt("MAX_SENDS_PER_SECOND", 2),
			MaxSendsPerMinute:  getEnvAsInt("MAX_SENDS_PER_MINUTE", 60),
			DailySendCap:       getEnvAsInt("DAILY_SEND_CAP", 1000),
			RetryMaxCount:      getEnvAsInt("RETRY_MAX_COUNT", 3),
			RetryBackoffMin:    getEnvAsInt("RETRY_BACKOFF_MINUTES", 5),
			SchedulerInterval:  getEnvAsInt("SCHEDULER_INTERVAL_SECONDS", 60),
			BusinessHoursStart: getEnv("BUSINESS_HOURS_START", "08:00"),
			BusinessHoursEnd:   getEnv("BUSINESS_HOURS_END", "18:00"),
		},

		Redis: RedisConfig{
			Enabled:  getEnv("REDIS_ENABLED", "false") == "true",
			Address:  getEnv("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
	}

	// Validate required configurations
	if AppConfig.DBPassword == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if AppConfig.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if AppConfig.Gateway.APIKey == "" && AppConfig.Environment == "production" {
		return fmt.Errorf("GATEWAY_API_KEY is required in production")
	}

	logConfig()
	return nil
}

func ConnectDB() error {
	log.Println("Attempting to connect to database...")

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		AppConfig.DBHost,
		AppConfig.DBPort,
		AppConfig.DBUser,
		AppConfig.DBPassword,
		AppConfig.DBName,
		AppConfig.DBSSLMode,
	)
	log.Println("Using connection string:", maskPassword(dsn))

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get DB instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(AppConfig.DBMaxIdleConns)
	sqlDB.SetMaxOpenConns(AppConfig.DBMaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	log.Println("✅ Successfully connected to the database")
	log.Println("🔄 Starting database migration...")
	if err := migrateDB(DB); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	log.Println("✅ Database migration completed")
	return nil
}

// Helper functions
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	if !envLoaded && fallback == "" {
		log.Printf("⚠️ Environment variable %s not found and no fallback provided", key)
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	var value int
	_, err := fmt.Sscanf(valueStr, "%d", &value)
	if err != nil {
		return fallback
	}
	return value
}

func maskPassword(dsn string) string {
	const passwordMarker = "password="
	startIdx := strings.Index(dsn, passwordMarker)
	if startIdx == -1 {
		return dsn
	}

	startIdx += len(passwordMarker)
	endIdx := strings.IndexAny(dsn[startIdx:], " ")
	if endIdx == -1 {
		return dsn[:startIdx] + "*****"
	}
	return dsn[:startIdx] + "*****" + dsn[startIdx+endIdx:]
}

func logConfig() {
	log.Println("🔧 Loaded configuration:")
	log.Printf("Environment: %s", AppConfig.Environment)
	log.Printf("Server Port: %s", AppConfig.ServerPort)
	log.Printf("Database: %s@%s:%s/%s",
		AppConfig.DBUser,
		AppConfig.DBHost,
		AppConfig.DBPort,
		AppConfig.DBName)
	log.Printf("Gateway: %s", AppConfig.Gateway.BaseURL)
	log.Printf("Rate limits: %d/s %d/min daily cap %d",
		AppConfig.Rate.MaxSendsPerSecond,
		AppConfig.Rate.MaxSendsPerMinute,
		AppConfig.Rate.DailySendCap)
}

func migrateDB(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.WhatsAppInstance{},
		&models.Campaign{},
		&models.SequenceStep{},
		&models.CampaignRecipient{},
		&models.ScheduledJob{},
		&models.Contact{},
		&models.ContactCustomField{},
		&models.Message{},
		&models.DeliveryLog{},
	)
}
