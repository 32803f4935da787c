package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"leadsync/models"
)

var (
	DB        *gorm.DB
	AppConfig Config
	envLoaded bool
)

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"-"`
	DB       int    `json:"db"`
}

type OAuthConfig struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"-"`
	RedirectURI  string `json:"redirect_uri"`
}

// Configured reports whether the provider has usable OAuth credentials.
func (c OAuthConfig) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

type Config struct {
	Environment    string                 `json:"environment"`
	ServerPort     string                 `json:"server_port"`
	FrontendURL    string                 `json:"frontend_url"`
	EncryptionKey  string                 `json:"-"`
	SentryDSN      string                 `json:"-"`
	DBHost         string                 `json:"db_host"`
	DBPort         string                 `json:"db_port"`
	DBUser         string                 `json:"db_user"`
	DBPassword     string                 `json:"-"`
	DBName         string                 `json:"db_name"`
	DBSSLMode      string                 `json:"db_ssl_mode"`
	DBMaxIdleConns int                    `json:"db_max_idle_conns"`
	DBMaxOpenConns int                    `json:"db_max_open_conns"`
	Redis          RedisConfig            `json:"redis"`
	Providers      map[string]OAuthConfig `json:"providers"`

	// Sync tuning
	PollInterval    time.Duration `json:"poll_interval"`
	RetryInterval   time.Duration `json:"retry_interval"`
	ProviderTimeout time.Duration `json:"provider_timeout"`

	// Dynamics needs the org resource URL before the first token exchange
	DynamicsResource string `json:"dynamics_resource"`
}

// providerNames is the fixed set of CRM providers the engine supports.
// Credentials are read from {PROVIDER}_CLIENT_ID / _CLIENT_SECRET / _REDIRECT_URI.
var providerNames = []string{"zoho", "hubspot", "salesforce", "pipedrive", "freshworks", "monday", "dynamics"}

func init() {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()
	envLoaded = true
}

func LoadConfig() error {
	providers := make(map[string]OAuthConfig, len(providerNames))
	for _, name := range providerNames {
		prefix := strings.ToUpper(name)
		providers[name] = OAuthConfig{
			ClientID:     getEnv(prefix+"_CLIENT_ID", ""),
			ClientSecret: getEnv(prefix+"_CLIENT_SECRET", ""),
			RedirectURI:  getEnv(prefix+"_REDIRECT_URI", ""),
		}
	}

	AppConfig = Config{
		Environment:    getEnv("ENVIRONMENT", "development"),
		ServerPort:     getEnv("SERVER_PORT", "5000"),
		FrontendURL:    getEnv("FRONTEND_URL", "http://localhost:3000"),
		EncryptionKey:  getEnv("ENCRYPTION_KEY", ""),
		SentryDSN:      getEnv("SENTRY_DSN", ""),
		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", ""),
		DBName:         getEnv("DB_NAME", "leadsync"),
		DBSSLMode:      getEnv("DB_SSL_MODE", "disable"),
		DBMaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
		DBMaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 100),
		Redis: RedisConfig{
			Enabled:  getEnv("REDIS_ENABLED", "false") == "true",
			Address:  getEnv("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Providers:        providers,
		PollInterval:     time.Duration(getEnvAsInt("SYNC_POLL_INTERVAL_MINUTES", 15)) * time.Minute,
		RetryInterval:    time.Duration(getEnvAsInt("SYNC_RETRY_INTERVAL_MINUTES", 60)) * time.Minute,
		ProviderTimeout:  time.Duration(getEnvAsInt("PROVIDER_TIMEOUT_SECONDS", 30)) * time.Second,
		DynamicsResource: getEnv("DYNAMICS_RESOURCE", ""),
	}

	// Validate required configurations
	if AppConfig.DBPassword == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if AppConfig.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required")
	}
	if AppConfig.Environment == "production" {
		var configured int
		for _, p := range providers {
			if p.Configured() {
				configured++
			}
		}
		if configured == 0 {
			return fmt.Errorf("at least one CRM provider must be configured in production")
		}
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
	if err := MigrateDB(DB); err != nil {
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
	var configured []string
	for _, name := range providerNames {
		if AppConfig.Providers[name].Configured() {
			configured = append(configured, name)
		}
	}
	log.Printf("CRM Providers: %s", strings.Join(configured, ", "))
}

// MigrateDB runs the schema migration. Exported so tests can migrate
// an in-memory database with the same model set.
func MigrateDB(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Company{},
		&models.Integration{},
		&models.IntegrationError{},
		&models.Lead{},
		&models.LeadCustomField{},
	)
}
