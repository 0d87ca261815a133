package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPPort       string
	ServerID       string
	DatabaseDriver string
	DatabaseURL    string
	DBMaxConns     int
	LogLevel       string
	ReadLatencyMs  int
	WriteLatencyMs int
	ChaosFaultRate float64
	ChaosEnabled   bool
}

var AppConfig Config

func LoadConfig() {
	err := godotenv.Load() // Load .env file if it exists
	if err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	AppConfig = FromEnv()
}

// FromEnv reads the configuration from the process environment without touching .env.
func FromEnv() Config {
	return Config{
		HTTPPort:       getEnv("PORT", "3000"),
		ServerID:       getEnv("SERVER_ID", "messaging-server"),
		DatabaseDriver: getEnv("DB_DRIVER", "sqlite3"),
		DatabaseURL:    getEnv("DATABASE_URL", "messaging.db"),
		DBMaxConns:     getEnvAsInt("DB_MAX_CONNS", 10),
		LogLevel:       getEnv("LOG_LEVEL", "INFO"),
		ReadLatencyMs:  getEnvAsInt("READ_LATENCY_MS", 50),
		WriteLatencyMs: getEnvAsInt("WRITE_LATENCY_MS", 100),
		ChaosFaultRate: getEnvAsFloat("CHAOS_FAULT_RATE", 0.1),
		ChaosEnabled:   getEnvAsBool("CHAOS_ENABLED", false),
	}
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
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
