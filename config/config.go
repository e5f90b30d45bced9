// Package config loads adapter-construction settings from the environment.
// Configuration is strictly an adapter concern: the repository port itself
// takes none.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"infrakit/repository/sqlite"
)

type Config struct {
	Env           string
	SQLitePath    string
	SQLiteMaxOpen int
	SQLiteMaxIdle int
}

// Load reads configuration from a .env file (when present) and the process
// environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Env:           GetEnv("ENV", "development"),
		SQLitePath:    GetEnv("SQLITE_PATH", "data/infrakit.db"),
		SQLiteMaxOpen: GetEnvInt("SQLITE_MAX_OPEN_CONNS", 25),
		SQLiteMaxIdle: GetEnvInt("SQLITE_MAX_IDLE_CONNS", 5),
	}
}

// SQLite shapes the loaded settings into the SQLite adapter's config object.
func (c *Config) SQLite() sqlite.Config {
	return sqlite.Config{
		Path:         c.SQLitePath,
		MaxOpenConns: c.SQLiteMaxOpen,
		MaxIdleConns: c.SQLiteMaxIdle,
	}
}

func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func GetEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
