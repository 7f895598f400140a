// Package config loads ambient settings from the environment (and an
// optional .env file), supplementing the cobra flag surface defined in
// spec §6. Adapted from master/internal/config/config.go's godotenv +
// getEnv/getEnvFloat fallback pattern, retargeted from MongoDB/SLA
// fields to this project's master/worker/snapshot settings.
package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds environment-sourced defaults. Only cmd/master loads it:
// --snapshot-backend overrides SnapshotBackend when set, and snapshot
// loading is skipped when either SkipLoadState or --skip-load-state is
// true. MasterIP, MasterPort and LogLevel are loaded but not read by any
// command.
type Config struct {
	MasterIP       string
	MasterPort     string
	LogLevel       string
	SnapshotPath   string
	SnapshotBackend string // "file" or "couchdb"
	CouchDBURL     string
	CouchDBUser    string
	CouchDBPass    string
	CouchDBName    string
	SkipLoadState  bool
}

func Load() *Config {
	loadDotEnv()

	return &Config{
		MasterIP:        getEnv("MASTER_IP", "127.0.0.1"),
		MasterPort:      getEnv("MASTER_PORT", "3310"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		SnapshotPath:    getEnv("SNAPSHOT_PATH", "snapshot.json"),
		SnapshotBackend: getEnv("SNAPSHOT_BACKEND", "file"),
		CouchDBURL:      getEnv("COUCHDB_URL", "http://localhost:5984"),
		CouchDBUser:     os.Getenv("COUCHDB_USER"),
		CouchDBPass:     os.Getenv("COUCHDB_PASSWORD"),
		CouchDBName:     getEnv("COUCHDB_DATABASE", "dispatch"),
		SkipLoadState:   getEnvBool("SKIP_LOAD_STATE", false),
	}
}

func loadDotEnv() {
	paths := []string{".env", "../.env", "../../.env"}
	for _, path := range paths {
		if err := godotenv.Load(path); err == nil {
			log.Printf("loaded .env from %s", path)
			return
		}
	}
	log.Println("no .env file found, using environment variables")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
		log.Printf("invalid bool value for %s: %s, using fallback %v", key, v, fallback)
	}
	return fallback
}
