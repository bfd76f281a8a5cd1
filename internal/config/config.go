package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env  string
	Port int

	DBURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTSecret        string
	JWTAccessTTLDays int

	AllowedOrigins []string
	ClientURL      string

	ResetTokenTTLMinutes int

	// optional bootstrap GM account
	GMEmail    string
	GMPassword string
	GMName     string

	OtelEnabled  bool
	OtelEndpoint string
}

func Load() Config {
	// best effort: a missing .env file is fine in prod
	_ = godotenv.Load()

	env := getEnv("APP_ENV", "dev")
	port := getEnvInt("PORT", 8080)
	dbURL := buildDBURL()

	return Config{
		Env:   env,
		Port:  port,
		DBURL: dbURL,

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		JWTSecret:        getEnv("JWT_SECRET", "dev-secret-change-me"),
		JWTAccessTTLDays: getEnvInt("JWT_ACCESS_TTL_DAYS", 7),

		AllowedOrigins: []string{getEnv("CLIENT_URL", "http://localhost:5173")},
		ClientURL:      getEnv("CLIENT_URL", "http://localhost:5173"),

		ResetTokenTTLMinutes: getEnvInt("RESET_TOKEN_TTL_MINUTES", 60),

		GMEmail:    getEnv("GM_EMAIL", ""),
		GMPassword: getEnv("GM_PASSWORD", ""),
		GMName:     getEnv("GM_NAME", "Game Master"),

		OtelEnabled:  getEnv("OTEL_ENABLED", "") == "1",
		OtelEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
	}
}

func buildDBURL() string {
	if url := getEnv("DATABASE_URL", ""); url != "" {
		return url
	}

	host := getEnv("DB_HOST", "127.0.0.1")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "sheethub")
	pass := getEnv("DB_PASSWORD", "sheethub")
	name := getEnv("DB_NAME", "sheethub")
	ssl := getEnv("DB_SSLMODE", "disable")

	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + name + "?sslmode=" + ssl
}

func WithTimeout(duration time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), duration)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		num, err := strconv.Atoi(v)

		if err != nil {
			fmt.Println(err)
		}

		return num
	}
	return fallback
}
