package bootstrap

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerAddr string
	LogLevel   string

	GeminiAPIKey           string
	CoachModel             string
	CoachVoice             string
	CoachSystemInstruction string
	CoachPoseSequence      string
	CoachPoseInterval      time.Duration
	CoachSessionCeiling    time.Duration

	DatabaseDSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

func LoadConfig() *Config {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	return &Config{
		ServerAddr: getEnv("SERVER_ADDR", ":8080"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),

		GeminiAPIKey:           getEnv("GEMINI_API_KEY", ""),
		CoachModel:             getEnv("COACH_MODEL", ""),
		CoachVoice:             getEnv("COACH_VOICE", ""),
		CoachSystemInstruction: getEnv("COACH_SYSTEM_INSTRUCTION", ""),
		CoachPoseSequence:      getEnv("COACH_POSE_SEQUENCE", ""),
		CoachPoseInterval:      getEnvDuration("COACH_POSE_INTERVAL", 60*time.Second),
		CoachSessionCeiling:    getEnvDuration("COACH_SESSION_CEILING", 110*time.Second),

		DatabaseDSN: getEnv("DATABASE_DSN", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}
