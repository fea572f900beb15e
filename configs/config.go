package config

import (
	"os"
)

// Config holds the application configuration
type Config struct {
	Port           string
	Environment    string
	APIKey         string
	GroqAPIKey     string
	GroqBaseURL    string
	DataFile       string
	PromptFile     string
	AllowedOrigins string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Port:           getEnv("PORT", "8000"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		APIKey:         getEnv("API_KEY", ""),
		GroqAPIKey:     getEnv("GROQ_API_KEY", ""),
		GroqBaseURL:    getEnv("GROQ_BASE_URL", "https://api.groq.com/openai/v1"),
		DataFile:       getEnv("DATA_FILE", "data/shipments.csv"),
		PromptFile:     getEnv("PROMPT_FILE", "configs/prompts.yaml"),
		AllowedOrigins: getEnv("ALLOWED_ORIGINS", "*"),
	}
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
