package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	AuthSecret            string
	AccessTokenTTLMinutes int
	ManagerPIN            string
	TxMaxAttempts         int
	TxBackoffMS           int
	StockCacheTTLSeconds  int
	AllowNegativeStock    bool
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	maxAttempts, err := strconv.Atoi(getEnv("TX_MAX_ATTEMPTS", "5"))
	if err != nil || maxAttempts < 1 {
		maxAttempts = 5
	}
	backoffMS, err := strconv.Atoi(getEnv("TX_BACKOFF_MS", "25"))
	if err != nil || backoffMS < 1 {
		backoffMS = 25
	}
	stockTTL, err := strconv.Atoi(getEnv("STOCK_CACHE_TTL_SECONDS", "15"))
	if err != nil || stockTTL < 1 {
		stockTTL = 15
	}
	allowNegative, _ := strconv.ParseBool(getEnv("ALLOW_NEGATIVE_STOCK", "false"))

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		ManagerPIN:            strings.TrimSpace(os.Getenv("MANAGER_PIN")),
		TxMaxAttempts:         maxAttempts,
		TxBackoffMS:           backoffMS,
		StockCacheTTLSeconds:  stockTTL,
		AllowNegativeStock:    allowNegative,
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
