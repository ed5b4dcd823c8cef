package app

import (
	"time"

	"github.com/sourcequill/backend/internal/platform/envutil"
)

type Config struct {
	Port        string
	MetricsAddr string

	JWTSecretKey    string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	ChatModel string
}

func LoadConfig() Config {
	return Config{
		Port:            envutil.String("PORT", "8080"),
		MetricsAddr:     envutil.String("METRICS_ADDR", ":9090"),
		JWTSecretKey:    envutil.String("JWT_SECRET_KEY", "defaultsecret"),
		AccessTokenTTL:  time.Duration(envutil.Int("ACCESS_TOKEN_TTL", 3600)) * time.Second,
		RefreshTokenTTL: time.Duration(envutil.Int("REFRESH_TOKEN_TTL", 30*86400)) * time.Second,
		ChatModel:       envutil.String("CHAT_MODEL", ""),
	}
}
