package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "loom.db", cfg.DatabaseURL)
	require.Equal(t, "HS256", cfg.JWTAlgorithm)
	require.Equal(t, 30, cfg.AccessTokenExpireMinutes)
	require.Equal(t, 587, cfg.SMTPPort)
	require.Equal(t, 8000, cfg.Port)
	require.Equal(t, ":8000", cfg.Addr())
	require.Equal(t, []string{"*"}, cfg.Origins())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("DATABASE_URL", "/tmp/other.db")
	t.Setenv("REDIS_URL", "redis://localhost:6379/1")
	t.Setenv("JWT_SECRET_KEY", "s3cr3t")
	t.Setenv("ACCESS_TOKEN_EXPIRE_MINUTES", "5")
	t.Setenv("SMTP_HOST", "smtp.example.com")
	t.Setenv("FROM_EMAIL", "noreply@example.com")
	t.Setenv("PORT", "9001")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "/tmp/other.db", cfg.DatabaseURL)
	require.Equal(t, "redis://localhost:6379/1", cfg.RedisURL)
	require.Equal(t, "s3cr3t", cfg.JWTSecretKey)
	require.Equal(t, 5, cfg.AccessTokenExpireMinutes)
	require.Equal(t, "smtp.example.com", cfg.SMTPHost)
	require.Equal(t, "noreply@example.com", cfg.FromEmail)
	require.Equal(t, 9001, cfg.Port)
}

func TestLoad_RejectsBadAlgorithm(t *testing.T) {
	t.Setenv("JWT_ALGORITHM", "none")

	_, err := Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "JWT_ALGORITHM")
}

func TestLoad_RejectsBadPort(t *testing.T) {
	t.Setenv("PORT", "70000")

	_, err := Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "PORT")
}

func TestLoad_RejectsNonPositiveExpiry(t *testing.T) {
	t.Setenv("ACCESS_TOKEN_EXPIRE_MINUTES", "0")

	_, err := Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "ACCESS_TOKEN_EXPIRE_MINUTES")
}

func TestLoad_RejectsFileExporterWithoutPath(t *testing.T) {
	t.Setenv("TRACE_EXPORTER", "file")

	_, err := Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "TRACE_FILE")
}

func TestOrigins_SplitsAndTrims(t *testing.T) {
	cfg := &Config{CORSOrigins: "http://localhost:3000, https://app.example.com ,"}
	require.Equal(t, []string{"http://localhost:3000", "https://app.example.com"}, cfg.Origins())
}
