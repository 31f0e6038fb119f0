package postgres

import (
	"fmt"
	"time"
)

// Config PostgreSQL 連線設定
type Config struct {
	Host     string
	Port     int // 預設 5432
	User     string
	Password string
	DBName   string
	SSLMode  string // 預設 disable

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	MaxRetries    int
	RetryInterval time.Duration

	LogLevel string
}

func (c Config) withDefaults() Config {
	if c.Port == 0 {
		c.Port = 5432
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 10
	}
	if c.MaxIdleConns <= 0 || c.MaxIdleConns > c.MaxOpenConns {
		c.MaxIdleConns = c.MaxOpenConns
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = 30 * time.Minute
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 1
	}
	if c.RetryInterval == 0 {
		c.RetryInterval = 2 * time.Second
	}
	return c
}

// DSN 產生 pgx 使用的 key=value 連線字串
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}
