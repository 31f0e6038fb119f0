package gormlog

import (
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm/logger"
)

// New 根據等級建立 GORM Logger，輸出導向 zerolog
//
// 參數:
//
//	level: "silent", "error", "warn", "info"
//	zl: 底層 zerolog Logger
func New(level string, zl zerolog.Logger) logger.Interface {
	var logLevel logger.LogLevel
	switch level {
	case "info":
		logLevel = logger.Info
	case "warn":
		logLevel = logger.Warn
	case "error":
		logLevel = logger.Error
	case "silent":
		logLevel = logger.Silent
	default:
		logLevel = logger.Error // 預設只記錄錯誤
	}

	zl = zl.With().Str("component", "gorm").Logger()
	return logger.New(&zl, logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logLevel,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}
