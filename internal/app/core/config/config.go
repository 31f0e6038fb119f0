package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/JoeShih716/go-mem-economy/internal/app/core/domain"
)

// TickDuration save-interval 的單位 (一個遊戲 tick)
const TickDuration = 50 * time.Millisecond

// BackendType 儲存後端類型
type BackendType string

const (
	BackendSQLite   BackendType = "sqlite"
	BackendMySQL    BackendType = "mysql"
	BackendPostgres BackendType = "postgres"
)

// Embedded 是否為單檔案內嵌式後端
func (b BackendType) Embedded() bool {
	return b == BackendSQLite
}

// fileConfig 對應 config.yaml 的結構，指標欄位用來判斷是否有填寫
type fileConfig struct {
	Settings struct {
		StartBalance   *float64 `yaml:"start-balance"`
		MinBalance     *float64 `yaml:"min-balance"`
		MaxBalance     *float64 `yaml:"max-balance"`
		CurrencySymbol *string  `yaml:"currency-symbol"`
		SaveInterval   *int     `yaml:"save-interval"`
	} `yaml:"settings"`
	Database struct {
		Type           string `yaml:"type"`
		File           string `yaml:"file"`
		Table          string `yaml:"table"`
		Host           string `yaml:"host"`
		Port           int    `yaml:"port"`
		Name           string `yaml:"name"`
		Username       string `yaml:"username"`
		Password       string `yaml:"password"`
		PoolSize       int    `yaml:"pool-size"`
		ConnectRetries int    `yaml:"connect-retries"`
		LogLevel       string `yaml:"log-level"`
	} `yaml:"database"`
	Journal struct {
		Path string `yaml:"path"`
	} `yaml:"journal"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`
}

// Database 儲存後端連線設定
type Database struct {
	Type           BackendType
	File           string
	Table          string
	Host           string
	Port           int
	Name           string
	Username       string
	Password       string
	PoolSize       int
	ConnectRetries int
	LogLevel       string
}

// Settings 一份完整且不可變的設定快照，Reload 時整份替換
type Settings struct {
	StartBalance   decimal.Decimal
	MinBalance     decimal.Decimal
	MaxBalance     decimal.NullDecimal // Valid=false 代表沒有上限
	CurrencySymbol string
	SaveInterval   int // 單位 tick，<= 0 代表不緩衝

	Database    Database
	JournalPath string
	LogLevel    string
	LogFormat   string
	HTTPAddr    string
}

// FlushInterval 自動 flush 週期，0 代表停用
func (s *Settings) FlushInterval() time.Duration {
	if s.SaveInterval <= 0 {
		return 0
	}
	return time.Duration(s.SaveInterval) * TickDuration
}

// AboveMax v 是否超過上限
// 沒有設定上限時仍以 domain.MaxValue (資料表可儲存的最大值) 為上限
func (s *Settings) AboveMax(v decimal.Decimal) bool {
	if v.GreaterThan(domain.MaxValue) {
		return true
	}
	return s.MaxBalance.Valid && v.GreaterThan(s.MaxBalance.Decimal)
}

// BelowMin v 是否低於下限
func (s *Settings) BelowMin(v decimal.Decimal) bool {
	return v.LessThan(s.MinBalance)
}

// Default 回傳全部使用預設值的設定
func Default() *Settings {
	s, err := build(&fileConfig{})
	if err != nil {
		// 空設定不會失敗
		panic(err)
	}
	return s
}

// Load 讀取 YAML 設定檔，套用 .env 與環境變數覆寫後建立快照
//
// 參數:
//
//	path: 設定檔路徑
//
// 回傳:
//
//	*Settings: 設定快照
//	error: 讀檔、解析或驗證錯誤
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse 從 YAML 內容建立快照
func Parse(data []byte) (*Settings, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// .env 不存在時忽略，已存在的環境變數不會被覆蓋
	_ = godotenv.Load()
	if err := applyEnv(&fc); err != nil {
		return nil, err
	}

	return build(&fc)
}

func applyEnv(fc *fileConfig) error {
	overrides := map[string]*string{
		"LEDGER_DB_TYPE":     &fc.Database.Type,
		"LEDGER_DB_HOST":     &fc.Database.Host,
		"LEDGER_DB_NAME":     &fc.Database.Name,
		"LEDGER_DB_USER":     &fc.Database.Username,
		"LEDGER_DB_PASSWORD": &fc.Database.Password,
		"LEDGER_HTTP_ADDR":   &fc.HTTP.Addr,
		"LEDGER_LOG_LEVEL":   &fc.Log.Level,
	}
	for key, dst := range overrides {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	if v, ok := os.LookupEnv("LEDGER_DB_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse LEDGER_DB_PORT: %w", err)
		}
		fc.Database.Port = port
	}
	return nil
}

func build(fc *fileConfig) (*Settings, error) {
	s := &Settings{
		StartBalance:   decimal.NewFromInt(100),
		MinBalance:     decimal.Zero,
		CurrencySymbol: "$",
		SaveInterval:   1200,
		JournalPath:    fc.Journal.Path,
		LogLevel:       orDefault(fc.Log.Level, "info"),
		LogFormat:      orDefault(fc.Log.Format, "console"),
		HTTPAddr:       orDefault(fc.HTTP.Addr, ":8080"),
	}

	st := fc.Settings
	if st.StartBalance != nil {
		v, status := domain.AmountFromFloat(*st.StartBalance)
		if status != domain.StatusSuccess {
			return nil, fmt.Errorf("settings.start-balance: invalid value")
		}
		s.StartBalance = v
	}
	if st.MinBalance != nil {
		v, err := bound("min-balance", *st.MinBalance)
		if err != nil {
			return nil, err
		}
		s.MinBalance = decimal.Max(v, decimal.Zero)
	}
	if st.MaxBalance != nil {
		v, err := bound("max-balance", *st.MaxBalance)
		if err != nil {
			return nil, err
		}
		s.MaxBalance = decimal.NewNullDecimal(decimal.Max(v, s.MinBalance))
	}
	if st.CurrencySymbol != nil {
		s.CurrencySymbol = *st.CurrencySymbol
	}
	if st.SaveInterval != nil {
		s.SaveInterval = max(*st.SaveInterval, 0)
	}

	db, err := buildDatabase(fc)
	if err != nil {
		return nil, err
	}
	s.Database = db

	return s, nil
}

// bound 上下限超過可儲存範圍時以 domain.MaxValue 為準
func bound(key string, f float64) (decimal.Decimal, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, fmt.Errorf("settings.%s: invalid value", key)
	}
	v := decimal.NewFromFloat(f).Round(domain.Scale)
	return decimal.Min(v, domain.MaxValue), nil
}

func buildDatabase(fc *fileConfig) (Database, error) {
	raw := fc.Database
	db := Database{
		File:           orDefault(raw.File, "data/balances.db"),
		Table:          raw.Table,
		Host:           orDefault(raw.Host, "localhost"),
		Port:           raw.Port,
		Name:           orDefault(raw.Name, "economy"),
		Username:       orDefault(raw.Username, "root"),
		Password:       raw.Password,
		PoolSize:       raw.PoolSize,
		ConnectRetries: raw.ConnectRetries,
		LogLevel:       orDefault(raw.LogLevel, "error"),
	}

	switch strings.ToLower(strings.TrimSpace(raw.Type)) {
	case "", "sqlite", "embedded-file", "embedded":
		db.Type = BackendSQLite
	case "mysql", "networked":
		db.Type = BackendMySQL
	case "postgres", "postgresql":
		db.Type = BackendPostgres
	default:
		return Database{}, fmt.Errorf("%w: %q", domain.ErrUnknownBackend, raw.Type)
	}

	if db.Port == 0 {
		switch db.Type {
		case BackendMySQL:
			db.Port = 3306
		case BackendPostgres:
			db.Port = 5432
		}
	}
	if db.PoolSize <= 0 {
		db.PoolSize = 10
	}
	if db.ConnectRetries <= 0 {
		db.ConnectRetries = 3
	}
	return db, nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
