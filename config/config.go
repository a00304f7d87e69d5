package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alejandrodnm/pmfund/internal/domain"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del fondo.
type Config struct {
	Fund       FundConfig       `yaml:"fund"`
	Risk       RiskConfig       `yaml:"risk"`
	Schedulers SchedulersConfig `yaml:"schedulers"`
	Venues     VenuesConfig     `yaml:"venues"`
	LLM        LLMConfig        `yaml:"llm"`
	Market     MarketConfig     `yaml:"market"`
	Agents     []AgentConfig    `yaml:"agents"`
	Storage    StorageConfig    `yaml:"storage"`
	Events     EventsConfig     `yaml:"events"`
	Log        LogConfig        `yaml:"log"`
}

// FundConfig controla el ciclo de cada agente.
type FundConfig struct {
	InitialCapital    float64 `yaml:"initial_capital"`     // por agente, solo al sembrar
	MinConviction     float64 `yaml:"min_conviction"`      // por debajo → HOLD
	MinHistory        int     `yaml:"min_history"`         // cierres mínimos para generar señal
	HistoryDays       int     `yaml:"history_days"`        // ventana pedida al proveedor de precios
	MaxParallelCycles int     `yaml:"max_parallel_cycles"` // ciclos concurrentes por tick
	Seed              uint64  `yaml:"seed"`                // 0 = aleatorio
}

// RiskConfig contiene los límites del risk guard (fracciones del capital).
type RiskConfig struct {
	PositionLimit        float64 `yaml:"position_limit"`
	MaxDailyLoss         float64 `yaml:"max_daily_loss"`
	MaxConsecutiveLosses int     `yaml:"max_consecutive_losses"`
}

// SchedulersConfig tiene un scheduler por clase de activo.
type SchedulersConfig struct {
	Equities SchedulerConfig `yaml:"equities"`
	Crypto   SchedulerConfig `yaml:"crypto"`
}

// SchedulerConfig controla un loop periódico.
type SchedulerConfig struct {
	Enabled         *bool `yaml:"enabled"` // nil = activado
	IntervalSeconds int   `yaml:"interval_seconds"`
}

// On indica si el scheduler debe arrancar.
func (s SchedulerConfig) On() bool {
	return s.Enabled == nil || *s.Enabled
}

// Interval devuelve el intervalo como time.Duration.
func (s SchedulerConfig) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

// VenuesConfig contiene las credenciales de cada venue. Un venue sin
// credenciales completas se enruta al simulador.
type VenuesConfig struct {
	SimFeeRate float64      `yaml:"sim_fee_rate"`
	KIS        KISConfig    `yaml:"kis"`
	Bybit      BybitConfig  `yaml:"bybit"`
	Alpaca     AlpacaConfig `yaml:"alpaca"`
}

// KISConfig es el venue de renta variable con token OAuth.
type KISConfig struct {
	AppKey    string `yaml:"app_key"`
	AppSecret string `yaml:"app_secret"`
	AccountNo string `yaml:"account_no"` // "12345678-01"
	Mock      bool   `yaml:"mock"`
	BaseURL   string `yaml:"base_url"`
}

// BybitConfig es el venue cripto con firma HMAC.
type BybitConfig struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	Testnet   bool   `yaml:"testnet"`
	BaseURL   string `yaml:"base_url"`
}

// AlpacaConfig es el venue legacy con claves estáticas.
type AlpacaConfig struct {
	APIKey    string `yaml:"api_key"`
	SecretKey string `yaml:"secret_key"`
	BaseURL   string `yaml:"base_url"`
}

// LLMConfig configura el proveedor de decisiones externo.
type LLMConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// MarketConfig configura el feed de precios simulado.
type MarketConfig struct {
	Seed uint64 `yaml:"seed"`
}

// AgentConfig es la semilla de un agente.
type AgentConfig struct {
	ID         string   `yaml:"id"`
	Name       string   `yaml:"name"`
	Strategy   string   `yaml:"strategy"`
	Provider   string   `yaml:"provider"`
	Venue      string   `yaml:"venue"`
	AssetClass string   `yaml:"asset_class"`
	Watchlist  []string `yaml:"watchlist"`
	Capital    float64  `yaml:"capital"` // 0 = fund.initial_capital
	Inactive   bool     `yaml:"inactive"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// EventsConfig controla el servidor websocket de eventos en vivo.
type EventsConfig struct {
	Addr   string `yaml:"addr"`   // vacío = desactivado
	Buffer int    `yaml:"buffer"` // eventos pendientes por suscriptor antes de descartarlo
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level      string `yaml:"level"`  // debug | info | warn | error
	Format     string `yaml:"format"` // text | json
	File       string `yaml:"file"`   // vacío = solo stdout
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Las variables de entorno sobreescriben los valores del YAML.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse construye la configuración desde YAML en memoria.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Parse: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config.Parse: %w", err)
	}
	return &cfg, nil
}

// SeedAgents convierte las semillas en agentes del dominio.
func (c *Config) SeedAgents() []domain.Agent {
	agents := make([]domain.Agent, 0, len(c.Agents))
	for _, a := range c.Agents {
		capital := a.Capital
		if capital <= 0 {
			capital = c.Fund.InitialCapital
		}
		agents = append(agents, domain.Agent{
			ID:             a.ID,
			Name:           a.Name,
			Strategy:       a.Strategy,
			Provider:       a.Provider,
			Venue:          domain.Venue(a.Venue),
			AssetClass:     domain.AssetClass(a.AssetClass),
			Watchlist:      a.Watchlist,
			Active:         !a.Inactive,
			InitialCapital: capital,
			Capital:        capital,
			Cash:           capital,
		})
	}
	return agents
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
// Las credenciales solo deberían vivir en el entorno o en .env.
func applyEnvOverrides(cfg *Config) {
	str := map[string]*string{
		"KIS_APP_KEY":       &cfg.Venues.KIS.AppKey,
		"KIS_APP_SECRET":    &cfg.Venues.KIS.AppSecret,
		"KIS_ACCOUNT_NO":    &cfg.Venues.KIS.AccountNo,
		"BYBIT_API_KEY":     &cfg.Venues.Bybit.APIKey,
		"BYBIT_API_SECRET":  &cfg.Venues.Bybit.APISecret,
		"ALPACA_API_KEY":    &cfg.Venues.Alpaca.APIKey,
		"ALPACA_SECRET_KEY": &cfg.Venues.Alpaca.SecretKey,
		"ALPACA_BASE_URL":   &cfg.Venues.Alpaca.BaseURL,
		"ANTHROPIC_API_KEY": &cfg.LLM.APIKey,
		"DATABASE_PATH":     &cfg.Storage.DSN,
		"EVENTS_ADDR":       &cfg.Events.Addr,
		"LOG_LEVEL":         &cfg.Log.Level,
		"LOG_FORMAT":        &cfg.Log.Format,
		"LOG_FILE":          &cfg.Log.File,
	}
	for key, dst := range str {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	flags := map[string]*bool{
		"KIS_MOCK":      &cfg.Venues.KIS.Mock,
		"BYBIT_TESTNET": &cfg.Venues.Bybit.Testnet,
	}
	for key, dst := range flags {
		if v := os.Getenv(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Fund.InitialCapital <= 0 {
		cfg.Fund.InitialCapital = 100_000
	}
	if cfg.Fund.MinConviction <= 0 {
		cfg.Fund.MinConviction = domain.DefaultMinConviction
	}
	if cfg.Schedulers.Equities.IntervalSeconds <= 0 {
		cfg.Schedulers.Equities.IntervalSeconds = 300
	}
	if cfg.Schedulers.Crypto.IntervalSeconds <= 0 {
		cfg.Schedulers.Crypto.IntervalSeconds = 300
	}
	if cfg.Venues.SimFeeRate < 0 {
		cfg.Venues.SimFeeRate = 0
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "pmfund.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Log.MaxSizeMB <= 0 {
		cfg.Log.MaxSizeMB = 100
	}
	if cfg.Log.MaxBackups <= 0 {
		cfg.Log.MaxBackups = 5
	}
	if cfg.Log.MaxAgeDays <= 0 {
		cfg.Log.MaxAgeDays = 30
	}
	if len(cfg.Agents) == 0 {
		cfg.Agents = DefaultAgents()
	}
	for i := range cfg.Agents {
		a := &cfg.Agents[i]
		if a.Name == "" {
			a.Name = a.ID
		}
		if a.Provider == "" {
			a.Provider = domain.ProviderRuleBased
		}
		if a.Venue == "" {
			a.Venue = string(domain.VenuePaper)
		}
		if a.AssetClass == "" {
			a.AssetClass = string(domain.AssetEquity)
			if a.Venue == string(domain.VenueBybit) {
				a.AssetClass = string(domain.AssetCrypto)
			}
		}
	}
}

func (c *Config) validate() error {
	seen := make(map[string]bool, len(c.Agents))
	for _, a := range c.Agents {
		if a.ID == "" {
			return fmt.Errorf("agent without id")
		}
		if seen[a.ID] {
			return fmt.Errorf("duplicate agent %q", a.ID)
		}
		seen[a.ID] = true
		switch domain.AssetClass(strings.ToLower(a.AssetClass)) {
		case domain.AssetEquity, domain.AssetCrypto:
		default:
			return fmt.Errorf("agent %q: unknown asset_class %q", a.ID, a.AssetClass)
		}
	}
	if c.Risk.PositionLimit < 0 || c.Risk.PositionLimit > 1 {
		return fmt.Errorf("risk.position_limit %.2f outside [0,1]", c.Risk.PositionLimit)
	}
	return nil
}

// DefaultAgents es la plantilla de agentes cuando el YAML no define ninguno.
func DefaultAgents() []AgentConfig {
	return []AgentConfig{
		{ID: "atlas", Name: "Atlas", Strategy: "Macro Regime", Provider: "claude", Venue: "kis"},
		{ID: "council", Name: "The Council", Strategy: "Multi-Persona", Provider: "openai", Venue: "kis"},
		{ID: "drflow", Name: "Dr. Flow", Strategy: "Event-Driven", Provider: "gemini", Venue: "kis"},
		{ID: "insider", Name: "Insider", Strategy: "Smart Money", Provider: "grok", Venue: "kis"},
		{ID: "maxpayne", Name: "Max Payne", Strategy: "Contrarian", Provider: "deepseek", Venue: "kis"},
		{ID: "quantking", Name: "Quant King", Strategy: "Pure Quant", Provider: "rule", Venue: "kis"},
		{ID: "asiatiger", Name: "Asia Tiger", Strategy: "Asia Markets", Provider: "gemini", Venue: "kis"},
		{ID: "momentum", Name: "Momentum", Strategy: "Trend Following", Provider: "openai", Venue: "kis"},
		{ID: "sentinel", Name: "Sentinel", Strategy: "Risk Hedge", Provider: "claude", Venue: "kis"},
		{ID: "voxpopuli", Name: "Vox Populi", Strategy: "Social Tipping Point", Provider: "claude", Venue: "kis"},
		{ID: "satoshi", Name: "Satoshi", Strategy: "Crypto Specialist", Provider: "claude", Venue: "bybit", AssetClass: "crypto"},
		{ID: "defi_whale", Name: "DeFi Whale", Strategy: "DeFi Rotation", Provider: "rule", Venue: "bybit", AssetClass: "crypto"},
		{ID: "crypto_quant", Name: "Crypto Quant", Strategy: "Pure Quant", Provider: "rule", Venue: "bybit", AssetClass: "crypto"},
		{ID: "moon_hunter", Name: "Moon Hunter", Strategy: "High Beta", Provider: "rule", Venue: "bybit", AssetClass: "crypto"},
		{ID: "bear_guard", Name: "Bear Guard", Strategy: "Downside Hedge", Provider: "rule", Venue: "bybit", AssetClass: "crypto"},
	}
}
