package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/micom7/fleet-server/internal/models"
)

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// DSN renders the lib/pq connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig holds the latest-reading cache settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig holds the publication bridge settings.
type MQTTConfig struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	QoS         int
	Enabled     bool
}

// LogConfig selects zap level and encoder.
type LogConfig struct {
	Level  string
	Format string
}

// DeviceFamily selects the register map and decoder of a module.
type DeviceFamily string

const (
	FamilyET7017 DeviceFamily = "et7017"
	FamilyET7284 DeviceFamily = "et7284"
)

// ModuleConfig is one entry of the device table. Which module owns which
// physical channel is data (channel_config.module references Tag), so new
// deployments change this table rather than any cycle logic.
type ModuleConfig struct {
	Tag    models.ModuleTag
	Family DeviceFamily
	Host   string
	Port   int
	UnitID int
}

// CollectorConfig configures the on-vehicle acquisition service.
type CollectorConfig struct {
	Database DatabaseConfig
	Redis    RedisConfig
	MQTT     MQTTConfig
	Log      LogConfig

	PollingHz      float64
	ModbusTimeout  time.Duration
	ReconnectDelay time.Duration
	Modules        []ModuleConfig
}

// Interval is the cycle period derived from the polling frequency.
func (c *CollectorConfig) Interval() time.Duration {
	return time.Duration(float64(time.Second) / c.PollingHz)
}

// OutboundConfig configures the vehicle-exposed HTTP surface.
type OutboundConfig struct {
	Database DatabaseConfig
	Redis    RedisConfig
	Log      LogConfig

	ListenAddr    string
	APIKey        string
	VehicleIDHint string
	VersionFile   string
	AgentPort     int
	LatestMaxAge  time.Duration
	DataRowLimit  int
	DataRowCap    int
}

// SyncConfig configures the central replication engine.
type SyncConfig struct {
	Database DatabaseConfig
	Log      LogConfig

	Interval      time.Duration
	PullTimeout   time.Duration
	DefaultWindow time.Duration
	DefaultAPIKey string
}

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "telemetry")
	v.SetDefault("DB_PASSWORD", "")
	v.SetDefault("DB_NAME", "telemetry")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MAX_IDLE", 5)

	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	return v
}

func databaseFrom(v *viper.Viper) DatabaseConfig {
	return DatabaseConfig{
		Host:     v.GetString("DB_HOST"),
		Port:     v.GetInt("DB_PORT"),
		User:     v.GetString("DB_USER"),
		Password: v.GetString("DB_PASSWORD"),
		Database: v.GetString("DB_NAME"),
		SSLMode:  v.GetString("DB_SSLMODE"),
		MaxConns: v.GetInt("DB_MAX_CONNS"),
		MaxIdle:  v.GetInt("DB_MAX_IDLE"),
	}
}

func redisFrom(v *viper.Viper) RedisConfig {
	return RedisConfig{
		Addr:     v.GetString("REDIS_ADDR"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}
}

func logFrom(v *viper.Viper) LogConfig {
	return LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}
}

// LoadCollector reads the collector configuration from the environment.
func LoadCollector() (*CollectorConfig, error) {
	v := newViper()

	v.SetDefault("POLLING_FREQUENCY_HZ", 1.0)
	v.SetDefault("MODBUS_TIMEOUT_SEC", 2.0)
	v.SetDefault("RECONNECT_DELAY_SEC", 5.0)

	v.SetDefault("MODBUS_ET7017_1_IP", "localhost")
	v.SetDefault("MODBUS_ET7017_1_PORT", 5020)
	v.SetDefault("MODBUS_ET7017_1_UNIT_ID", 1)
	v.SetDefault("MODBUS_ET7017_2_IP", "localhost")
	v.SetDefault("MODBUS_ET7017_2_PORT", 5021)
	v.SetDefault("MODBUS_ET7017_2_UNIT_ID", 1)
	v.SetDefault("MODBUS_ET7284_IP", "localhost")
	v.SetDefault("MODBUS_ET7284_PORT", 5022)
	v.SetDefault("MODBUS_ET7284_UNIT_ID", 1)

	v.SetDefault("MQTT_ENABLED", false)
	v.SetDefault("MQTT_BROKER", "tcp://localhost:1883")
	v.SetDefault("MQTT_CLIENT_ID", "telemetry-collector")
	v.SetDefault("MQTT_TOPIC_PREFIX", "telemetry")
	v.SetDefault("MQTT_QOS", 0)

	cfg := &CollectorConfig{
		Database: databaseFrom(v),
		Redis:    redisFrom(v),
		Log:      logFrom(v),
		MQTT: MQTTConfig{
			Broker:      v.GetString("MQTT_BROKER"),
			ClientID:    v.GetString("MQTT_CLIENT_ID"),
			TopicPrefix: v.GetString("MQTT_TOPIC_PREFIX"),
			QoS:         v.GetInt("MQTT_QOS"),
			Enabled:     v.GetBool("MQTT_ENABLED"),
		},
		PollingHz:      v.GetFloat64("POLLING_FREQUENCY_HZ"),
		ModbusTimeout:  time.Duration(v.GetFloat64("MODBUS_TIMEOUT_SEC") * float64(time.Second)),
		ReconnectDelay: time.Duration(v.GetFloat64("RECONNECT_DELAY_SEC") * float64(time.Second)),
		Modules: []ModuleConfig{
			{
				Tag:    models.ModuleET7017_1,
				Family: FamilyET7017,
				Host:   v.GetString("MODBUS_ET7017_1_IP"),
				Port:   v.GetInt("MODBUS_ET7017_1_PORT"),
				UnitID: v.GetInt("MODBUS_ET7017_1_UNIT_ID"),
			},
			{
				Tag:    models.ModuleET7017_2,
				Family: FamilyET7017,
				Host:   v.GetString("MODBUS_ET7017_2_IP"),
				Port:   v.GetInt("MODBUS_ET7017_2_PORT"),
				UnitID: v.GetInt("MODBUS_ET7017_2_UNIT_ID"),
			},
			{
				Tag:    models.ModuleET7284,
				Family: FamilyET7284,
				Host:   v.GetString("MODBUS_ET7284_IP"),
				Port:   v.GetInt("MODBUS_ET7284_PORT"),
				UnitID: v.GetInt("MODBUS_ET7284_UNIT_ID"),
			},
		},
	}

	if cfg.PollingHz <= 0 {
		return nil, fmt.Errorf("POLLING_FREQUENCY_HZ must be positive, got %v", cfg.PollingHz)
	}
	return cfg, nil
}

// LoadOutbound reads the outbound API configuration from the environment.
func LoadOutbound() (*OutboundConfig, error) {
	v := newViper()

	v.SetDefault("OUTBOUND_LISTEN_ADDR", ":8001")
	v.SetDefault("OUTBOUND_API_KEY", "")
	v.SetDefault("VEHICLE_ID_HINT", "unknown")
	v.SetDefault("VERSION_FILE", "version.txt")
	v.SetDefault("AGENT_PORT", 9876)
	v.SetDefault("LATEST_MAX_AGE_SEC", 5)
	v.SetDefault("DATA_ROW_LIMIT", 10000)
	v.SetDefault("DATA_ROW_CAP", 50000)

	return &OutboundConfig{
		Database:      databaseFrom(v),
		Redis:         redisFrom(v),
		Log:           logFrom(v),
		ListenAddr:    v.GetString("OUTBOUND_LISTEN_ADDR"),
		APIKey:        v.GetString("OUTBOUND_API_KEY"),
		VehicleIDHint: v.GetString("VEHICLE_ID_HINT"),
		VersionFile:   v.GetString("VERSION_FILE"),
		AgentPort:     v.GetInt("AGENT_PORT"),
		LatestMaxAge:  time.Duration(v.GetInt("LATEST_MAX_AGE_SEC")) * time.Second,
		DataRowLimit:  v.GetInt("DATA_ROW_LIMIT"),
		DataRowCap:    v.GetInt("DATA_ROW_CAP"),
	}, nil
}

// LoadSync reads the replication engine configuration from the environment.
func LoadSync() (*SyncConfig, error) {
	v := newViper()

	v.SetDefault("DB_NAME", "fleet")
	v.SetDefault("DB_USER", "fleet_app")
	v.SetDefault("SYNC_INTERVAL_SEC", 30)
	v.SetDefault("PULL_TIMEOUT_SEC", 10.0)
	v.SetDefault("PULL_WINDOW_SEC", 60)
	v.SetDefault("VEHICLE_DEFAULT_API_KEY", "")

	return &SyncConfig{
		Database:      databaseFrom(v),
		Log:           logFrom(v),
		Interval:      time.Duration(v.GetInt("SYNC_INTERVAL_SEC")) * time.Second,
		PullTimeout:   time.Duration(v.GetFloat64("PULL_TIMEOUT_SEC") * float64(time.Second)),
		DefaultWindow: time.Duration(v.GetInt("PULL_WINDOW_SEC")) * time.Second,
		DefaultAPIKey: v.GetString("VEHICLE_DEFAULT_API_KEY"),
	}, nil
}
