package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConnectorType identifies which transport backend should be used.
type ConnectorType string

const (
	ConnectorIP     ConnectorType = "ip"
	ConnectorSerial ConnectorType = "serial"

	DefaultPort       = 5000
	DefaultSerialBaud = 115200
)

var ErrInvalidConfig = errors.New("invalid config")

// LoggingConfig defines runtime logging behavior.
type LoggingConfig struct {
	Level      string `json:"level" yaml:"level"`
	LogToFile  bool   `json:"log_to_file" yaml:"log_to_file"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days"`
}

// ConnectionConfig contains connector-specific connection parameters.
type ConnectionConfig struct {
	Connector  ConnectorType `json:"connector" yaml:"connector"`
	Host       string        `json:"host" yaml:"host"`
	Port       int           `json:"port" yaml:"port"`
	SerialPort string        `json:"serial_port" yaml:"serial_port"`
	SerialBaud int           `json:"serial_baud" yaml:"serial_baud"`
}

// PollingConfig holds the initial poll loop toggles.
type PollingConfig struct {
	DataEnabled  bool `json:"data_enabled" yaml:"data_enabled"`
	EventEnabled bool `json:"event_enabled" yaml:"event_enabled"`
}

// TimingConfig holds loop cadences and deadlines.
type TimingConfig struct {
	RetryInterval     Duration `json:"retry_interval" yaml:"retry_interval"`
	ConnectTimeout    Duration `json:"connect_timeout" yaml:"connect_timeout"`
	HeartbeatPeriod   Duration `json:"heartbeat_period" yaml:"heartbeat_period"`
	HeartbeatDeadline Duration `json:"heartbeat_deadline" yaml:"heartbeat_deadline"`
	DataPeriod        Duration `json:"data_period" yaml:"data_period"`
	DataDeadline      Duration `json:"data_deadline" yaml:"data_deadline"`
	EventPeriod       Duration `json:"event_period" yaml:"event_period"`
	EventDeadline     Duration `json:"event_deadline" yaml:"event_deadline"`
	CommandTimeout    Duration `json:"command_timeout" yaml:"command_timeout"`
}

// JournalConfig controls the sqlite journal.
type JournalConfig struct {
	Enabled    bool `json:"enabled" yaml:"enabled"`
	RecordData bool `json:"record_data" yaml:"record_data"`
}

// NotificationConfig controls desktop notifications.
type NotificationConfig struct {
	Enabled          bool `json:"enabled" yaml:"enabled"`
	ErrorEvents      bool `json:"error_events" yaml:"error_events"`
	ConnectionStatus bool `json:"connection_status" yaml:"connection_status"`
}

// AppConfig is the root persisted application configuration.
type AppConfig struct {
	Connection    ConnectionConfig   `json:"connection" yaml:"connection"`
	Polling       PollingConfig      `json:"polling" yaml:"polling"`
	Timing        TimingConfig       `json:"timing" yaml:"timing"`
	Logging       LoggingConfig      `json:"logging" yaml:"logging"`
	Journal       JournalConfig      `json:"journal" yaml:"journal"`
	Notifications NotificationConfig `json:"notifications" yaml:"notifications"`
}

func Default() AppConfig {
	return AppConfig{
		Connection: ConnectionConfig{
			Connector:  ConnectorIP,
			Host:       "",
			Port:       DefaultPort,
			SerialPort: "",
			SerialBaud: DefaultSerialBaud,
		},
		Polling: PollingConfig{
			DataEnabled:  true,
			EventEnabled: false,
		},
		Timing: DefaultTiming(),
		Logging: LoggingConfig{
			Level:      "info",
			LogToFile:  false,
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Journal: JournalConfig{
			Enabled:    false,
			RecordData: false,
		},
		Notifications: NotificationConfig{
			Enabled:          false,
			ErrorEvents:      true,
			ConnectionStatus: true,
		},
	}
}

func DefaultTiming() TimingConfig {
	return TimingConfig{
		RetryInterval:     Duration(3 * time.Second),
		ConnectTimeout:    Duration(5 * time.Second),
		HeartbeatPeriod:   Duration(2 * time.Second),
		HeartbeatDeadline: Duration(time.Second),
		DataPeriod:        Duration(250 * time.Millisecond),
		DataDeadline:      Duration(250 * time.Millisecond),
		EventPeriod:       Duration(500 * time.Millisecond),
		EventDeadline:     Duration(500 * time.Millisecond),
		CommandTimeout:    Duration(2 * time.Second),
	}
}

// Load reads the config at path. A missing file yields defaults. Files ending
// in .yaml or .yml are YAML, everything else is JSON.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	cleanPath := filepath.Clean(path)
	// #nosec G304 -- path is resolved by app runtime or given on the command line.
	raw, err := os.ReadFile(cleanPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}

		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	if isYAML(cleanPath) {
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return AppConfig{}, fmt.Errorf("decode config yaml: %w", err)
		}
	} else if err := json.Unmarshal(raw, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("decode config json: %w", err)
	}

	cfg.FillMissingDefaults()

	return cfg, nil
}

func (c *AppConfig) FillMissingDefaults() {
	if c.Connection.Connector == "" {
		c.Connection.Connector = ConnectorIP
	}
	if c.Connection.Port == 0 {
		c.Connection.Port = DefaultPort
	}
	if c.Connection.SerialBaud <= 0 {
		c.Connection.SerialBaud = DefaultSerialBaud
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = 10
	}

	def := DefaultTiming()
	fill := func(v *Duration, d Duration) {
		if *v <= 0 {
			*v = d
		}
	}
	fill(&c.Timing.RetryInterval, def.RetryInterval)
	fill(&c.Timing.ConnectTimeout, def.ConnectTimeout)
	fill(&c.Timing.HeartbeatPeriod, def.HeartbeatPeriod)
	fill(&c.Timing.HeartbeatDeadline, def.HeartbeatDeadline)
	fill(&c.Timing.DataPeriod, def.DataPeriod)
	fill(&c.Timing.DataDeadline, def.DataDeadline)
	fill(&c.Timing.EventPeriod, def.EventPeriod)
	fill(&c.Timing.EventDeadline, def.EventDeadline)
	fill(&c.Timing.CommandTimeout, def.CommandTimeout)
}

func (c AppConfig) Validate() error {
	switch c.Connection.Connector {
	case ConnectorIP:
		if strings.TrimSpace(c.Connection.Host) == "" {
			return fmt.Errorf("%w: ip host is required", ErrInvalidConfig)
		}
		if c.Connection.Port < 1 || c.Connection.Port > 65535 {
			return fmt.Errorf("%w: port out of range: %d", ErrInvalidConfig, c.Connection.Port)
		}
	case ConnectorSerial:
		if strings.TrimSpace(c.Connection.SerialPort) == "" {
			return fmt.Errorf("%w: serial port is required", ErrInvalidConfig)
		}
		if c.Connection.SerialBaud <= 0 {
			return fmt.Errorf("%w: serial baud must be positive", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown connector: %s", ErrInvalidConfig, c.Connection.Connector)
	}

	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: unknown log level: %s", ErrInvalidConfig, c.Logging.Level)
	}

	if c.Timing.HeartbeatDeadline > c.Timing.HeartbeatPeriod {
		return fmt.Errorf("%w: heartbeat deadline %s exceeds period %s", ErrInvalidConfig, c.Timing.HeartbeatDeadline, c.Timing.HeartbeatPeriod)
	}
	// A heartbeat may queue behind one data and one event request.
	if polls := c.Timing.DataDeadline + c.Timing.EventDeadline; c.Timing.HeartbeatDeadline <= polls {
		return fmt.Errorf("%w: heartbeat deadline %s must exceed data and event deadlines combined (%s)", ErrInvalidConfig, c.Timing.HeartbeatDeadline, polls)
	}

	return nil
}

func Save(path string, cfg AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	var (
		raw []byte
		err error
	)
	if isYAML(path) {
		raw, err = yaml.Marshal(cfg)
	} else {
		raw, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp config: %w", err)
	}

	return nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}
