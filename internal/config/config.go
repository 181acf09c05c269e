package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full node configuration, loaded from configs/config.yml with
// environment-variable overrides (TANKNODE_MQTT_BROKER, ...).
type Config struct {
	Node     NodeConfig     `mapstructure:"node"`
	Log      LogConfig      `mapstructure:"log"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	Network  NetworkConfig  `mapstructure:"network"`
	Tank     TankConfig     `mapstructure:"tank"`
	Sampler  SamplerConfig  `mapstructure:"sampler"`
	Publish  PublishConfig  `mapstructure:"publish"`
	Watchdog WatchdogConfig `mapstructure:"watchdog"`
	Updater  UpdaterConfig  `mapstructure:"updater"`
}

type NodeConfig struct {
	Location   string `mapstructure:"location"`
	SensorType string `mapstructure:"sensor_type"`
	DataDir    string `mapstructure:"data_dir"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type MQTTConfig struct {
	Broker          string        `mapstructure:"broker"`
	ClientID        string        `mapstructure:"client_id"`
	TelemetryTopic  string        `mapstructure:"telemetry_topic"`
	StatusTopic     string        `mapstructure:"status_topic"`
	CommandTopic    string        `mapstructure:"command_topic"`
	SessionCooldown time.Duration `mapstructure:"session_cooldown"`
}

type NetworkConfig struct {
	Interface      string        `mapstructure:"interface"`
	ReconnectCmd   string        `mapstructure:"reconnect_cmd"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type TankConfig struct {
	HeightCm float64 `mapstructure:"height_cm"`
}

type SamplerConfig struct {
	BurstSize   int           `mapstructure:"burst_size"`
	Quorum      int           `mapstructure:"quorum"`
	MinValidCm  float64       `mapstructure:"min_valid_cm"`
	MaxValidCm  float64       `mapstructure:"max_valid_cm"`
	EchoTimeout time.Duration `mapstructure:"echo_timeout"`
	PulseGap    time.Duration `mapstructure:"pulse_gap"`
	GPIOChip    string        `mapstructure:"gpio_chip"`
	TriggerPin  int           `mapstructure:"trigger_pin"`
	EchoPin     int           `mapstructure:"echo_pin"`
}

type PublishConfig struct {
	MeasureInterval   time.Duration `mapstructure:"measure_interval"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	FailureThreshold  int           `mapstructure:"failure_threshold"`
}

type WatchdogConfig struct {
	Device  string        `mapstructure:"device"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type UpdaterConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	StagingPath     string        `mapstructure:"staging_path"`
	InstallCmd      string        `mapstructure:"install_cmd"`
	MinFreeHeap     uint64        `mapstructure:"min_free_heap"`
	DownloadTimeout time.Duration `mapstructure:"download_timeout"`
}

// Load reads configs/config.yml (if present) merged over the built-in
// defaults, then applies TANKNODE_* environment overrides. A missing config
// file is not an error: the defaults describe a complete single-tank site.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("configs")
	v.AddConfigPath("/etc/tanknode")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("TANKNODE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("node.location", "tank")
	v.SetDefault("node.sensor_type", "hcsr04")
	v.SetDefault("node.data_dir", "/var/lib/tanknode")

	v.SetDefault("log.level", "info")

	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "tanknode")
	v.SetDefault("mqtt.telemetry_topic", "tank/telemetry")
	v.SetDefault("mqtt.status_topic", "tank/status")
	v.SetDefault("mqtt.command_topic", "tank/command")
	v.SetDefault("mqtt.session_cooldown", "5s")

	v.SetDefault("network.interface", "wlan0")
	v.SetDefault("network.reconnect_cmd", "")
	v.SetDefault("network.retry_delay", "10s")
	v.SetDefault("network.connect_timeout", "15s")

	// 11-inch rain barrel reservoir at the reference site.
	v.SetDefault("tank.height_cm", 27.94)

	v.SetDefault("sampler.burst_size", 5)
	v.SetDefault("sampler.quorum", 3)
	v.SetDefault("sampler.min_valid_cm", 2.0)
	v.SetDefault("sampler.max_valid_cm", 400.0)
	v.SetDefault("sampler.echo_timeout", "30ms")
	v.SetDefault("sampler.pulse_gap", "60ms")
	v.SetDefault("sampler.gpio_chip", "gpiochip0")
	v.SetDefault("sampler.trigger_pin", 23)
	v.SetDefault("sampler.echo_pin", 24)

	v.SetDefault("publish.measure_interval", "30s")
	v.SetDefault("publish.heartbeat_interval", "5m")
	v.SetDefault("publish.failure_threshold", 10)

	v.SetDefault("watchdog.device", "")
	v.SetDefault("watchdog.timeout", "8s")

	v.SetDefault("updater.enabled", false)
	v.SetDefault("updater.staging_path", "/var/lib/tanknode/update.staged")
	v.SetDefault("updater.install_cmd", "")
	v.SetDefault("updater.min_free_heap", 8<<20)
	v.SetDefault("updater.download_timeout", "2m")
}

func (c *Config) validate() error {
	if c.Tank.HeightCm <= 0 {
		return fmt.Errorf("tank.height_cm must be > 0, got %v", c.Tank.HeightCm)
	}
	if c.Sampler.Quorum <= 0 || c.Sampler.Quorum > c.Sampler.BurstSize {
		return fmt.Errorf("sampler.quorum must be in [1, burst_size], got %d of %d",
			c.Sampler.Quorum, c.Sampler.BurstSize)
	}
	if c.Sampler.MinValidCm >= c.Sampler.MaxValidCm {
		return fmt.Errorf("sampler valid range is empty: [%v, %v]",
			c.Sampler.MinValidCm, c.Sampler.MaxValidCm)
	}
	if c.Publish.MeasureInterval <= 0 || c.Publish.HeartbeatInterval <= 0 {
		return fmt.Errorf("publish intervals must be positive")
	}
	return nil
}
