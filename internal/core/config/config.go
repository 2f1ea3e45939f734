package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Training   TrainingConfig   `mapstructure:"TRAINING"`
	Federation FederationConfig `mapstructure:"FEDERATION"`
	Secure     SecureConfig     `mapstructure:"SECURE"`
	Worker     WorkerConfig     `mapstructure:"WORKER"`
}

type TrainingConfig struct {
	Epochs        int     `mapstructure:"EPOCHS"`
	BatchSize     int     `mapstructure:"BATCH_SIZE"`
	TestBatchSize int     `mapstructure:"TEST_BATCH_SIZE"`
	LearningRate  float64 `mapstructure:"LEARNING_RATE"`
	LogInterval   int     `mapstructure:"LOG_INTERVAL"`
	Seed          int64   `mapstructure:"SEED"`
	HiddenSize    int     `mapstructure:"HIDDEN_SIZE"`
	DatasetPath   string  `mapstructure:"DATASET_PATH"`
	DatasetFormat string  `mapstructure:"DATASET_FORMAT"`
	TestFraction  float64 `mapstructure:"TEST_FRACTION"`
}

type FederationConfig struct {
	// Workers lists worker endpoints in the order rounds will visit them.
	Workers       []string      `mapstructure:"WORKERS"`
	WindowBatches int           `mapstructure:"WINDOW_BATCHES"`
	DialRetries   int           `mapstructure:"DIAL_RETRIES"`
	DialBackoff   time.Duration `mapstructure:"DIAL_BACKOFF"`
	// MonitorAddr, when set, serves the heartbeat receiver on the
	// coordinator. Empty disables liveness monitoring.
	MonitorAddr string `mapstructure:"MONITOR_ADDR"`
}

type SecureConfig struct {
	LogN     int `mapstructure:"LOG_N"`
	LogScale int `mapstructure:"LOG_SCALE"`
}

type WorkerConfig struct {
	Name              string          `mapstructure:"NAME"`
	Host              string          `mapstructure:"HOST"`
	Port              string          `mapstructure:"PORT"`
	ShardIndex        int             `mapstructure:"SHARD_INDEX"`
	ShardCount        int             `mapstructure:"SHARD_COUNT"`
	CoordinatorURL    string          `mapstructure:"COORDINATOR_URL"`
	HeartbeatInterval time.Duration   `mapstructure:"HEARTBEAT_INTERVAL"`
	Websocket         WebsocketConfig `mapstructure:"WEBSOCKET"`
}

type WebsocketConfig struct {
	WriteWait      time.Duration `mapstructure:"WRITE_WAIT"`
	PongWait       time.Duration `mapstructure:"PONG_WAIT"`
	MaxMessageSize int64         `mapstructure:"MAX_MESSAGE_SIZE"`
}

type ConfigManager struct {
	config     *Config
	configPath string
	mutex      sync.RWMutex
}

var (
	instance *ConfigManager
	once     sync.Once
)

func GetConfigManager() *ConfigManager {
	once.Do(func() {
		instance = &ConfigManager{
			configPath: ".env",
		}
	})
	return instance
}

func (cm *ConfigManager) SetConfigPath(path string) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	cm.configPath = path
	cm.config = nil
}

func (cm *ConfigManager) GetConfig() (*Config, error) {
	cm.mutex.RLock()
	if cm.config != nil {
		defer cm.mutex.RUnlock()
		return cm.config, nil
	}
	cm.mutex.RUnlock()

	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	if cm.config != nil {
		return cm.config, nil
	}

	var err error
	cm.config, err = loadConfigFile(cm.configPath)
	return cm.config, err
}

func (cm *ConfigManager) GetConfigPath() string {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	return cm.configPath
}

func loadConfigFile(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("env")
	v.SetEnvPrefix("")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	v.SetDefault("TRAINING", map[string]interface{}{
		"EPOCHS":          v.GetInt("TRAINING_EPOCHS"),
		"BATCH_SIZE":      v.GetInt("TRAINING_BATCH_SIZE"),
		"TEST_BATCH_SIZE": v.GetInt("TRAINING_TEST_BATCH_SIZE"),
		"LEARNING_RATE":   v.GetFloat64("TRAINING_LEARNING_RATE"),
		"LOG_INTERVAL":    v.GetInt("TRAINING_LOG_INTERVAL"),
		"SEED":            v.GetInt64("TRAINING_SEED"),
		"HIDDEN_SIZE":     v.GetInt("TRAINING_HIDDEN_SIZE"),
		"DATASET_PATH":    v.GetString("TRAINING_DATASET_PATH"),
		"DATASET_FORMAT":  v.GetString("TRAINING_DATASET_FORMAT"),
		"TEST_FRACTION":   v.GetFloat64("TRAINING_TEST_FRACTION"),
	})

	v.SetDefault("FEDERATION", map[string]interface{}{
		"WORKERS":        v.GetStringSlice("FEDERATION_WORKERS"),
		"WINDOW_BATCHES": v.GetInt("FEDERATION_WINDOW_BATCHES"),
		"DIAL_RETRIES":   v.GetInt("FEDERATION_DIAL_RETRIES"),
		"DIAL_BACKOFF":   v.GetDuration("FEDERATION_DIAL_BACKOFF"),
		"MONITOR_ADDR":   v.GetString("FEDERATION_MONITOR_ADDR"),
	})

	v.SetDefault("SECURE", map[string]interface{}{
		"LOG_N":     v.GetInt("SECURE_LOG_N"),
		"LOG_SCALE": v.GetInt("SECURE_LOG_SCALE"),
	})

	v.SetDefault("WORKER", map[string]interface{}{
		"NAME":               v.GetString("WORKER_NAME"),
		"HOST":               v.GetString("WORKER_HOST"),
		"PORT":               v.GetString("WORKER_PORT"),
		"SHARD_INDEX":        v.GetInt("WORKER_SHARD_INDEX"),
		"SHARD_COUNT":        v.GetInt("WORKER_SHARD_COUNT"),
		"COORDINATOR_URL":    v.GetString("WORKER_COORDINATOR_URL"),
		"HEARTBEAT_INTERVAL": v.GetDuration("WORKER_HEARTBEAT_INTERVAL"),
		"WEBSOCKET": map[string]interface{}{
			"WRITE_WAIT":       v.GetDuration("WORKER_WEBSOCKET_WRITE_WAIT"),
			"PONG_WAIT":        v.GetDuration("WORKER_WEBSOCKET_PONG_WAIT"),
			"MAX_MESSAGE_SIZE": v.GetInt64("WORKER_WEBSOCKET_MAX_MESSAGE_SIZE"),
		},
	})

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode into config struct: %w", err)
	}

	applyDefaults(&config)

	return &config, nil
}

func applyDefaults(config *Config) {
	if config.Training.Epochs == 0 {
		config.Training.Epochs = 1
	}
	if config.Training.BatchSize == 0 {
		config.Training.BatchSize = 64
	}
	if config.Training.TestBatchSize == 0 {
		config.Training.TestBatchSize = config.Training.BatchSize
	}
	if config.Training.LearningRate == 0 {
		config.Training.LearningRate = 0.01
	}
	if config.Training.LogInterval == 0 {
		config.Training.LogInterval = 10
	}
	if config.Training.HiddenSize == 0 {
		config.Training.HiddenSize = 64
	}
	if config.Training.DatasetFormat == "" {
		config.Training.DatasetFormat = "csv"
	}
	if config.Training.TestFraction == 0 {
		config.Training.TestFraction = 0.2
	}
	if config.Federation.WindowBatches == 0 {
		config.Federation.WindowBatches = 50
	}
	if config.Federation.DialRetries == 0 {
		config.Federation.DialRetries = 3
	}
	if config.Federation.DialBackoff == 0 {
		config.Federation.DialBackoff = 2 * time.Second
	}
	if config.Secure.LogN == 0 {
		config.Secure.LogN = 14
	}
	if config.Secure.LogScale == 0 {
		config.Secure.LogScale = 45
	}
	if config.Worker.HeartbeatInterval == 0 {
		config.Worker.HeartbeatInterval = 30 * time.Second
	}
	if config.Worker.Websocket.MaxMessageSize == 0 {
		config.Worker.Websocket.MaxMessageSize = 32 << 20
	}
}
