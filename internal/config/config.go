package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds all configuration
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Shards        []ShardConfig       `mapstructure:"shards"`
	MySQL         MySQLConfig         `mapstructure:"mysql"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Conversations ConversationsConfig `mapstructure:"conversations"`
	Jobs          JobsConfig          `mapstructure:"jobs"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	HTTPPort int    `mapstructure:"http_port"`
	Mode     string `mapstructure:"mode"`
}

// ShardConfig identifies one database shard. Shard ids are assigned once
// and never reused; they are baked into global row ids.
type ShardConfig struct {
	ID       int64  `mapstructure:"id"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
}

// MySQLConfig holds connection settings shared by all shards
type MySQLConfig struct {
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Charset      string `mapstructure:"charset"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// DSN returns the MySQL data source name for one shard
func (c *MySQLConfig) DSN(s ShardConfig) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=True&loc=Local",
		c.User, c.Password, s.Host, s.Port, s.Database, c.Charset)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// Addr returns the Redis address
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ConversationsConfig holds the policy knobs of the conversation engine
type ConversationsConfig struct {
	MaxMessageLength          int `mapstructure:"max_message_length"`
	MaxSubjectLength          int `mapstructure:"max_subject_length"`
	MaxGroupParticipants      int `mapstructure:"max_group_participants"`
	ImmediateFanoutThreshold  int `mapstructure:"immediate_fanout_threshold"`
	BatchUpdateCap            int `mapstructure:"batch_update_cap"`
	LastMessagePreviewLength  int `mapstructure:"last_message_preview_length"`
}

// JobsConfig holds background queue configuration
type JobsConfig struct {
	Workers   int `mapstructure:"workers"`
	QueueSize int `mapstructure:"queue_size"`
}

// Global config instance
var GlobalConfig *Config

// Load loads configuration from file
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.ApplyDefaults()

	if len(cfg.Shards) == 0 {
		return nil, fmt.Errorf("at least one shard must be configured")
	}

	GlobalConfig = &cfg
	return &cfg, nil
}

// ApplyDefaults fills zero-valued settings.
func (cfg *Config) ApplyDefaults() {
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "debug"
	}
	if cfg.MySQL.Charset == "" {
		cfg.MySQL.Charset = "utf8mb4"
	}
	if cfg.MySQL.MaxOpenConns == 0 {
		cfg.MySQL.MaxOpenConns = 100
	}
	if cfg.MySQL.MaxIdleConns == 0 {
		cfg.MySQL.MaxIdleConns = 10
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "inboxd:"
	}
	if cfg.Conversations.MaxMessageLength == 0 {
		cfg.Conversations.MaxMessageLength = 65536
	}
	if cfg.Conversations.MaxSubjectLength == 0 {
		cfg.Conversations.MaxSubjectLength = 255
	}
	if cfg.Conversations.MaxGroupParticipants == 0 {
		cfg.Conversations.MaxGroupParticipants = 100
	}
	if cfg.Conversations.ImmediateFanoutThreshold == 0 {
		cfg.Conversations.ImmediateFanoutThreshold = 100
	}
	if cfg.Conversations.BatchUpdateCap == 0 {
		cfg.Conversations.BatchUpdateCap = 500
	}
	if cfg.Conversations.LastMessagePreviewLength == 0 {
		cfg.Conversations.LastMessagePreviewLength = 100
	}
	if cfg.Jobs.Workers == 0 {
		cfg.Jobs.Workers = 10
	}
	if cfg.Jobs.QueueSize == 0 {
		cfg.Jobs.QueueSize = 10000
	}
}
