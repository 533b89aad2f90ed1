package config

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Redis    RedisConfig    `mapstructure:"redis" validate:"required"`
	Queue    QueueConfig    `mapstructure:"queue" validate:"required"`
}

// ServerConfig contains all HTTP server related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required,url"`
}

// RedisConfig contains the connection settings for the queue engine and the
// reload notifier. The URL uses the redis:// scheme.
type RedisConfig struct {
	URL string `mapstructure:"url" validate:"required,url"`
}

// QueueConfig contains worker pool settings.
type QueueConfig struct {
	// Concurrency is the number of worker goroutines processing jobs.
	Concurrency int `mapstructure:"concurrency" validate:"required,gte=1,lte=100"`
}
