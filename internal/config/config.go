package config

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/viper"
)

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
}

type EmailConfig struct {
	SendGridAPIKey string
	FromAddress    string
	FromName       string
}

type SlackConfig struct {
	BotToken  string
	ChannelID string
}

type SweepConfig struct {
	// IntervalMinutes is how often the background sweep runs.
	IntervalMinutes int
	// AutoScheduleHorizonDays limits auto-generation to assessments whose
	// maintenance horizon falls within this many days.
	AutoScheduleHorizonDays int
}

type ServerConfig struct {
	Addr string
}

type Config struct {
	Database DatabaseConfig
	MQTT     MQTTConfig
	Email    EmailConfig
	Slack    SlackConfig
	Sweep    SweepConfig
	Server   ServerConfig
}

func LoadConfig() (*Config, error) {
	v := viper.New()

	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")
	v.BindEnv("database.sslmode", "DB_SSLMODE")

	v.BindEnv("mqtt.broker", "MQTT_BROKER")
	v.BindEnv("mqtt.clientid", "MQTT_CLIENT_ID")
	v.BindEnv("mqtt.username", "MQTT_USERNAME")
	v.BindEnv("mqtt.password", "MQTT_PASSWORD")

	v.BindEnv("email.sendgridapikey", "SENDGRID_API_KEY")
	v.BindEnv("email.fromaddress", "ALERT_FROM_ADDRESS")
	v.BindEnv("email.fromname", "ALERT_FROM_NAME")

	v.BindEnv("slack.bottoken", "SLACK_BOT_TOKEN")
	v.BindEnv("slack.channelid", "SLACK_CHANNEL_ID")

	v.BindEnv("sweep.intervalminutes", "SWEEP_INTERVAL_MINUTES")
	v.BindEnv("sweep.autoschedulehorizondays", "AUTO_SCHEDULE_HORIZON_DAYS")

	v.BindEnv("server.addr", "SERVER_ADDR")

	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("email.fromname", "Equipment Monitor")
	v.SetDefault("sweep.intervalminutes", 15)
	v.SetDefault("sweep.autoschedulehorizondays", 14)
	v.SetDefault("server.addr", ":3005")

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "local"
	}

	if env == "local" {
		v.SetConfigFile(".env.local")
		v.SetConfigType("env")

		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				if _, statErr := os.Stat(".env.local"); statErr == nil {
					return nil, fmt.Errorf("error reading config file .env.local: %w", err)
				}
			}
			log.Println("[INFO] .env.local not found, relying on environment variables.")
		} else {
			log.Printf("[INFO] Loaded configuration from %s", v.ConfigFileUsed())
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// DSN returns the PostgreSQL connection string.
func (cfg *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
		cfg.Database.Host,
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.DBName,
		cfg.Database.Port,
		cfg.Database.SSLMode,
	)
}
