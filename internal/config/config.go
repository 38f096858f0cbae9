/**
 * @description
 * Configuration for the meal-mitra API and notifier. Values come from the
 * environment, with an optional .env file in the given path, via Viper.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const (
	defaultEventsExchange         = "mealmitra.events"
	defaultNotificationQueue      = "mealmitra.notifications"
	defaultRateLimitPrefix        = "mealmitra:rate_limit"
	defaultBadgeReconcileSchedule = "@every 15m"
)

// Config holds all the configuration variables for the service.
type Config struct {
	ServerPort                string   `mapstructure:"SERVER_PORT"`
	DatabaseURL               string   `mapstructure:"DATABASE_URL"`
	RedisURL                  string   `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix      string   `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL               string   `mapstructure:"RABBITMQ_URL"`
	EventsExchange            string   `mapstructure:"EVENTS_EXCHANGE"`
	NotificationQueue         string   `mapstructure:"NOTIFICATION_QUEUE"`
	ExtractorURL              string   `mapstructure:"EXTRACTOR_URL"`
	ExtractorAPIKey           string   `mapstructure:"EXTRACTOR_API_KEY"`
	ExtractorTimeoutMS        int      `mapstructure:"EXTRACTOR_TIMEOUT_MS"`
	SessionJWTSecret          string   `mapstructure:"SESSION_JWT_SECRET"`
	AllowedOrigins            []string `mapstructure:"ALLOWED_ORIGINS"`
	HandoverCodeTTLMinutes    int      `mapstructure:"HANDOVER_CODE_TTL_MINUTES"`
	HandoverCodeLength        int      `mapstructure:"HANDOVER_CODE_LENGTH"`
	MealsPerKg                float64  `mapstructure:"MEALS_PER_KG"`
	CO2PerKg                  float64  `mapstructure:"CO2_PER_KG"`
	ValuePerMeal              float64  `mapstructure:"VALUE_PER_MEAL"`
	NotifyQueueSize           int      `mapstructure:"NOTIFY_QUEUE_SIZE"`
	NotifyTimeoutMS           int      `mapstructure:"NOTIFY_TIMEOUT_MS"`
	VerifyRateLimitPerMinute  int      `mapstructure:"VERIFY_RATE_LIMIT_PER_MINUTE"`
	ClaimRateLimitPerMinute   int      `mapstructure:"CLAIM_RATE_LIMIT_PER_MINUTE"`
	BadgeReconcileSchedule    string   `mapstructure:"BADGE_RECONCILE_SCHEDULE"`
	BadgeReconcileLookbackHrs int      `mapstructure:"BADGE_RECONCILE_LOOKBACK_HOURS"`
	SMTPHost                  string   `mapstructure:"SMTP_HOST"`
	SMTPPort                  int      `mapstructure:"SMTP_PORT"`
	SMTPUsername              string   `mapstructure:"SMTP_USERNAME"`
	SMTPPassword              string   `mapstructure:"SMTP_PASSWORD"`
	SMTPFrom                  string   `mapstructure:"SMTP_FROM"`
}

// LoadConfig reads configuration from environment variables from the given path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", defaultRateLimitPrefix)
	viper.SetDefault("EVENTS_EXCHANGE", defaultEventsExchange)
	viper.SetDefault("NOTIFICATION_QUEUE", defaultNotificationQueue)
	viper.SetDefault("EXTRACTOR_TIMEOUT_MS", 5000)
	viper.SetDefault("ALLOWED_ORIGINS", "*")
	viper.SetDefault("HANDOVER_CODE_TTL_MINUTES", 60)
	viper.SetDefault("HANDOVER_CODE_LENGTH", 6)
	viper.SetDefault("MEALS_PER_KG", 2.0)
	viper.SetDefault("CO2_PER_KG", 0.5)
	viper.SetDefault("VALUE_PER_MEAL", 40.0)
	viper.SetDefault("NOTIFY_QUEUE_SIZE", 256)
	viper.SetDefault("NOTIFY_TIMEOUT_MS", 3000)
	viper.SetDefault("VERIFY_RATE_LIMIT_PER_MINUTE", 10)
	viper.SetDefault("CLAIM_RATE_LIMIT_PER_MINUTE", 30)
	viper.SetDefault("BADGE_RECONCILE_SCHEDULE", defaultBadgeReconcileSchedule)
	viper.SetDefault("BADGE_RECONCILE_LOOKBACK_HOURS", 24)
	viper.SetDefault("SMTP_PORT", 587)

	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENTS_EXCHANGE")
	_ = viper.BindEnv("NOTIFICATION_QUEUE")
	_ = viper.BindEnv("EXTRACTOR_URL", "EXTRACTOR_URL", "AI_SERVICE_URL")
	_ = viper.BindEnv("EXTRACTOR_API_KEY")
	_ = viper.BindEnv("EXTRACTOR_TIMEOUT_MS")
	_ = viper.BindEnv("SESSION_JWT_SECRET")
	_ = viper.BindEnv("ALLOWED_ORIGINS")
	_ = viper.BindEnv("HANDOVER_CODE_TTL_MINUTES")
	_ = viper.BindEnv("HANDOVER_CODE_LENGTH")
	_ = viper.BindEnv("MEALS_PER_KG")
	_ = viper.BindEnv("CO2_PER_KG")
	_ = viper.BindEnv("VALUE_PER_MEAL")
	_ = viper.BindEnv("NOTIFY_QUEUE_SIZE")
	_ = viper.BindEnv("NOTIFY_TIMEOUT_MS")
	_ = viper.BindEnv("VERIFY_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("CLAIM_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("BADGE_RECONCILE_SCHEDULE")
	_ = viper.BindEnv("BADGE_RECONCILE_LOOKBACK_HOURS")
	_ = viper.BindEnv("SMTP_HOST")
	_ = viper.BindEnv("SMTP_PORT")
	_ = viper.BindEnv("SMTP_USERNAME")
	_ = viper.BindEnv("SMTP_PASSWORD")
	_ = viper.BindEnv("SMTP_FROM")

	// The .env file is optional.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.DatabaseURL = strings.TrimSpace(config.DatabaseURL)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RabbitMQURL = strings.TrimSpace(config.RabbitMQURL)
	config.ExtractorURL = strings.TrimRight(strings.TrimSpace(config.ExtractorURL), "/")
	config.SessionJWTSecret = strings.TrimSpace(config.SessionJWTSecret)

	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = defaultRateLimitPrefix
	}
	config.EventsExchange = strings.TrimSpace(config.EventsExchange)
	if config.EventsExchange == "" {
		config.EventsExchange = defaultEventsExchange
	}
	config.NotificationQueue = strings.TrimSpace(config.NotificationQueue)
	if config.NotificationQueue == "" {
		config.NotificationQueue = defaultNotificationQueue
	}
	config.BadgeReconcileSchedule = strings.TrimSpace(config.BadgeReconcileSchedule)
	if config.BadgeReconcileSchedule == "" {
		config.BadgeReconcileSchedule = defaultBadgeReconcileSchedule
	}
	config.AllowedOrigins = normalizeOrigins(config.AllowedOrigins)

	if config.ExtractorTimeoutMS <= 0 {
		config.ExtractorTimeoutMS = 5000
	}
	if config.HandoverCodeTTLMinutes <= 0 {
		log.Printf("level=warn component=config msg=\"invalid handover code ttl; using default\" ttl_minutes=%d", config.HandoverCodeTTLMinutes)
		config.HandoverCodeTTLMinutes = 60
	}
	if config.HandoverCodeLength < 4 || config.HandoverCodeLength > 10 {
		log.Printf("level=warn component=config msg=\"handover code length out of range; using default\" length=%d", config.HandoverCodeLength)
		config.HandoverCodeLength = 6
	}
	if config.MealsPerKg <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive meals per kg configured; using default\" meals_per_kg=%f", config.MealsPerKg)
		config.MealsPerKg = 2
	}
	if config.CO2PerKg < 0 {
		log.Printf("level=warn component=config msg=\"negative co2 factor configured; using default\" co2_per_kg=%f", config.CO2PerKg)
		config.CO2PerKg = 0.5
	}
	if config.ValuePerMeal < 0 {
		log.Printf("level=warn component=config msg=\"negative value per meal configured; using default\" value_per_meal=%f", config.ValuePerMeal)
		config.ValuePerMeal = 40
	}
	if config.NotifyQueueSize <= 0 {
		config.NotifyQueueSize = 256
	}
	if config.NotifyTimeoutMS <= 0 {
		config.NotifyTimeoutMS = 3000
	}
	if config.VerifyRateLimitPerMinute <= 0 {
		config.VerifyRateLimitPerMinute = 10
	}
	if config.ClaimRateLimitPerMinute <= 0 {
		config.ClaimRateLimitPerMinute = 30
	}
	if config.BadgeReconcileLookbackHrs <= 0 {
		config.BadgeReconcileLookbackHrs = 24
	}
	if config.SMTPPort <= 0 {
		config.SMTPPort = 587
	}

	return
}

// normalizeOrigins accepts either a list or a single comma separated value.
func normalizeOrigins(raw []string) []string {
	origins := make([]string, 0, len(raw))
	for _, entry := range raw {
		for _, origin := range strings.Split(entry, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				origins = append(origins, origin)
			}
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
