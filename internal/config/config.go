/**
 * @description
 * This package handles the configuration management for the treasury-service
 * binaries. It uses the Viper library to read configuration from environment
 * variables, providing a centralized and straightforward way to manage
 * application settings. All three binaries (controller, agent, keeper) share
 * this one Config; each reads the subset of fields it needs.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the treasury-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort              string `mapstructure:"SERVER_PORT"`
	DatabaseURL             string `mapstructure:"DATABASE_URL"`
	RedisURL                string `mapstructure:"REDIS_URL"`
	RedisLockPrefix         string `mapstructure:"REDIS_LOCK_PREFIX"`
	RabbitMQURL             string `mapstructure:"RABBITMQ_URL"`
	BridgeDeliveryQueue     string `mapstructure:"BRIDGE_DELIVERY_QUEUE"`
	BridgeAPIBaseURL        string `mapstructure:"BRIDGE_API_BASE_URL"`
	BridgeAPIKey            string `mapstructure:"BRIDGE_API_KEY"`
	BridgeKind              string `mapstructure:"BRIDGE_KIND"`
	MinBridgeAmount         int64  `mapstructure:"MIN_BRIDGE_AMOUNT"`
	VaultAPIBaseURL         string `mapstructure:"VAULT_API_BASE_URL"`
	VaultAPIKey             string `mapstructure:"VAULT_API_KEY"`
	InternalAPIKey          string `mapstructure:"INTERNAL_API_KEY"`
	JWTSecret               string `mapstructure:"JWT_SECRET"`
	KeeperID                string `mapstructure:"KEEPER_ID"`
	ControllerServiceURL    string `mapstructure:"CONTROLLER_SERVICE_URL"`
	AgentServiceURL         string `mapstructure:"AGENT_SERVICE_URL"`
	ValueReportCron         string `mapstructure:"VALUE_REPORT_CRON"`
	MaxValueStalenessSecond int    `mapstructure:"MAX_VALUE_STALENESS_SECONDS"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_LOCK_PREFIX", "treasury:relay_lock")
	viper.SetDefault("BRIDGE_DELIVERY_QUEUE", "treasury_keeper.bridge_deliveries")
	viper.SetDefault("BRIDGE_KIND", "burn_mint")
	viper.SetDefault("MIN_BRIDGE_AMOUNT", 1_000_000) // 1 USDM in micro-units
	viper.SetDefault("VALUE_REPORT_CRON", "*/15 * * * *")
	viper.SetDefault("MAX_VALUE_STALENESS_SECONDS", 3600)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "KEEPER_REDIS_URL")
	_ = viper.BindEnv("REDIS_LOCK_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("BRIDGE_DELIVERY_QUEUE")
	_ = viper.BindEnv("BRIDGE_API_BASE_URL")
	_ = viper.BindEnv("BRIDGE_API_KEY")
	_ = viper.BindEnv("BRIDGE_KIND")
	_ = viper.BindEnv("MIN_BRIDGE_AMOUNT")
	_ = viper.BindEnv("MIN_BRIDGE_AMOUNT_USDM")
	_ = viper.BindEnv("VAULT_API_BASE_URL")
	_ = viper.BindEnv("VAULT_API_KEY")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "TREASURY_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("KEEPER_ID")
	_ = viper.BindEnv("CONTROLLER_SERVICE_URL")
	_ = viper.BindEnv("AGENT_SERVICE_URL")
	_ = viper.BindEnv("VALUE_REPORT_CRON")
	_ = viper.BindEnv("MAX_VALUE_STALENESS_SECONDS")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("TREASURY_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisLockPrefix = strings.TrimSpace(config.RedisLockPrefix)
	if config.RedisLockPrefix == "" {
		config.RedisLockPrefix = "treasury:relay_lock"
	}

	// Allow specifying the bridge floor in whole USDM via MIN_BRIDGE_AMOUNT_USDM.
	if viper.IsSet("MIN_BRIDGE_AMOUNT_USDM") {
		amountStr := strings.TrimSpace(viper.GetString("MIN_BRIDGE_AMOUNT_USDM"))
		if amountStr != "" {
			amountValue, parseErr := strconv.ParseFloat(amountStr, 64)
			if parseErr != nil {
				log.Printf("level=warn component=config msg=\"invalid MIN_BRIDGE_AMOUNT_USDM\" value=%q err=%v", amountStr, parseErr)
			} else {
				config.MinBridgeAmount = int64(math.Round(amountValue * 1_000_000))
			}
		}
	}

	if config.MinBridgeAmount < 0 {
		log.Printf("level=warn component=config msg=\"negative bridge minimum configured; coercing to zero\" min_bridge_amount=%d", config.MinBridgeAmount)
		config.MinBridgeAmount = 0
	}

	switch config.BridgeKind {
	case "burn_mint", "swap_route":
	default:
		log.Printf("level=warn component=config msg=\"unknown bridge kind; falling back to burn_mint\" bridge_kind=%q", config.BridgeKind)
		config.BridgeKind = "burn_mint"
	}

	if config.MaxValueStalenessSecond <= 0 {
		config.MaxValueStalenessSecond = 3600
	}
	if strings.TrimSpace(config.ValueReportCron) == "" {
		config.ValueReportCron = "*/15 * * * *"
	}

	return
}
