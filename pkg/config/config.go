// Package config provides a reusable loader for the indexer's configuration
// file and environment variable overrides. It is versioned so that
// applications can depend on a stable API contract.
//
// Version: v0.1.0
package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/btc-vision/opnet-node/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is the unified configuration for an OP_NET indexer node.
type Config struct {
	Network struct {
		Network            string `mapstructure:"network" json:"network"`                           // mainnet|testnet|regtest
		ChainID            int    `mapstructure:"chain_id" json:"chain_id"`
		VerifyNetwork      bool   `mapstructure:"verify_network" json:"verify_network"`
		ProtocolVersion    string `mapstructure:"protocol_version" json:"protocol_version"`          // e.g. "1.0.0"
		AuthTimeoutSeconds int    `mapstructure:"auth_timeout_seconds" json:"auth_timeout_seconds"`   // §4.4 30s watchdog
	} `mapstructure:"network" json:"network"`

	Workers struct {
		Rpc     int `mapstructure:"rpc" json:"rpc"`
		Indexer int `mapstructure:"indexer" json:"indexer"`
		Mempool int `mapstructure:"mempool" json:"mempool"`
		P2P     int `mapstructure:"p2p" json:"p2p"`
		Api     int `mapstructure:"api" json:"api"`
	} `mapstructure:"workers" json:"workers"`

	Plugins struct {
		Directory      string `mapstructure:"directory" json:"directory"`
		WorkerCount    int    `mapstructure:"worker_count" json:"worker_count"`
		DefaultTimeout int    `mapstructure:"default_timeout_ms" json:"default_timeout_ms"`
	} `mapstructure:"plugins" json:"plugins"`

	RPC struct {
		PollIntervalMS int `mapstructure:"poll_interval_ms" json:"poll_interval_ms"`
		SubWorkerCount int `mapstructure:"sub_worker_count" json:"sub_worker_count"`
	} `mapstructure:"rpc" json:"rpc"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load.
var AppConfig Config

// Load reads the configuration file at path (directory containing
// `opnet.yaml`, or a direct file path) and merges environment overrides.
// The resulting configuration is stored in AppConfig and returned.
func Load(path string) (*Config, error) {
	setDefaults()

	viper.SetConfigName("opnet")
	viper.SetConfigType("yaml")
	if path != "" {
		if fi := statPath(path); fi {
			viper.SetConfigFile(path)
		} else {
			viper.AddConfigPath(path)
		}
	}
	viper.AddConfigPath(".")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, utils.Wrap(err, "load config")
		}
		// No config file found: defaults + env vars only.
	}

	viper.SetEnvPrefix("OPNET")
	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	if err := validate(&AppConfig); err != nil {
		return nil, err
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the OPNET_CONFIG_PATH environment
// variable, falling back to the current directory.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("OPNET_CONFIG_PATH", ""))
}

func setDefaults() {
	viper.SetDefault("network.network", "mainnet")
	viper.SetDefault("network.chain_id", 0)
	viper.SetDefault("network.verify_network", true)
	viper.SetDefault("network.protocol_version", "1.0.0")
	viper.SetDefault("network.auth_timeout_seconds", 30)

	viper.SetDefault("workers.rpc", 1)
	viper.SetDefault("workers.indexer", 1)
	viper.SetDefault("workers.mempool", 1)
	viper.SetDefault("workers.p2p", 4)
	viper.SetDefault("workers.api", 2)

	viper.SetDefault("plugins.directory", "./plugins")
	viper.SetDefault("plugins.worker_count", 2)
	viper.SetDefault("plugins.default_timeout_ms", 30_000)

	viper.SetDefault("rpc.poll_interval_ms", 1_000)
	viper.SetDefault("rpc.sub_worker_count", 4)

	viper.SetDefault("logging.level", "info")
}

func statPath(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}

func validate(c *Config) error {
	switch c.Network.Network {
	case "mainnet", "testnet", "regtest":
	default:
		return fmt.Errorf("config: unknown network %q", c.Network.Network)
	}
	return nil
}
