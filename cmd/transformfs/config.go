package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/absfs/transformfs"
	"github.com/klauspost/compress/flate"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"
)

// Config is the CLI configuration. Values come from transformfs.yaml, then
// TRANSFORMFS_* environment variables, then command-line flags.
type Config struct {
	Root      string   `mapstructure:"root"`       // Directory holding the encoded files
	Pipeline  []string `mapstructure:"pipeline"`   // Stage names in write order
	Key       string   `mapstructure:"key"`        // Base64 cipher key for the encrypt stage
	WorkDir   string   `mapstructure:"workdir"`    // Optional local working copy
	GzipLevel int      `mapstructure:"gzip_level"` // Deflate level for the gzip stage
	LogLevel  string   `mapstructure:"log_level"`
}

func DefaultConfig() *Config {
	return &Config{
		Root:      ".",
		Pipeline:  []string{"gzip", "encrypt"},
		GzipLevel: flate.DefaultCompression,
		LogLevel:  "info",
	}
}

// LoadConfig reads the configuration for the invocation c. An explicit
// --config file must exist; the default search path may come up empty.
func LoadConfig(c *cli.Context) (*Config, error) {
	def := DefaultConfig()

	v := viper.New()
	v.SetDefault("root", def.Root)
	v.SetDefault("pipeline", def.Pipeline)
	v.SetDefault("key", def.Key)
	v.SetDefault("workdir", def.WorkDir)
	v.SetDefault("gzip_level", def.GzipLevel)
	v.SetDefault("log_level", def.LogLevel)

	if file := c.String("config"); file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("transformfs")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.transformfs")
	}
	v.SetEnvPrefix("TRANSFORMFS")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// Flags win over file and environment.
	if c.IsSet("root") {
		v.Set("root", c.String("root"))
	}
	if c.IsSet("pipeline") {
		v.Set("pipeline", c.StringSlice("pipeline"))
	}
	if c.IsSet("key") {
		v.Set("key", c.String("key"))
	}
	if c.IsSet("workdir") {
		v.Set("workdir", c.String("workdir"))
	}
	if c.IsSet("gzip-level") {
		v.Set("gzip_level", c.Int("gzip-level"))
	}
	if c.IsSet("log-level") {
		v.Set("log_level", c.String("log-level"))
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	cfg.Pipeline = splitStages(cfg.Pipeline)
	return cfg, nil
}

// splitStages accepts both ["zip", "gzip"] and ["zip,gzip"].
func splitStages(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' }) {
			out = append(out, strings.ToLower(part))
		}
	}
	return out
}

// buildTransforms maps stage names to configured transforms.
func buildTransforms(stages []string, key string, gzipLevel int) ([]transformfs.Transform, error) {
	if len(stages) == 0 {
		return nil, errors.New("pipeline is empty")
	}
	transforms := make([]transformfs.Transform, 0, len(stages))
	for _, stage := range stages {
		switch stage {
		case "zip":
			transforms = append(transforms, transformfs.NewZipCodec())
		case "gzip":
			gz := transformfs.NewGzipCodec()
			gz.Level = gzipLevel
			transforms = append(transforms, gz)
		case "encrypt":
			if key == "" {
				return nil, errors.New("encrypt stage requires a key (--key or TRANSFORMFS_KEY)")
			}
			keys, err := transformfs.NewStaticKeyProvider(key)
			if err != nil {
				return nil, err
			}
			c, err := transformfs.NewChunkedCipher(keys)
			if err != nil {
				return nil, err
			}
			transforms = append(transforms, c)
		default:
			return nil, fmt.Errorf("unknown pipeline stage %q (want zip, gzip or encrypt)", stage)
		}
	}
	return transforms, nil
}

// openProxy builds the proxy described by cfg over a local directory.
func openProxy(cfg *Config, log *zerolog.Logger) (*transformfs.Proxy, error) {
	transforms, err := buildTransforms(cfg.Pipeline, cfg.Key, cfg.GzipLevel)
	if err != nil {
		return nil, err
	}
	backend, err := transformfs.NewLocalBackend(cfg.Root)
	if err != nil {
		return nil, err
	}
	return transformfs.New(backend, &transformfs.Config{
		Transforms: transforms,
		WorkDir:    cfg.WorkDir,
		Logger:     log,
	})
}
