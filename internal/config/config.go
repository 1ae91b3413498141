// Package config loads runtime configuration from file, environment and flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override (REGSYNC_SERVER_URL, ...).
const EnvPrefix = "REGSYNC"

// Config holds all runtime configuration.
// Values are populated from config.yaml, REGSYNC_* env vars, and CLI flags.
type Config struct {
	ServerURL      string        `mapstructure:"server_url" validate:"required,url"`
	DataDir        string        `mapstructure:"data_dir" validate:"required"`
	Browsers       []string      `mapstructure:"browsers" validate:"dive,required"`
	LockHolders    []string      `mapstructure:"lock_holders" validate:"dive,required"`
	MaxAttempts    int           `mapstructure:"max_attempts" validate:"min=1"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout" validate:"gte=0"`
	Refresh        bool          `mapstructure:"refresh"`
	ShowUnreleased bool          `mapstructure:"show_unreleased"`
	Automated      bool          `mapstructure:"automated"`
	Snapshots      int           `mapstructure:"snapshots" validate:"gte=0"`
	LogFile        string        `mapstructure:"log_file"`
	Verbose        bool          `mapstructure:"verbose"`
}

// Defaults are the mode-dependent fallback paths.
type Defaults struct {
	DataDir string
	LogFile string
}

// Setup points viper at the config file and the environment. With an
// empty cfgFile, defaultPath is read if it exists.
func Setup(cfgFile, defaultPath string) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigFile(defaultPath)
	}
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix(EnvPrefix)
	viper.AutomaticEnv()

	err := viper.ReadInConfig()
	if err == nil {
		return nil
	}
	// A missing default file is fine; an explicit one must exist.
	var notFound viper.ConfigFileNotFoundError
	if cfgFile == "" && (errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)) {
		return nil
	}
	return fmt.Errorf("reading config: %w", err)
}

// Load reads configuration from viper, applying built-in defaults for any
// values not set by config file, environment, or flags.
func Load(d Defaults) (Config, error) {
	viper.SetDefault("server_url", "https://scc.suse.com")
	viper.SetDefault("data_dir", d.DataDir)
	viper.SetDefault("browsers", []string{"w3m", "lynx", "links", "xdg-open"})
	viper.SetDefault("lock_holders", []string{"zypper", "packagekitd", "yast2"})
	viper.SetDefault("max_attempts", 10)
	viper.SetDefault("attempt_timeout", 2*time.Minute)
	viper.SetDefault("refresh", true)
	viper.SetDefault("show_unreleased", false)
	viper.SetDefault("automated", false)
	viper.SetDefault("snapshots", 3)
	viper.SetDefault("log_file", d.LogFile)
	viper.SetDefault("verbose", false)

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report the config key, not the Go field name.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
	})
	return v
}

// Validate rejects settings the workflow cannot run with.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s must be set", fe.Field())
	case "url":
		return fmt.Sprintf("%s must be a valid URL, got %q", fe.Field(), fe.Value())
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s, got %v", fe.Field(), fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}
