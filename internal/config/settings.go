package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Process setting keys. Each is also a persistent flag and a VMLAUNCH_*
// environment variable.
const (
	SettingConfig      = "config"
	SettingLogLevel    = "log-level"
	SettingLogFormat   = "log-format"
	SettingWaitTimeout = "wait-timeout"
	SettingVBoxManage  = "vboxmanage"
	SettingTiming      = "timing"
)

// EnvPrefix prefixes the environment variables settings are read from.
const EnvPrefix = "VMLAUNCH"

// Settings control the vmlaunch process itself, as opposed to the parameters
// of a machine.
type Settings struct {
	// ConfigFile is the global configuration file.
	ConfigFile string `mapstructure:"config" validate:"required"`

	LogLevel  string `mapstructure:"log-level" validate:"oneof=trace debug info warn error fatal panic disabled"`
	LogFormat string `mapstructure:"log-format" validate:"oneof=console json"`

	// WaitTimeout bounds each wait on the hypervisor.
	WaitTimeout time.Duration `mapstructure:"wait-timeout" validate:"gt=0"`

	// VBoxManage is the VBoxManage binary (empty = search PATH).
	VBoxManage string `mapstructure:"vboxmanage"`

	// Timing prints phase durations after lifecycle commands.
	Timing bool `mapstructure:"timing"`
}

// NewViper returns a viper instance with the setting defaults and
// environment binding applied. An optional settings.yaml in the data
// directory is read by LoadSettings.
func NewViper(paths *Paths) *viper.Viper {
	v := viper.New()
	v.SetDefault(SettingConfig, paths.ConfigFile)
	v.SetDefault(SettingLogLevel, "warn")
	v.SetDefault(SettingLogFormat, "console")
	v.SetDefault(SettingWaitTimeout, "10m")
	v.SetDefault(SettingVBoxManage, "")
	v.SetDefault(SettingTiming, false)

	v.SetConfigName("settings")
	v.SetConfigType("yaml")
	v.AddConfigPath(paths.DataDir)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// LoadSettings reads the settings file, if any, and decodes v.
func LoadSettings(v *viper.Viper) (*Settings, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read settings: %w", err)
		}
	}

	s := &Settings{
		ConfigFile: expandHome(v.GetString(SettingConfig)),
		LogLevel:   strings.ToLower(v.GetString(SettingLogLevel)),
		LogFormat:  strings.ToLower(v.GetString(SettingLogFormat)),
		VBoxManage: v.GetString(SettingVBoxManage),
		Timing:     v.GetBool(SettingTiming),
	}

	raw := v.GetString(SettingWaitTimeout)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return nil, &ParamError{Kind: ErrInvalidValue, Field: SettingWaitTimeout, Value: raw, Err: err}
	}
	s.WaitTimeout = d

	if err := validateSettings(s); err != nil {
		return nil, err
	}
	return s, nil
}

var settingsValidator = newSettingsValidator()

// newSettingsValidator reports fields by their setting key.
func newSettingsValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("mapstructure")
	})
	return v
}

func validateSettings(s *Settings) error {
	err := settingsValidator.Struct(s)
	if err == nil {
		return nil
	}
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) || len(fields) == 0 {
		return fmt.Errorf("validate settings: %w", err)
	}
	f := fields[0]
	return &ParamError{Kind: ErrInvalidValue, Field: f.Field(), Value: fmt.Sprint(f.Value())}
}
