package config

import (
	"errors"
	"fmt"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"os"
	"reflect"
	"strings"
	"time"
)

const defaultTag = "config_default"
const descriptionTag = "config_description"

var parseError = func(err error) error {
	return fmt.Errorf("error parsing configuration: %w", err)
}

// Parse fills the exported fields of config from, in priority order, command line flags,
// APPNAME_FIELD environment variables, an optional <applicationName>.{yaml,json,toml}
// file in the working directory and the config_default tags.
func Parse(config any, applicationName string) {
	if err := ParseArgs(config, applicationName, os.Args[1:]); err != nil {
		log.Fatal().Err(err).Msg("config.ParseArgs() failed")
	}
}

func ParseArgs(config any, applicationName string, args []string) error {
	value := reflect.ValueOf(config)
	if value.Kind() != reflect.Pointer || value.Elem().Kind() != reflect.Struct {
		return parseError(errors.New("config must be a pointer to a struct"))
	}
	structValue := value.Elem()
	structType := structValue.Type()

	flags := pflag.NewFlagSet(applicationName, pflag.ContinueOnError)
	settings := viper.New()

	for i := 0; i < structType.NumField(); i++ {
		field := structType.Field(i)
		if !field.IsExported() {
			continue
		}
		defaultValue := field.Tag.Get(defaultTag)
		description := field.Tag.Get(descriptionTag)

		switch field.Type {
		case reflect.TypeOf(time.Duration(0)):
			duration, err := parseDuration(field.Name, defaultValue)
			if err != nil {
				return err
			}
			flags.Duration(field.Name, duration, description)
			continue
		}

		switch field.Type.Kind() {
		case reflect.String:
			flags.String(field.Name, defaultValue, description)
		case reflect.Int, reflect.Int64:
			number, err := parseInt(field.Name, defaultValue)
			if err != nil {
				return err
			}
			flags.Int64(field.Name, number, description)
		case reflect.Bool:
			flags.Bool(field.Name, defaultValue == "true", description)
		case reflect.Slice:
			if field.Type.Elem().Kind() != reflect.String {
				return parseError(fmt.Errorf("unsupported slice type of field %s", field.Name))
			}
			var items []string
			if defaultValue != "" {
				items = strings.Split(defaultValue, ",")
			}
			flags.StringSlice(field.Name, items, description)
		default:
			return parseError(fmt.Errorf("unsupported type %s of field %s", field.Type, field.Name))
		}
	}

	if err := flags.Parse(args); err != nil {
		return parseError(err)
	}

	if err := settings.BindPFlags(flags); err != nil {
		return parseError(err)
	}
	settings.SetEnvPrefix(envPrefix(applicationName))
	settings.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	settings.AutomaticEnv()

	settings.SetConfigName(applicationName)
	settings.AddConfigPath(".")
	if err := settings.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return parseError(err)
		}
	} else {
		log.Info().Str("file", settings.ConfigFileUsed()).Msg("configuration file loaded")
	}

	for i := 0; i < structType.NumField(); i++ {
		field := structType.Field(i)
		if !field.IsExported() {
			continue
		}
		target := structValue.Field(i)

		if field.Type == reflect.TypeOf(time.Duration(0)) {
			target.SetInt(int64(settings.GetDuration(field.Name)))
			continue
		}

		switch field.Type.Kind() {
		case reflect.String:
			target.SetString(settings.GetString(field.Name))
		case reflect.Int, reflect.Int64:
			target.SetInt(settings.GetInt64(field.Name))
		case reflect.Bool:
			target.SetBool(settings.GetBool(field.Name))
		case reflect.Slice:
			target.Set(reflect.ValueOf(settings.GetStringSlice(field.Name)))
		}
	}

	return nil
}

func envPrefix(applicationName string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(applicationName))
}

func parseDuration(name string, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, parseError(fmt.Errorf("invalid default of field %s: %w", name, err))
	}
	return duration, nil
}

func parseInt(name string, value string) (int64, error) {
	if value == "" {
		return 0, nil
	}
	var number int64
	if _, err := fmt.Sscan(value, &number); err != nil {
		return 0, parseError(fmt.Errorf("invalid default of field %s: %w", name, err))
	}
	return number, nil
}
