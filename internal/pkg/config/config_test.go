package config

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

type testConfig struct {
	Host      string        `config_default:"localhost" config_description:"Server host interface"`
	Port      int           `config_default:"8080" config_description:"Server port"`
	Debug     bool          `config_default:"false" config_description:"Debug mode"`
	Interval  time.Duration `config_default:"5s" config_description:"Poll interval"`
	Scopes    []string      `config_default:"openid,profile" config_description:"Scopes"`
	unexposed string
}

func TestParseArgsPositiveDefaults(t *testing.T) {
	config := &testConfig{}
	err := ParseArgs(config, "config-test", []string{})
	require.NoError(t, err)

	assert.Equal(t, "localhost", config.Host)
	assert.Equal(t, 8080, config.Port)
	assert.False(t, config.Debug)
	assert.Equal(t, 5*time.Second, config.Interval)
	assert.Equal(t, []string{"openid", "profile"}, config.Scopes)
	assert.Empty(t, config.unexposed)
}

func TestParseArgsPositiveFlags(t *testing.T) {
	config := &testConfig{}
	err := ParseArgs(config, "config-test", []string{"--Port", "123", "--Debug", "--Interval", "250ms"})
	require.NoError(t, err)

	assert.Equal(t, 123, config.Port)
	assert.True(t, config.Debug)
	assert.Equal(t, 250*time.Millisecond, config.Interval)
}

func TestParseArgsPositiveEnvironment(t *testing.T) {
	t.Setenv("CONFIG_TEST_HOST", "0.0.0.0")
	t.Setenv("CONFIG_TEST_PORT", "321")

	config := &testConfig{}
	err := ParseArgs(config, "config-test", []string{})
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", config.Host)
	assert.Equal(t, 321, config.Port)
}

func TestParseArgsNegativeNotPointer(t *testing.T) {
	err := ParseArgs(testConfig{}, "config-test", []string{})
	assert.EqualError(t, err, "error parsing configuration: config must be a pointer to a struct")
}

func TestParseArgsNegativeUnknownFlag(t *testing.T) {
	config := &testConfig{}
	err := ParseArgs(config, "config-test", []string{"--Unknown", "1"})
	assert.Error(t, err)
}

func TestParseArgsNegativeUnsupportedType(t *testing.T) {
	config := &struct {
		Ratio float64 `config_default:"0.5"`
	}{}
	err := ParseArgs(config, "config-test", []string{})
	assert.EqualError(t, err, "error parsing configuration: unsupported type float64 of field Ratio")
}
