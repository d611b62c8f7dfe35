package main

import (
	"context"
	"fmt"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"mcp-chat/internal/pkg/authToken"
	"mcp-chat/internal/pkg/orchestrator"
	"mcp-chat/internal/pkg/stateStore"
	"os"
	"strings"
	"time"
)

const envPrefix = "MCP_CHAT"

var rootCmd = &cobra.Command{
	Use:   "mcp-chat-cli",
	Short: "Chat with the orchestrator and manage MCP tools from the terminal",
	Long: `mcp-chat-cli talks to the same orchestrator as the mcp-chat web app.
It keeps a device id and the MCP tasks started from this machine in a local
SQLite database.

Settings are read from flags or MCP_CHAT_* environment variables.

Examples:
  # Interactive chat
  MCP_CHAT_TOKEN=eyJhbGciOi... mcp-chat-cli chat

  # One question, then exit
  mcp-chat-cli chat --chat-id chat_1712345678901_abc123def -p "What tools do I have?"

  # Build a new MCP and follow it
  mcp-chat-cli tasks start --name weather --command npx --arg -y --arg weather-mcp
  mcp-chat-cli tasks list --watch`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupZerolog(viper.GetBool("debug"))
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("orchestrator-url", "http://localhost:8000", "base URL of the orchestrator API")
	flags.String("token", "", "session token, read again from MCP_CHAT_TOKEN on every request when empty")
	flags.String("database", defaultDatabasePath(), "path to the local state database")
	flags.String("profile", "default", "profile the device id is kept for")
	flags.Bool("debug", false, "enable debug logging")

	for _, name := range []string{"orchestrator-url", "token", "database", "profile", "debug"} {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			log.Fatal().Err(err).Str("flag", name).Msg("viper.BindPFlag() failed")
		}
	}
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(newChatCommand(), newMcpsCommand(), newTasksCommand())
}

func defaultDatabasePath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".mcp-chat.db"
	}
	return homeDir + string(os.PathSeparator) + ".mcp-chat.db"
}

// cliContext holds what every command needs: the orchestrator client, the local store
// and the device id of the selected profile.
type cliContext struct {
	client   *orchestrator.Client
	store    stateStore.StateStore
	deviceId string
	tokens   authToken.Provider
}

func openCliContext(ctx context.Context) (*cliContext, error) {
	client, err := orchestrator.New(viper.GetString("orchestrator-url"))
	if err != nil {
		return nil, err
	}

	store, err := stateStore.New(viper.GetString("database"))
	if err != nil {
		return nil, err
	}

	deviceId, err := store.DeviceId(ctx, viper.GetString("profile"))
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	log.Debug().Str("device_id", deviceId).Msg("device loaded")

	tokens := authToken.Environment(envPrefix + "_TOKEN")
	if token := viper.GetString("token"); token != "" {
		tokens = authToken.Static(token)
	}

	return &cliContext{client: client, store: store, deviceId: deviceId, tokens: tokens}, nil
}

func (instance *cliContext) Close() {
	if err := instance.store.Close(); err != nil {
		log.Error().Err(err).Msg("stateStore.Close() failed")
	}
}

// token returns the current token, or an empty one for calls that work anonymously.
func (instance *cliContext) token(ctx context.Context) string {
	token, err := instance.tokens(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("no session token")
		return ""
	}
	return token
}

func (instance *cliContext) userId(ctx context.Context) (string, error) {
	token, err := instance.tokens(ctx)
	if err != nil {
		return "", err
	}
	return authToken.UserId(token)
}

func setupZerolog(debug bool) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().
		Timestamp().
		Logger()
}
