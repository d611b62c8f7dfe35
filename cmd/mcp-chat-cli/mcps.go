package main

import (
	"context"
	"errors"
	"fmt"
	"github.com/spf13/cobra"
	"mcp-chat/internal/pkg/orchestrator"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
)

func newMcpsCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "mcps",
		Short: "List MCP tools and enable them for a chat",
	}
	command.AddCommand(
		newMcpsListCommand(),
		newMcpsEnableCommand(),
		newMcpsEnvCommand(),
		newMcpsVisibilityCommand(),
		newMcpsRolesCommand(),
		newMcpsMyEnvCommand(),
	)
	return command
}

func newMcpsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the MCP tools visible to the current user",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cli, err := openCliContext(ctx)
			if err != nil {
				return err
			}
			defer cli.Close()

			mcps, err := cli.client.ListMcps(ctx, cli.token(ctx))
			if err != nil {
				return err
			}

			writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(writer, "ID\tNAME\tVISIBILITY\tTOOLS")
			for _, mcp := range mcps {
				tools := make([]string, 0, len(mcp.Tools))
				for _, tool := range mcp.Tools {
					tools = append(tools, tool.Name)
				}
				fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", mcp.Id, mcp.DisplayName(), mcp.Config.Metadata.Visibility, strings.Join(tools, ", "))
			}
			return writer.Flush()
		},
	}
}

func newMcpsEnableCommand() *cobra.Command {
	var chatId string
	var disable bool

	command := &cobra.Command{
		Use:   "enable <mcp-id>",
		Short: "Enable or disable an MCP tool for a chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cli, err := openCliContext(ctx)
			if err != nil {
				return err
			}
			defer cli.Close()

			response, err := cli.client.ToggleMcp(ctx, cli.token(ctx), chatId, orchestrator.ToggleMcpRequest{
				McpId:   args[0],
				Enabled: !disable,
			})
			if response.InboundRequired {
				return errors.New("this tool needs an authorization first, enable it once from the web app")
			}
			if err != nil {
				return err
			}
			if !response.Success {
				return &orchestrator.ApiError{Message: response.Message}
			}

			state := "enabled"
			if disable {
				state = "disabled"
			}
			fmt.Printf("%s %s for %s\n", args[0], state, chatId)
			return nil
		},
	}
	command.Flags().StringVar(&chatId, "chat-id", "", "chat the tool is toggled for")
	command.Flags().BoolVar(&disable, "disable", false, "disable the tool instead")
	_ = command.MarkFlagRequired("chat-id")
	return command
}

// withCli runs fn with an opened cliContext.
func withCli(cmd *cobra.Command, fn func(ctx context.Context, cli *cliContext) error) error {
	ctx := cmd.Context()
	cli, err := openCliContext(ctx)
	if err != nil {
		return err
	}
	defer cli.Close()
	return fn(ctx, cli)
}

func newMcpsEnvCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "env <mcp-id> KEY=VALUE...",
		Short: "Set the shared environment of an MCP you own",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := parsePairs(args[1:])
			if err != nil {
				return err
			}
			return withCli(cmd, func(ctx context.Context, cli *cliContext) error {
				return cli.client.UpdateMcpEnv(ctx, cli.token(ctx), args[0], env)
			})
		},
	}
}

func newMcpsVisibilityCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "visibility <mcp-id> public|private",
		Short:     "Change who can see an MCP you own",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"public", "private"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains([]string{"public", "private"}, args[1]) {
				return fmt.Errorf("visibility must be public or private, got %q", args[1])
			}
			return withCli(cmd, func(ctx context.Context, cli *cliContext) error {
				return cli.client.UpdateMcpVisibility(ctx, cli.token(ctx), args[0], args[1])
			})
		},
	}
}

func newMcpsRolesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "roles <mcp-id> TOOL=ROLE...",
		Short: "Set the role required to call each tool of an MCP you own",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			roles, err := parsePairs(args[1:])
			if err != nil {
				return err
			}
			return withCli(cmd, func(ctx context.Context, cli *cliContext) error {
				return cli.client.UpdateToolRoles(ctx, cli.token(ctx), args[0], roles)
			})
		},
	}
}

func newMcpsMyEnvCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "my-env <mcp-id> [KEY=VALUE...]",
		Short: "Show or replace your own environment variables for an MCP",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCli(cmd, func(ctx context.Context, cli *cliContext) error {
				if len(args) > 1 {
					env, err := parsePairs(args[1:])
					if err != nil {
						return err
					}
					return cli.client.SaveClientMcp(ctx, cli.token(ctx), args[0], env)
				}

				env, err := cli.client.GetClientMcp(ctx, cli.token(ctx), args[0])
				if err != nil {
					return err
				}
				keys := make([]string, 0, len(env))
				for key := range env {
					keys = append(keys, key)
				}
				slices.Sort(keys)
				for _, key := range keys {
					fmt.Printf("%s=%s\n", key, env[key])
				}
				return nil
			})
		},
	}
}

func parsePairs(values []string) (map[string]string, error) {
	pairs := make(map[string]string, len(values))
	envVars, err := parseEnvVars(values)
	if err != nil {
		return nil, err
	}
	for _, envVar := range envVars {
		pairs[envVar.Key] = envVar.Value
	}
	return pairs, nil
}
