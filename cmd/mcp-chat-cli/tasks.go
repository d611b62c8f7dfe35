package main

import (
	"context"
	"fmt"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"mcp-chat/internal/pkg/mcpTasks"
	"mcp-chat/internal/pkg/orchestrator"
	"os"
	"os/signal"
	"strings"
)

func newTasksCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "tasks",
		Short: "Start and follow MCP build tasks of this device",
	}
	command.AddCommand(newTasksListCommand(), newTasksStartCommand())
	return command
}

func newTasksListCommand() *cobra.Command {
	var watch bool

	command := &cobra.Command{
		Use:   "list",
		Short: "Show the running tasks, dropping the ones that finished",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			cli, err := openCliContext(ctx)
			if err != nil {
				return err
			}
			defer cli.Close()

			poller := mcpTasks.New(cli.client, cli.store)
			result, err := poller.Poll(ctx, cli.deviceId)
			if err != nil {
				return err
			}
			printTasks(result)
			if !watch {
				return nil
			}

			poller.Run(ctx, cli.deviceId, func(deviceId string, result mcpTasks.Result) {
				printTasks(result)
			})
			return nil
		},
	}
	command.Flags().BoolVarP(&watch, "watch", "w", false, "keep polling until interrupted")
	return command
}

func printTasks(result mcpTasks.Result) {
	for _, taskId := range result.RemovedIds {
		fmt.Printf("%s finished\n", taskId)
	}
	if len(result.Running) == 0 {
		fmt.Println("No running tasks.")
		return
	}
	for _, task := range result.Running {
		if task.Message != "" {
			fmt.Printf("%s: %s (%s)\n", task.Id, task.Status, task.Message)
		} else {
			fmt.Printf("%s: %s\n", task.Id, task.Status)
		}
	}
}

func newTasksStartCommand() *cobra.Command {
	var request orchestrator.StartMcpTaskRequest
	var envVars []string

	command := &cobra.Command{
		Use:   "start",
		Short: "Ask the orchestrator to build and validate a new MCP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cli, err := openCliContext(ctx)
			if err != nil {
				return err
			}
			defer cli.Close()

			request.EnvVars, err = parseEnvVars(envVars)
			if err != nil {
				return err
			}
			return startTask(ctx, cli, request)
		},
	}

	flags := command.Flags()
	flags.StringVar(&request.Name, "name", "", "name of the new MCP")
	flags.StringVar(&request.McpCommand, "command", "", "command starting the MCP server")
	flags.StringArrayVar(&request.McpArgs, "arg", nil, "argument of the command, repeatable")
	flags.StringArrayVar(&request.StartupCommands, "startup", nil, "command run before the server starts, repeatable")
	flags.StringArrayVar(&envVars, "env", nil, "KEY=VALUE environment variable, repeatable")
	flags.StringSliceVar(&request.McpEnvNames, "env-name", nil, "environment variable names each user provides")
	flags.BoolVar(&request.IsPrivate, "private", false, "keep the MCP private to its owner")
	_ = command.MarkFlagRequired("name")
	_ = command.MarkFlagRequired("command")
	return command
}

func startTask(ctx context.Context, cli *cliContext, request orchestrator.StartMcpTaskRequest) error {
	if request.McpArgs == nil {
		request.McpArgs = []string{}
	}
	if request.StartupCommands == nil {
		request.StartupCommands = []string{}
	}
	if request.McpEnvNames == nil {
		request.McpEnvNames = []string{}
	}

	taskId, err := cli.client.StartMcpTask(ctx, cli.token(ctx), request)
	if err != nil {
		return err
	}
	if err := cli.store.AddPendingTask(ctx, cli.deviceId, taskId); err != nil {
		log.Error().Err(err).Str("task_id", taskId).Msg("stateStore.AddPendingTask() failed")
	}

	fmt.Printf("Started %s, follow it with: mcp-chat-cli tasks list --watch\n", taskId)
	return nil
}

func parseEnvVars(values []string) ([]orchestrator.EnvVar, error) {
	envVars := make([]orchestrator.EnvVar, 0, len(values))
	for _, value := range values {
		key, envValue, found := strings.Cut(value, "=")
		key = strings.TrimSpace(key)
		if !found || key == "" {
			return nil, fmt.Errorf("invalid --env %q, expected KEY=VALUE", value)
		}
		envVars = append(envVars, orchestrator.EnvVar{Key: key, Value: envValue})
	}
	return envVars, nil
}
