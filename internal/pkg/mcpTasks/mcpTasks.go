package mcpTasks

import (
	"context"
	"errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
	"mcp-chat/internal/pkg/orchestrator"
	"strings"
	"sync"
	"time"
)

const (
	DefaultInterval    = 4 * time.Second
	defaultRequestRate = 10
)

type TaskFetcher interface {
	GetMcpTask(ctx context.Context, taskId string) (*orchestrator.GetMcpTaskResponse, error)
}

type TaskList interface {
	PendingTasks(ctx context.Context, deviceId string) ([]string, error)
	RemovePendingTasks(ctx context.Context, deviceId string, taskIds ...string) error
}

type Decision int

const (
	Keep Decision = iota
	Drop
)

// Classify tells whether a task id stays on the pending list after a status request.
func Classify(response *orchestrator.GetMcpTaskResponse, err error) Decision {
	if err != nil {
		var statusError *orchestrator.StatusError
		if errors.As(err, &statusError) {
			return Drop
		}
		return Keep
	}
	if response == nil {
		return Keep
	}
	if !response.Success {
		if strings.Contains(strings.ToLower(response.Message), "not found") {
			return Drop
		}
		return Keep
	}
	if response.Task.Running() {
		return Keep
	}
	return Drop
}

type Result struct {
	Running    []orchestrator.McpTask
	RemovedIds []string
	KeptIds    []string
}

type ChangeFunc func(deviceId string, result Result)

type Poller struct {
	fetcher  TaskFetcher
	list     TaskList
	limiter  *rate.Limiter
	interval time.Duration
}

type Option func(*Poller)

func WithInterval(interval time.Duration) Option {
	return func(poller *Poller) {
		poller.interval = interval
	}
}

// WithRequestRate limits the task status requests per second across all polls.
func WithRequestRate(perSecond float64) Option {
	return func(poller *Poller) {
		poller.limiter = rate.NewLimiter(rate.Limit(perSecond), max(1, int(perSecond)))
	}
}

func New(fetcher TaskFetcher, list TaskList, options ...Option) *Poller {
	poller := &Poller{
		fetcher:  fetcher,
		list:     list,
		limiter:  rate.NewLimiter(rate.Limit(defaultRequestRate), defaultRequestRate),
		interval: DefaultInterval,
	}
	for _, option := range options {
		option(poller)
	}
	return poller
}

// Poll fetches every pending task of the device once and removes the ones that are
// finished or unknown to the orchestrator.
func (instance *Poller) Poll(ctx context.Context, deviceId string) (Result, error) {
	taskIds, err := instance.list.PendingTasks(ctx, deviceId)
	if err != nil {
		return Result{}, err
	}

	type outcome struct {
		task     orchestrator.McpTask
		decision Decision
	}
	outcomes := make([]outcome, len(taskIds))

	var waitGroup sync.WaitGroup
	for index, taskId := range taskIds {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			if err := instance.limiter.Wait(ctx); err != nil {
				outcomes[index] = outcome{decision: Keep}
				return
			}
			response, err := instance.fetcher.GetMcpTask(ctx, taskId)
			if err != nil {
				log.Debug().Err(err).Str("task_id", taskId).Msg("mcp task status request failed")
			}
			outcomes[index] = outcome{decision: Classify(response, err)}
			if err == nil && response != nil {
				outcomes[index].task = response.Task
			}
		}()
	}
	waitGroup.Wait()

	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}

	result := Result{Running: []orchestrator.McpTask{}, KeptIds: []string{}}
	for index, taskId := range taskIds {
		if outcomes[index].decision == Drop {
			result.RemovedIds = append(result.RemovedIds, taskId)
			continue
		}
		result.KeptIds = append(result.KeptIds, taskId)
		if task := outcomes[index].task; task.Running() {
			if task.Id == "" {
				task.Id = taskId
			}
			result.Running = append(result.Running, task)
		}
	}

	if len(result.RemovedIds) > 0 {
		if err := instance.list.RemovePendingTasks(ctx, deviceId, result.RemovedIds...); err != nil {
			return result, err
		}
	}
	return result, nil
}

// Run polls until ctx is done, calling onChange whenever tasks were removed.
func (instance *Poller) Run(ctx context.Context, deviceId string, onChange ChangeFunc) {
	ticker := time.NewTicker(instance.interval)
	defer ticker.Stop()

	for {
		result, err := instance.Poll(ctx, deviceId)
		switch {
		case err != nil && ctx.Err() == nil:
			log.Error().Err(err).Str("device_id", deviceId).Msg("mcpTasks.Poll() failed")
		case err == nil && len(result.RemovedIds) > 0 && onChange != nil:
			onChange(deviceId, result)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
