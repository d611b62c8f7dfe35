package sandbox

import (
	"context"
	"errors"
	"github.com/rs/zerolog/log"
	"mcp-chat/internal/pkg/authToken"
	"mcp-chat/internal/pkg/orchestrator"
	"time"
)

const (
	DefaultMaxAttempts   = 30
	DefaultInterval      = 5 * time.Second
	DefaultRetryInterval = 2 * time.Second
)

var ErrTimeout = errors.New("sandbox creation is taking longer than expected, please try refreshing the page")

type StatusChecker interface {
	SandboxStatus(ctx context.Context, token string, request orchestrator.SandboxStatusRequest) (*orchestrator.SandboxStatusResponse, error)
}

type Poller struct {
	checker       StatusChecker
	maxAttempts   int
	interval      time.Duration
	retryInterval time.Duration
}

type Option func(*Poller)

func WithMaxAttempts(maxAttempts int) Option {
	return func(poller *Poller) {
		if maxAttempts > 0 {
			poller.maxAttempts = maxAttempts
		}
	}
}

// WithInterval sets the delay after a "not ready yet" answer.
func WithInterval(interval time.Duration) Option {
	return func(poller *Poller) {
		poller.interval = interval
	}
}

// WithRetryInterval sets the delay after a failed request.
func WithRetryInterval(retryInterval time.Duration) Option {
	return func(poller *Poller) {
		poller.retryInterval = retryInterval
	}
}

func New(checker StatusChecker, options ...Option) *Poller {
	poller := &Poller{
		checker:       checker,
		maxAttempts:   DefaultMaxAttempts,
		interval:      DefaultInterval,
		retryInterval: DefaultRetryInterval,
	}
	for _, option := range options {
		option(poller)
	}
	return poller
}

// WaitReady polls the sandbox status until it reports ready. Failed requests count as
// attempts and are retried; after the last attempt ErrTimeout is returned without
// another request.
func (instance *Poller) WaitReady(ctx context.Context, chatId string, userId string, tokens authToken.Provider) error {
	request := orchestrator.SandboxStatusRequest{ChatId: chatId, UserId: userId}

	for attempt := 1; ; attempt++ {
		delay := instance.interval

		status, err := instance.check(ctx, request, tokens)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn().Err(err).Str("chat_id", chatId).Int("attempt", attempt).Msg("sandbox status check failed")
			delay = instance.retryInterval
		case status.Ready():
			log.Info().Str("chat_id", chatId).Int("attempt", attempt).Msg("sandbox ready")
			return nil
		case status != nil:
			log.Debug().Str("chat_id", chatId).Str("status", status.SandboxStatus).Int("attempt", attempt).Msg("sandbox not ready")
		}

		if attempt >= instance.maxAttempts {
			log.Warn().Str("chat_id", chatId).Int("attempts", attempt).Msg("sandbox readiness polling timed out")
			return ErrTimeout
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (instance *Poller) check(ctx context.Context, request orchestrator.SandboxStatusRequest, tokens authToken.Provider) (*orchestrator.SandboxStatusResponse, error) {
	var token string
	if tokens != nil {
		var err error
		if token, err = tokens(ctx); err != nil {
			return nil, err
		}
	}
	return instance.checker.SandboxStatus(ctx, token, request)
}
