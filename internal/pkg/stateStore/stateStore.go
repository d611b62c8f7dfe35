package stateStore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"github.com/rs/zerolog/log"
	"mcp-chat/internal/pkg/clientIds"
	_ "modernc.org/sqlite"
	"time"
)

const DefaultTaskLimit = 20

// StateStore keeps the state a client has to remember between runs: the device id of a
// profile and the MCP tasks started from a device that have not finished yet.
type StateStore interface {
	// DeviceId returns the device id of profile, creating one on first use.
	DeviceId(ctx context.Context, profile string) (string, error)
	// AddPendingTask puts taskId in front of the device's list, dropping an older entry of
	// the same id and everything beyond the limit.
	AddPendingTask(ctx context.Context, deviceId string, taskId string) error
	// PendingTasks returns the device's task ids, newest first.
	PendingTasks(ctx context.Context, deviceId string) ([]string, error)
	RemovePendingTasks(ctx context.Context, deviceId string, taskIds ...string) error
	Close() error
}

type Option func(*stateStoreImpl)

func WithTaskLimit(limit int) Option {
	return func(store *stateStoreImpl) {
		if limit > 0 {
			store.taskLimit = limit
		}
	}
}

type stateStoreImpl struct {
	db        *sql.DB
	taskLimit int
}

var openError = func(err error) error {
	return fmt.Errorf("error opening state store: %w", err)
}

func New(path string, options ...Option) (StateStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, openError(err)
	}
	// sqlite serialises writers anyway
	db.SetMaxOpenConns(1)

	store := &stateStoreImpl{db: db, taskLimit: DefaultTaskLimit}
	for _, option := range options {
		option(store)
	}

	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, openError(err)
	}
	return store, nil
}

func (instance *stateStoreImpl) init(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS devices (profile TEXT PRIMARY KEY, device_id TEXT NOT NULL, created_at INTEGER NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS pending_tasks (seq INTEGER PRIMARY KEY AUTOINCREMENT, device_id TEXT NOT NULL, task_id TEXT NOT NULL, added_at INTEGER NOT NULL, UNIQUE (device_id, task_id))`,
	}
	for _, statement := range statements {
		if _, err := instance.db.ExecContext(ctx, statement); err != nil {
			return err
		}
	}
	return nil
}

var deviceIdError = func(err error) error {
	return fmt.Errorf("error reading device id: %w", err)
}

func (instance *stateStoreImpl) DeviceId(ctx context.Context, profile string) (string, error) {
	_, err := instance.db.ExecContext(ctx,
		`INSERT INTO devices (profile, device_id, created_at) VALUES (?, ?, ?) ON CONFLICT (profile) DO NOTHING`,
		profile, clientIds.NewDeviceId(), time.Now().UnixMilli())
	if err != nil {
		return "", deviceIdError(err)
	}

	var deviceId string
	if err := instance.db.QueryRowContext(ctx, `SELECT device_id FROM devices WHERE profile = ?`, profile).Scan(&deviceId); err != nil {
		return "", deviceIdError(err)
	}
	return deviceId, nil
}

var addPendingTaskError = func(err error) error {
	return fmt.Errorf("error adding pending task: %w", err)
}

func (instance *stateStoreImpl) AddPendingTask(ctx context.Context, deviceId string, taskId string) (err error) {
	if taskId == "" {
		return addPendingTaskError(errors.New("task id is empty"))
	}

	tx, err := instance.db.BeginTx(ctx, nil)
	if err != nil {
		return addPendingTaskError(err)
	}
	defer func() {
		if err != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				log.Error().Err(rollbackErr).Msg("stateStore.AddPendingTask() rollback failed")
			}
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM pending_tasks WHERE device_id = ? AND task_id = ?`, deviceId, taskId); err != nil {
		return addPendingTaskError(err)
	}
	if _, err = tx.ExecContext(ctx, `INSERT INTO pending_tasks (device_id, task_id, added_at) VALUES (?, ?, ?)`,
		deviceId, taskId, time.Now().UnixMilli()); err != nil {
		return addPendingTaskError(err)
	}
	if _, err = tx.ExecContext(ctx,
		`DELETE FROM pending_tasks WHERE device_id = ? AND seq NOT IN (SELECT seq FROM pending_tasks WHERE device_id = ? ORDER BY seq DESC LIMIT ?)`,
		deviceId, deviceId, instance.taskLimit); err != nil {
		return addPendingTaskError(err)
	}
	if err = tx.Commit(); err != nil {
		return addPendingTaskError(err)
	}
	return nil
}

var pendingTasksError = func(err error) error {
	return fmt.Errorf("error reading pending tasks: %w", err)
}

func (instance *stateStoreImpl) PendingTasks(ctx context.Context, deviceId string) ([]string, error) {
	rows, err := instance.db.QueryContext(ctx, `SELECT task_id FROM pending_tasks WHERE device_id = ? ORDER BY seq DESC`, deviceId)
	if err != nil {
		return nil, pendingTasksError(err)
	}
	defer rows.Close()

	taskIds := []string{}
	for rows.Next() {
		var taskId string
		if err := rows.Scan(&taskId); err != nil {
			return nil, pendingTasksError(err)
		}
		taskIds = append(taskIds, taskId)
	}
	if err := rows.Err(); err != nil {
		return nil, pendingTasksError(err)
	}
	return taskIds, nil
}

func (instance *stateStoreImpl) RemovePendingTasks(ctx context.Context, deviceId string, taskIds ...string) error {
	for _, taskId := range taskIds {
		if _, err := instance.db.ExecContext(ctx, `DELETE FROM pending_tasks WHERE device_id = ? AND task_id = ?`, deviceId, taskId); err != nil {
			return fmt.Errorf("error removing pending task %s: %w", taskId, err)
		}
	}
	return nil
}

func (instance *stateStoreImpl) Close() error {
	return instance.db.Close()
}
