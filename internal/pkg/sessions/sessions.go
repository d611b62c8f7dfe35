package sessions

import (
	"errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"sync"
	"time"
)

type SessionManager struct {
	mutex    sync.Mutex
	sessions map[uuid.UUID]*Session
	onPrune  func(id uuid.UUID)
}

type Option func(*SessionManager)

// WithPruneFunc registers a callback run for every session PruneIdle removes.
func WithPruneFunc(onPrune func(id uuid.UUID)) Option {
	return func(sessionManager *SessionManager) {
		sessionManager.onPrune = onPrune
	}
}

func New(options ...Option) *SessionManager {
	sessionManager := &SessionManager{
		sessions: make(map[uuid.UUID]*Session),
	}
	for _, option := range options {
		option(sessionManager)
	}
	return sessionManager
}

func (instance *SessionManager) AddSession(session *Session) error {
	instance.mutex.Lock()
	defer instance.mutex.Unlock()

	_, ok := instance.sessions[session.Id]
	if ok {
		return errors.New("session with such id already exists")
	}

	instance.sessions[session.Id] = session
	return nil
}

func (instance *SessionManager) GetSession(id uuid.UUID) *Session {
	instance.mutex.Lock()
	defer instance.mutex.Unlock()
	return instance.sessions[id]
}

// PruneIdle shuts down sessions whose browser has not made a request for maxIdle.
func (instance *SessionManager) PruneIdle(maxIdle time.Duration) int {
	now := time.Now()
	var idle []*Session

	instance.mutex.Lock()
	for id, session := range instance.sessions {
		if now.Sub(session.idleSince()) > maxIdle {
			idle = append(idle, session)
			delete(instance.sessions, id)
		}
	}
	instance.mutex.Unlock()

	for _, session := range idle {
		log.Info().Str("session_id", session.Id.String()).Msg("idle session removed")
		session.Shutdown()
		if instance.onPrune != nil {
			instance.onPrune(session.Id)
		}
	}
	return len(idle)
}

func (instance *SessionManager) Shutdown() {
	instance.mutex.Lock()
	sessions := make([]*Session, 0, len(instance.sessions))
	for _, session := range instance.sessions {
		sessions = append(sessions, session)
	}
	instance.sessions = make(map[uuid.UUID]*Session)
	instance.mutex.Unlock()

	for _, session := range sessions {
		session.Shutdown()
	}
}
