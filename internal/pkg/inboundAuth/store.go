package inboundAuth

import (
	"sort"
	"sync"
	"time"
)

const DefaultFlowTtl = 10 * time.Minute
const maxFlowsPerOwner = 8

type PendingToggle struct {
	McpId  string `json:"mcpId"`
	ChatId string `json:"chatId"`
}

// Flow is the state of one authorization attempt, kept between the redirect to the
// authorization server and the callback.
type Flow struct {
	State         string
	CodeVerifier  string
	ClientId      string
	McpId         string
	PendingToggle *PendingToggle
	CreatedAt     time.Time
}

// Store keeps flows per owner (a browser session) keyed by their state token, so several
// connect attempts of one browser do not overwrite each other.
type Store interface {
	Save(owner string, flow Flow) error
	// Take removes and returns the flow registered under state. When no flow matches,
	// every flow of the owner is discarded.
	Take(owner string, state string) (Flow, bool)
	Pending(owner string) int
	// Forget discards every flow of the owner.
	Forget(owner string)
}

type MemoryStoreOption func(*memoryStore)

func WithTtl(ttl time.Duration) MemoryStoreOption {
	return func(store *memoryStore) {
		store.ttl = ttl
	}
}

func WithClock(now func() time.Time) MemoryStoreOption {
	return func(store *memoryStore) {
		store.now = now
	}
}

type memoryStore struct {
	mutex sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	flows map[string]map[string]Flow
	swept time.Time
}

func NewMemoryStore(options ...MemoryStoreOption) Store {
	store := &memoryStore{
		ttl:   DefaultFlowTtl,
		now:   time.Now,
		flows: map[string]map[string]Flow{},
	}
	for _, option := range options {
		option(store)
	}
	return store
}

func (instance *memoryStore) Save(owner string, flow Flow) error {
	instance.mutex.Lock()
	defer instance.mutex.Unlock()

	if flow.CreatedAt.IsZero() {
		flow.CreatedAt = instance.now()
	}
	instance.sweepLocked()

	flows := instance.ownerFlowsLocked(owner)
	if flows == nil {
		flows = map[string]Flow{}
		instance.flows[owner] = flows
	}
	flows[flow.State] = flow

	if len(flows) > maxFlowsPerOwner {
		states := make([]string, 0, len(flows))
		for state := range flows {
			states = append(states, state)
		}
		sort.Slice(states, func(i, j int) bool {
			return flows[states[i]].CreatedAt.Before(flows[states[j]].CreatedAt)
		})
		for _, state := range states[:len(flows)-maxFlowsPerOwner] {
			delete(flows, state)
		}
	}
	return nil
}

func (instance *memoryStore) Take(owner string, state string) (Flow, bool) {
	instance.mutex.Lock()
	defer instance.mutex.Unlock()

	flows := instance.ownerFlowsLocked(owner)
	flow, ok := flows[state]
	if !ok || state == "" {
		delete(instance.flows, owner)
		return Flow{}, false
	}

	delete(flows, state)
	if len(flows) == 0 {
		delete(instance.flows, owner)
	}
	return flow, true
}

func (instance *memoryStore) Pending(owner string) int {
	instance.mutex.Lock()
	defer instance.mutex.Unlock()
	return len(instance.ownerFlowsLocked(owner))
}

func (instance *memoryStore) Forget(owner string) {
	instance.mutex.Lock()
	defer instance.mutex.Unlock()
	delete(instance.flows, owner)
}

// sweepLocked drops expired flows of all owners, at most once per ttl.
func (instance *memoryStore) sweepLocked() {
	now := instance.now()
	if now.Sub(instance.swept) < instance.ttl {
		return
	}
	instance.swept = now
	for owner := range instance.flows {
		instance.ownerFlowsLocked(owner)
	}
}

// ownerFlowsLocked drops expired flows of the owner before returning them.
func (instance *memoryStore) ownerFlowsLocked(owner string) map[string]Flow {
	flows, ok := instance.flows[owner]
	if !ok {
		return nil
	}
	now := instance.now()
	for state, flow := range flows {
		if now.Sub(flow.CreatedAt) > instance.ttl {
			delete(flows, state)
		}
	}
	if len(flows) == 0 {
		delete(instance.flows, owner)
		return nil
	}
	return flows
}
