package command

import (
	"container/list"
	"sync"

	"github.com/cuber-it/heinzel-ki/model"
)

// MaxSessions bounds the number of tracked sessions. The least recently
// used session is evicted when the bound is hit.
const MaxSessions = 1000

type (
	// SessionParams holds the per-session overrides a client set with !set.
	// Nil pointers mean "not set, use the request or provider default".
	SessionParams struct {
		Model       string
		Temperature *float64
		MaxTokens   *int
	}

	// SessionStore keeps SessionParams per session id with LRU eviction.
	// Safe for concurrent use.
	SessionStore struct {
		mu    sync.Mutex
		max   int
		order *list.List
		items map[string]*list.Element
	}

	sessionEntry struct {
		id     string
		params *SessionParams
	}
)

// NewSessionStore builds a store bounded to max sessions. Non-positive max
// means MaxSessions.
func NewSessionStore(max int) *SessionStore {
	if max <= 0 {
		max = MaxSessions
	}
	return &SessionStore{
		max:   max,
		order: list.New(),
		items: make(map[string]*list.Element),
	}
}

// Get returns the parameters for the session, creating them on first use
// and marking the session as most recently used.
func (s *SessionStore) Get(sessionID string) *SessionParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.items[sessionID]; ok {
		s.order.MoveToBack(el)
		return el.Value.(*sessionEntry).params
	}
	if len(s.items) >= s.max {
		oldest := s.order.Front()
		if oldest != nil {
			s.order.Remove(oldest)
			delete(s.items, oldest.Value.(*sessionEntry).id)
		}
	}
	params := &SessionParams{}
	s.items[sessionID] = s.order.PushBack(&sessionEntry{id: sessionID, params: params})
	return params
}

// Delete forgets a session.
func (s *SessionStore) Delete(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.items[sessionID]; ok {
		s.order.Remove(el)
		delete(s.items, sessionID)
	}
}

// Count returns the number of tracked sessions.
func (s *SessionStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// SessionIDs returns the tracked session ids, oldest first.
func (s *SessionStore) SessionIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.items))
	for el := s.order.Front(); el != nil; el = el.Next() {
		ids = append(ids, el.Value.(*sessionEntry).id)
	}
	return ids
}

// Apply folds the session overrides into a chat request. Values the request
// already carries win over session state.
func (p *SessionParams) Apply(req *model.ChatRequest) {
	if p == nil {
		return
	}
	if req.Model == "" && p.Model != "" {
		req.Model = p.Model
	}
	if req.Temperature == nil && p.Temperature != nil {
		v := *p.Temperature
		req.Temperature = &v
	}
	if req.MaxTokens == 0 && p.MaxTokens != nil {
		req.MaxTokens = *p.MaxTokens
	}
}
