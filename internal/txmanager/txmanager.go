// Package txmanager implements the bounded transaction registry (§4.C): a
// map from a transaction token to the (session, handle) pair an
// asynchronous reply for that token should be routed to.
package txmanager

import "sync"

// Route identifies the session and, optionally, handle an asynchronous
// reply should be delivered to.
type Route struct {
	SessionID uint64
	HandleID  uint64 // zero if the transaction is session-scoped only
}

// Manager is a bounded, FIFO-evicting registry of in-flight transactions.
type Manager struct {
	mu       sync.Mutex
	capacity int
	routes   map[string]Route
	order    []string
}

// New returns a Manager bounded to the given capacity.
func New(capacity int) *Manager {
	if capacity <= 0 {
		capacity = 1
	}
	return &Manager{
		capacity: capacity,
		routes:   make(map[string]Route, capacity),
	}
}

// Create registers tx as routing to (session, handle). If tx is already
// registered, its route is overwritten without changing its eviction order.
func (m *Manager) Create(tx string, sessionID, handleID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.routes[tx]; !exists {
		m.order = append(m.order, tx)
	}
	m.routes[tx] = Route{SessionID: sessionID, HandleID: handleID}

	for len(m.order) > m.capacity {
		oldest := m.order[0]
		m.order = m.order[1:]
		delete(m.routes, oldest)
	}
}

// Get returns the route registered for tx, if any.
func (m *Manager) Get(tx string) (Route, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.routes[tx]
	return r, ok
}

// SuccessClose removes tx from the registry after its correlated reply has
// been fully delivered.
func (m *Manager) SuccessClose(tx string) {
	m.remove(tx)
}

// ErrorClose removes tx from the registry after a janus error terminated
// it. Distinguished from SuccessClose only for call-site clarity; the
// registry does not track why a transaction closed.
func (m *Manager) ErrorClose(tx string) {
	m.remove(tx)
}

func (m *Manager) remove(tx string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.routes[tx]; !ok {
		return
	}
	delete(m.routes, tx)
	for i, k := range m.order {
		if k == tx {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// Len reports the number of in-flight transactions currently registered.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.routes)
}
