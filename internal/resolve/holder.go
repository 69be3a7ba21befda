package resolve

import "sync"

// CredentialHolder stores the current session credentials behind a mutex so
// the HTTP layer can replace them while a queue run reads them.
type CredentialHolder struct {
	mu    sync.RWMutex
	creds Credentials
}

func NewCredentialHolder() *CredentialHolder {
	return &CredentialHolder{}
}

func (h *CredentialHolder) Set(creds Credentials) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.creds = creds
}

func (h *CredentialHolder) Get() Credentials {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.creds
}
