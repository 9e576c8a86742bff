package scope

import "sync"

// Context tracks the active project and session for one broker instance.
// It is an explicit value owned by the broker rather than process-global
// state, so two brokers never share context by accident. Safe for
// concurrent use.
type Context struct {
	mu      sync.RWMutex
	project string
	session string
}

// NewContext returns a context with only the global scope active.
func NewContext() *Context {
	return &Context{}
}

// SetProject activates a project scope. Empty clears it.
func (c *Context) SetProject(name string) {
	c.mu.Lock()
	c.project = name
	c.mu.Unlock()
}

// SetSession activates a session scope. Empty clears it.
func (c *Context) SetSession(id string) {
	c.mu.Lock()
	c.session = id
	c.mu.Unlock()
}

// Project returns the active project name, if any.
func (c *Context) Project() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.project, c.project != ""
}

// Session returns the active session id, if any.
func (c *Context) Session() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session, c.session != ""
}

// ClearSessionIf clears the active session when it matches id. Used by
// the TTL sweep so an expired session does not linger as active context.
func (c *Context) ClearSessionIf(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == id {
		c.session = ""
		return true
	}
	return false
}

// ActiveScopes returns the active scopes in ascending precedence:
// global, then project and session when set.
func (c *Context) ActiveScopes() []Scope {
	c.mu.RLock()
	defer c.mu.RUnlock()
	scopes := []Scope{Global()}
	if c.project != "" {
		scopes = append(scopes, Project(c.project))
	}
	if c.session != "" {
		scopes = append(scopes, Session(c.session))
	}
	return scopes
}

// RetrievalScopes returns every scope searched during retrieval.
func (c *Context) RetrievalScopes() []Scope {
	return c.ActiveScopes()
}

// GraphReadScopes returns the active scopes highest precedence first,
// the order graph lookups try when no explicit scope is given.
func (c *Context) GraphReadScopes() []Scope {
	scopes := c.ActiveScopes()
	for i, j := 0, len(scopes)-1; i < j; i, j = i+1, j-1 {
		scopes[i], scopes[j] = scopes[j], scopes[i]
	}
	return scopes
}

// StoreScope resolves the scope a write should land in: the override
// when given, otherwise the most specific active scope.
func (c *Context) StoreScope(override string) (Scope, error) {
	if override != "" {
		return Parse(override)
	}
	scopes := c.ActiveScopes()
	return scopes[len(scopes)-1], nil
}
