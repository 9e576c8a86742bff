package broker

import (
	"time"

	"github.com/vthunder/temple/internal/logging"
	"github.com/vthunder/temple/internal/scope"
)

// ContextState is the get_context view of the active scopes.
type ContextState struct {
	Project      string   `json:"project,omitempty"`
	Session      string   `json:"session,omitempty"`
	ActiveScopes []string `json:"active_scopes"`
}

// SetContext switches the active project and/or session. An empty
// string clears the corresponding tier; a nil pointer leaves it alone.
func (b *Broker) SetContext(project, session *string) ContextState {
	if project != nil {
		b.ctx.SetProject(*project)
	}
	if session != nil {
		b.ctx.SetSession(*session)
	}
	state := b.GetContext()
	b.audit.Record("set_context", "global", map[string]any{
		"project": state.Project, "session": state.Session,
	})
	return state
}

// GetContext reports the current context.
func (b *Broker) GetContext() ContextState {
	state := ContextState{}
	if p, ok := b.ctx.Project(); ok {
		state.Project = p
	}
	if s, ok := b.ctx.Session(); ok {
		state.Session = s
	}
	for _, sc := range b.ctx.ActiveScopes() {
		state.ActiveScopes = append(state.ActiveScopes, sc.String())
	}
	return state
}

// ListProjects names every project that has a memory collection.
func (b *Broker) ListProjects() ([]string, error) {
	collections, err := b.vectors.ListCollections()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, c := range collections {
		if sc, ok := scope.FromCollection(c); ok && sc.Kind == scope.KindProject {
			out = append(out, sc.Name)
		}
	}
	return out, nil
}

// ListSessions names every live session collection. Expired sessions
// are swept first so they never show up.
func (b *Broker) ListSessions() ([]string, error) {
	b.maybeSweep(true)

	collections, err := b.vectors.ListCollections()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, c := range collections {
		if sc, ok := scope.FromCollection(c); ok && sc.Kind == scope.KindSession {
			out = append(out, sc.Name)
		}
	}
	return out, nil
}

// maybeSweep expires stale session scopes. It runs at most once per
// sweepInterval unless forced, piggybacking on broker calls instead of
// a timer goroutine.
func (b *Broker) maybeSweep(force bool) {
	b.sweepMu.Lock()
	defer b.sweepMu.Unlock()

	now := time.Now()
	if !force && now.Sub(b.lastSweep) < sweepInterval {
		return
	}
	b.lastSweep = now

	collections, err := b.vectors.ListCollections()
	if err != nil {
		logging.Warn("broker", "sweep skipped, cannot list collections: %v", err)
		return
	}
	cutoff := now.Add(-b.cfg.SessionTTL())

	for _, c := range collections {
		sc, ok := scope.FromCollection(c)
		if !ok || sc.Kind != scope.KindSession {
			continue
		}
		if !b.sessionExpired(c, cutoff) {
			continue
		}
		b.expireSession(sc)
	}
}

// sessionExpired reports whether every entry in the collection is older
// than the cutoff. An empty collection counts as expired.
func (b *Broker) sessionExpired(collection string, cutoff time.Time) bool {
	var newest time.Time
	docs, err := b.scanCollection(collection)
	if err != nil {
		logging.Warn("broker", "sweep scan failed for %s: %v", collection, err)
		return false
	}
	for _, doc := range docs {
		if doc.CreatedAt.After(newest) {
			newest = doc.CreatedAt
		}
		if doc.UpdatedAt.After(newest) {
			newest = doc.UpdatedAt
		}
	}
	return newest.Before(cutoff)
}

// expireSession deletes a session's vector collection and graph scope
// and clears it from the active context if it was selected.
func (b *Broker) expireSession(sc scope.Scope) {
	if err := b.vectors.DeleteCollection(sc.Collection()); err != nil {
		logging.Warn("broker", "failed to drop collection for %s: %v", sc, err)
		return
	}
	entities, relations, err := b.graph.DeleteScope(sc.String())
	if err != nil {
		logging.Warn("broker", "failed to wipe graph scope %s: %v", sc, err)
	}
	cleared := b.ctx.ClearSessionIf(sc.Name)

	b.audit.Record("session_expired", sc.String(), map[string]any{
		"entities_deleted": entities, "relations_deleted": relations,
		"context_cleared": cleared,
	})
	logging.Info("broker", "expired session %s (%d entities, %d relations)", sc.Name, entities, relations)
}
