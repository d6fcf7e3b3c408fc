// Package filter decides which events the recorder persists.
//
// The engine is a pure function over its configuration: no state is read or
// written during a decision, so it is safe to call from any goroutine even
// though in practice only the recorder worker does.
package filter

import (
	"github.com/roach88/chronicle/internal/event"
)

// Config is the include/exclude rule set, immutable for the recorder's
// lifetime. Missing lists are treated as empty, never as an error.
type Config struct {
	IncludeEntities []string
	IncludeDomains  []string
	ExcludeEntities []string
	ExcludeDomains  []string
}

// Engine evaluates include/exclude rules against entity identifiers.
type Engine struct {
	includeEntities map[string]struct{}
	includeDomains  map[string]struct{}
	// exclude holds entity IDs and domains in one set: an entry matches an
	// event if it equals either the event's entity ID or its domain.
	exclude map[string]struct{}
}

// New compiles a Config into an Engine. Entries are normalized the same way
// entity IDs on incoming events are, so config spelling never matters.
func New(cfg Config) *Engine {
	return &Engine{
		includeEntities: toSet(cfg.IncludeEntities),
		includeDomains:  toSet(cfg.IncludeDomains),
		exclude:         toSet(append(append([]string{}, cfg.ExcludeEntities...), cfg.ExcludeDomains...)),
	}
}

// ShouldRecord reports whether an event passes the filter.
//
// Events without an entity identifier are always recorded; filtering never
// applies to them. For entity events the rules apply in this exact order:
//
//  1. Entity excluded, or its domain excluded without a per-entity include
//     override, drops the event. An exclude-domain can be overridden for a
//     specific entity via the include-entities list.
//  2. A non-empty include-domains list drops entities outside those domains.
//  3. A non-empty include-entities list drops entities outside it, but only
//     when no excludes are configured at all.
//  4. Everything else is recorded.
func (f *Engine) ShouldRecord(e event.Event) bool {
	entityID, ok := e.EntityID()
	if !ok {
		return true
	}
	return f.ShouldRecordEntity(entityID)
}

// ShouldRecordEntity applies the rules to a bare entity identifier.
func (f *Engine) ShouldRecordEntity(entityID string) bool {
	entityID = event.NormalizeEntityID(entityID)
	domain := event.Domain(entityID)

	if f.has(f.exclude, entityID) {
		return false
	}
	if f.has(f.exclude, domain) && !f.has(f.includeEntities, entityID) {
		return false
	}

	if len(f.includeDomains) > 0 && !f.has(f.includeDomains, domain) {
		return false
	}
	if len(f.includeEntities) > 0 && !f.has(f.includeEntities, entityID) && len(f.exclude) == 0 {
		return false
	}

	return true
}

func (f *Engine) has(set map[string]struct{}, key string) bool {
	_, ok := set[key]
	return ok
}

func toSet(entries []string) map[string]struct{} {
	set := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if entry == "" {
			continue
		}
		set[event.NormalizeEntityID(entry)] = struct{}{}
	}
	return set
}
