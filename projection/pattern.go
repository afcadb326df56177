package projection

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Projection folds a Projectable into a document, via a user-land
// DocumentStore, acknowledging through the supplied Control once done.
type Projection interface {
	ProjectWith(ctx context.Context, p Projectable, control *Control) error
}

// ProjectToDescription binds a Projection to the becauseOf patterns that
// route work to it, plus a human-readable description.
type ProjectToDescription struct {
	Projection  Projection
	Patterns    []string
	Description string
}

func (d ProjectToDescription) validate() error {
	if d.Projection == nil {
		return fmt.Errorf("projection: ProjectToDescription.Projection must not be nil")
	}
	if len(d.Patterns) == 0 {
		return fmt.Errorf("projection: ProjectToDescription.Patterns must not be empty")
	}
	if d.Description == "" {
		return fmt.Errorf("projection: ProjectToDescription.Description must not be empty")
	}
	return nil
}

// matchPattern implements the case-sensitive glob dialect: exact,
// prefix ("Account*"), suffix ("*Event"), contains ("*Transfer*"),
// namespace dot-glob ("com.example.*", a prefix match), and universal
// ("*").
func matchPattern(pattern, cause string) bool {
	switch {
	case pattern == "*":
		return true
	case len(pattern) >= 2 && strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*"):
		return strings.Contains(cause, pattern[1:len(pattern)-1])
	case strings.HasSuffix(pattern, "*"):
		return strings.HasPrefix(cause, pattern[:len(pattern)-1])
	case strings.HasPrefix(pattern, "*"):
		return strings.HasSuffix(cause, pattern[1:])
	default:
		return pattern == cause
	}
}

// matches reports whether any of patterns matches any of causes. An
// empty or nil cause list never matches.
func matches(patterns, causes []string) bool {
	if len(causes) == 0 {
		return false
	}
	for _, pattern := range patterns {
		for _, cause := range causes {
			if matchPattern(pattern, cause) {
				return true
			}
		}
	}
	return false
}

// MatchableProjections is the registry of ProjectToDescriptions a
// Dispatcher consults. Match results are cached per exact cause tuple
// until the next Register call invalidates the cache.
type MatchableProjections struct {
	mu           sync.Mutex
	descriptions []ProjectToDescription
	cache        map[string][]Projection
}

// NewMatchableProjections builds an empty registry.
func NewMatchableProjections() *MatchableProjections {
	return &MatchableProjections{}
}

// Register appends desc and invalidates the match cache.
func (m *MatchableProjections) Register(desc ProjectToDescription) error {
	if err := desc.validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.descriptions = append(m.descriptions, desc)
	m.cache = nil
	return nil
}

// Match returns the distinct projections of every description matching
// causes, preserving registration order.
func (m *MatchableProjections) Match(causes []string) []Projection {
	if len(causes) == 0 {
		return nil
	}
	key := strings.Join(causes, "\x00")

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cache != nil {
		if cached, ok := m.cache[key]; ok {
			return cached
		}
	} else {
		m.cache = make(map[string][]Projection)
	}

	seen := make(map[Projection]bool)
	var result []Projection
	for _, d := range m.descriptions {
		if !matches(d.Patterns, causes) {
			continue
		}
		if seen[d.Projection] {
			continue
		}
		seen[d.Projection] = true
		result = append(result, d.Projection)
	}

	m.cache[key] = result
	return result
}
