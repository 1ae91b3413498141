package catalog

import (
	"github.com/google/uuid"

	"github.com/eliteGoblin/focusd/regsync/internal/domain"
)

// Session is the selection state of one registration session. It is
// passed explicitly to everything that reads or changes the selection.
type Session struct {
	ID      string
	Catalog *Catalog
	// Preselected is set once recommended addons were preselected.
	Preselected bool
}

// NewSession starts a session over the given catalog.
func NewSession(c *Catalog) *Session {
	return &Session{
		ID:      uuid.NewString(),
		Catalog: c,
	}
}

// NewSessionFromAddons builds the catalog and starts a session.
func NewSessionFromAddons(addons []domain.Addon) (*Session, error) {
	c, err := New(addons)
	if err != nil {
		return nil, err
	}
	return NewSession(c), nil
}

// Reset drops the catalog and all selection state.
func (s *Session) Reset() {
	s.Catalog = nil
	s.Preselected = false
}

// Active reports whether the session still holds a catalog.
func (s *Session) Active() bool {
	return s.Catalog != nil
}
