// Package usecase contains application business logic.
package usecase

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/regsync/internal/catalog"
	"github.com/eliteGoblin/focusd/regsync/internal/domain"
)

// Selection changes which addons of a session will be registered.
// All operations are synchronous and only touch addon status.
type Selection struct {
	session *catalog.Session
	logger  *zap.Logger
}

// NewSelection creates a selection engine over the session.
func NewSelection(session *catalog.Session, logger *zap.Logger) *Selection {
	return &Selection{
		session: session,
		logger:  logger,
	}
}

// Toggle flips an addon between selected and unselected. Selecting pulls
// in the dependency closure as auto_selected; deselecting releases every
// auto-selected dependency nothing else still needs. An addon that a
// selected or registered addon depends on cannot be deselected.
func (s *Selection) Toggle(key string) error {
	c := s.session.Catalog
	st, err := c.Status(key)
	if err != nil {
		return err
	}

	switch st {
	case domain.StatusRegistered:
		return fmt.Errorf("%w: %s", domain.ErrAlreadyRegistered, key)
	case domain.StatusSelected, domain.StatusAutoSelected:
		// Deselecting is refused while a selected or registered addon
		// still depends on key.
		if by := s.requiredBy(key); len(by) > 0 {
			return fmt.Errorf("%w: %s is needed by %s", domain.ErrStillRequired, key, strings.Join(by, ", "))
		}
		s.deselect(key)
	default:
		s.selectAddon(key)
	}
	return nil
}

// PreselectRecommended selects every recommended addon. It runs at most
// once per session and only when nothing is selected or registered yet.
// Returns whether anything was preselected.
func (s *Selection) PreselectRecommended() bool {
	if s.session.Preselected {
		return false
	}
	s.session.Preselected = true

	c := s.session.Catalog
	if len(c.WithStatus(domain.StatusSelected, domain.StatusAutoSelected, domain.StatusRegistered)) > 0 {
		s.logger.Debug("skipping preselection, selection not empty",
			zap.String("session", s.session.ID))
		return false
	}

	preselected := false
	for _, a := range c.Addons() {
		if !a.Recommended {
			continue
		}
		if st, _ := c.Status(a.Key()); st == domain.StatusSelected {
			continue
		}
		s.selectAddon(a.Key())
		preselected = true
		s.logger.Info("preselected recommended addon",
			zap.String("session", s.session.ID),
			zap.String("addon", a.Key()))
	}
	return preselected
}

// RegistrationOrder returns addons so that each comes after everything it
// depends on. Ties keep catalog display order.
func (s *Selection) RegistrationOrder(addons []domain.Addon) ([]domain.Addon, error) {
	c := s.session.Catalog
	keys := make([]string, 0, len(addons))
	wanted := make(map[string]bool, len(addons))
	for _, a := range addons {
		key := a.Key()
		if _, ok := c.Get(key); !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrUnknownAddon, key)
		}
		keys = append(keys, key)
		wanted[key] = true
	}

	ordered, err := c.Order(keys)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrDependencyCycle, err)
	}

	out := make([]domain.Addon, 0, len(addons))
	for _, key := range ordered {
		if !wanted[key] {
			continue
		}
		a, _ := c.Get(key)
		out = append(out, a)
	}
	return out, nil
}

// SupportedAddonCount fails with ErrTooManyAddons when more addons
// needing a registration code are given than can be registered at once.
func (s *Selection) SupportedAddonCount(addons []domain.Addon) error {
	n := 0
	for _, a := range addons {
		if a.RequiresRegCode() {
			n++
		}
	}
	if n > domain.MaxRegCodeAddons {
		s.logger.Warn("too many addons requiring a registration code",
			zap.Int("count", n),
			zap.Int("max", domain.MaxRegCodeAddons))
		return fmt.Errorf("%w: %d selected, at most %d supported",
			domain.ErrTooManyAddons, n, domain.MaxRegCodeAddons)
	}
	return nil
}

// Filter hides development addons unless showUnreleased is set. Addons
// that are registered or selected in any way stay visible.
func (s *Selection) Filter(addons []domain.Addon, showUnreleased bool) []domain.Addon {
	if showUnreleased {
		return addons
	}
	c := s.session.Catalog
	out := make([]domain.Addon, 0, len(addons))
	for _, a := range addons {
		st, _ := c.Status(a.Key())
		if a.Released || st.AtLeastAutoSelected() {
			out = append(out, a)
		}
	}
	return out
}

// Selected returns the addons to register, dependencies first.
func (s *Selection) Selected() ([]domain.Addon, error) {
	c := s.session.Catalog
	return s.RegistrationOrder(c.WithStatus(domain.StatusSelected, domain.StatusAutoSelected))
}

func (s *Selection) selectAddon(key string) {
	c := s.session.Catalog
	_ = c.SetStatus(key, domain.StatusSelected)
	for _, dep := range c.Dependencies(key) {
		st, _ := c.Status(dep)
		if st.Anchors() || st == domain.StatusAutoSelected {
			continue
		}
		_ = c.SetStatus(dep, domain.StatusAutoSelected)
		s.logger.Debug("auto-selected dependency",
			zap.String("addon", key),
			zap.String("dependency", dep))
	}
}

func (s *Selection) deselect(key string) {
	c := s.session.Catalog
	_ = c.SetStatus(key, domain.StatusUnselected)
	for _, dep := range c.Dependencies(key) {
		st, _ := c.Status(dep)
		if st != domain.StatusAutoSelected {
			continue
		}
		if len(s.requiredBy(dep)) > 0 {
			continue
		}
		_ = c.SetStatus(dep, domain.StatusAvailable)
		s.logger.Debug("released dependency",
			zap.String("addon", key),
			zap.String("dependency", dep))
	}
}

// requiredBy lists the selected or registered addons that need key.
func (s *Selection) requiredBy(key string) []string {
	c := s.session.Catalog
	var by []string
	for _, d := range c.Dependents(key) {
		if st, _ := c.Status(d); st.Anchors() {
			by = append(by, d)
		}
	}
	return by
}
