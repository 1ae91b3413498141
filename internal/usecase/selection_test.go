package usecase

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/regsync/internal/catalog"
	"github.com/eliteGoblin/focusd/regsync/internal/domain"
)

func testAddon(id string, deps ...string) domain.Addon {
	a := domain.Addon{
		Identifier: id,
		Version:    "15",
		Arch:       "x86_64",
		Label:      id,
		Released:   true,
	}
	for _, d := range deps {
		a.Depends = append(a.Depends, domain.AddonRef{Identifier: d})
	}
	return a
}

func key(id string) string {
	return id + "-15-x86_64"
}

// newTestSelection builds: base <- sdk <- ha, base <- live, we (standalone).
func newTestSelection(t *testing.T, extra ...domain.Addon) (*Selection, *catalog.Session) {
	t.Helper()
	addons := []domain.Addon{
		testAddon("base"),
		testAddon("sdk", "base"),
		testAddon("ha", "sdk"),
		testAddon("live", "base"),
		testAddon("we"),
	}
	addons = append(addons, extra...)
	session, err := catalog.NewSessionFromAddons(addons)
	require.NoError(t, err)
	return NewSelection(session, zap.NewNop()), session
}

func statusOf(t *testing.T, s *catalog.Session, id string) domain.AddonStatus {
	t.Helper()
	st, err := s.Catalog.Status(key(id))
	require.NoError(t, err)
	return st
}

// closureInvariant checks every selected/registered addon has its
// whole dependency closure at least auto-selected.
func closureInvariant(t *testing.T, s *catalog.Session) {
	t.Helper()
	c := s.Catalog
	for _, a := range c.Addons() {
		st, _ := c.Status(a.Key())
		if !st.Anchors() {
			continue
		}
		for _, dep := range c.Dependencies(a.Key()) {
			dst, _ := c.Status(dep)
			assert.True(t, dst.AtLeastAutoSelected(), "%s needs %s, which is %s", a.Key(), dep, dst)
		}
	}
}

func TestToggle_SelectsClosure(t *testing.T) {
	sel, session := newTestSelection(t)

	require.NoError(t, sel.Toggle(key("ha")))

	assert.Equal(t, domain.StatusSelected, statusOf(t, session, "ha"))
	assert.Equal(t, domain.StatusAutoSelected, statusOf(t, session, "sdk"))
	assert.Equal(t, domain.StatusAutoSelected, statusOf(t, session, "base"))
	assert.Equal(t, domain.StatusAvailable, statusOf(t, session, "live"))
	closureInvariant(t, session)
}

func TestToggle_DirectSelectionNotDowngraded(t *testing.T) {
	sel, session := newTestSelection(t)

	require.NoError(t, sel.Toggle(key("sdk")))
	require.NoError(t, sel.Toggle(key("ha")))
	assert.Equal(t, domain.StatusSelected, statusOf(t, session, "sdk"))

	// Dropping ha keeps the user's own choice of sdk.
	require.NoError(t, sel.Toggle(key("ha")))
	assert.Equal(t, domain.StatusSelected, statusOf(t, session, "sdk"))
	assert.Equal(t, domain.StatusAutoSelected, statusOf(t, session, "base"))
	closureInvariant(t, session)
}

func TestToggle_DeselectKeepsSharedDependency(t *testing.T) {
	sel, session := newTestSelection(t)

	require.NoError(t, sel.Toggle(key("ha")))
	require.NoError(t, sel.Toggle(key("live")))
	require.NoError(t, sel.Toggle(key("ha")))

	assert.Equal(t, domain.StatusUnselected, statusOf(t, session, "ha"))
	assert.Equal(t, domain.StatusAvailable, statusOf(t, session, "sdk"))
	// live still needs base.
	assert.Equal(t, domain.StatusAutoSelected, statusOf(t, session, "base"))
	closureInvariant(t, session)
}

func TestToggle_PairRestoresState(t *testing.T) {
	sel, session := newTestSelection(t)
	require.NoError(t, sel.Toggle(key("ha")))

	before := make(map[string]domain.AddonStatus)
	for _, a := range session.Catalog.Addons() {
		before[a.Key()], _ = session.Catalog.Status(a.Key())
	}

	require.NoError(t, sel.Toggle(key("ha")))
	require.NoError(t, sel.Toggle(key("ha")))

	for k, want := range before {
		got, _ := session.Catalog.Status(k)
		assert.Equal(t, want, got, k)
	}
}

func TestToggle_Refusals(t *testing.T) {
	registered := testAddon("ltss")
	registered.Registered = true
	sel, session := newTestSelection(t, registered)

	require.NoError(t, sel.Toggle(key("ha")))

	err := sel.Toggle(key("sdk"))
	assert.ErrorIs(t, err, domain.ErrStillRequired)
	assert.Contains(t, err.Error(), key("ha"))
	assert.Equal(t, domain.StatusAutoSelected, statusOf(t, session, "sdk"))

	assert.ErrorIs(t, sel.Toggle(key("ltss")), domain.ErrAlreadyRegistered)
	assert.Equal(t, domain.StatusRegistered, statusOf(t, session, "ltss"))

	assert.ErrorIs(t, sel.Toggle("nope"), domain.ErrUnknownAddon)
}

func TestToggle_SelectedDependencyStaysWhileNeeded(t *testing.T) {
	sel, session := newTestSelection(t)

	require.NoError(t, sel.Toggle(key("sdk")))
	require.NoError(t, sel.Toggle(key("ha")))

	err := sel.Toggle(key("sdk"))
	assert.ErrorIs(t, err, domain.ErrStillRequired)
	assert.Contains(t, err.Error(), key("ha"))
	assert.Equal(t, domain.StatusSelected, statusOf(t, session, "sdk"))
	assert.Equal(t, domain.StatusSelected, statusOf(t, session, "ha"))
	closureInvariant(t, session)

	got, err := sel.Selected()
	require.NoError(t, err)
	ids := make([]string, len(got))
	for i, a := range got {
		ids[i] = a.Identifier
	}
	assert.Equal(t, []string{"base", "sdk", "ha"}, ids)

	// Once ha is gone, sdk can be dropped.
	require.NoError(t, sel.Toggle(key("ha")))
	require.NoError(t, sel.Toggle(key("sdk")))
	assert.Equal(t, domain.StatusUnselected, statusOf(t, session, "sdk"))
	assert.Equal(t, domain.StatusAvailable, statusOf(t, session, "base"))
	closureInvariant(t, session)
}

func TestPreselectRecommended(t *testing.T) {
	t.Run("selects recommended once", func(t *testing.T) {
		rec := testAddon("containers", "base")
		rec.Recommended = true
		sel, session := newTestSelection(t, rec)

		assert.True(t, sel.PreselectRecommended())
		assert.Equal(t, domain.StatusSelected, statusOf(t, session, "containers"))
		assert.Equal(t, domain.StatusAutoSelected, statusOf(t, session, "base"))

		// The user drops it; a second run must not bring it back.
		require.NoError(t, sel.Toggle(key("containers")))
		assert.False(t, sel.PreselectRecommended())
		assert.Equal(t, domain.StatusUnselected, statusOf(t, session, "containers"))
	})

	t.Run("skipped with prior selection", func(t *testing.T) {
		rec := testAddon("containers")
		rec.Recommended = true
		sel, session := newTestSelection(t, rec)

		require.NoError(t, sel.Toggle(key("we")))
		assert.False(t, sel.PreselectRecommended())
		assert.Equal(t, domain.StatusAvailable, statusOf(t, session, "containers"))
	})

	t.Run("skipped when something is registered", func(t *testing.T) {
		rec := testAddon("containers")
		rec.Recommended = true
		reg := testAddon("ltss")
		reg.Registered = true
		sel, session := newTestSelection(t, rec, reg)

		assert.False(t, sel.PreselectRecommended())
		assert.Equal(t, domain.StatusAvailable, statusOf(t, session, "containers"))
	})
}

func TestRegistrationOrder(t *testing.T) {
	sel, session := newTestSelection(t)
	c := session.Catalog

	ha, _ := c.Get(key("ha"))
	sdk, _ := c.Get(key("sdk"))
	base, _ := c.Get(key("base"))
	we, _ := c.Get(key("we"))

	got, err := sel.RegistrationOrder([]domain.Addon{we, ha, base, sdk})
	require.NoError(t, err)

	ids := make([]string, len(got))
	for i, a := range got {
		ids[i] = a.Identifier
	}
	assert.Equal(t, []string{"base", "sdk", "ha", "we"}, ids)

	_, err = sel.RegistrationOrder([]domain.Addon{testAddon("ghost")})
	assert.ErrorIs(t, err, domain.ErrUnknownAddon)
}

func TestRegistrationOrder_Cycle(t *testing.T) {
	session, err := catalog.NewSessionFromAddons([]domain.Addon{
		testAddon("a", "b"),
		testAddon("b", "a"),
		testAddon("c"),
	})
	require.NoError(t, err)
	sel := NewSelection(session, zap.NewNop())

	order, err := sel.RegistrationOrder(session.Catalog.Addons())
	assert.Nil(t, order)
	assert.ErrorIs(t, err, domain.ErrDependencyCycle)
}

func TestSelected_InRegistrationOrder(t *testing.T) {
	sel, _ := newTestSelection(t)
	require.NoError(t, sel.Toggle(key("we")))
	require.NoError(t, sel.Toggle(key("ha")))

	got, err := sel.Selected()
	require.NoError(t, err)
	ids := make([]string, len(got))
	for i, a := range got {
		ids[i] = a.Identifier
	}
	assert.Equal(t, []string{"base", "sdk", "ha", "we"}, ids)
}

func TestSupportedAddonCount(t *testing.T) {
	var addons []domain.Addon
	for i := 0; i < domain.MaxRegCodeAddons; i++ {
		addons = append(addons, testAddon(fmt.Sprintf("paid%02d", i)))
	}
	free := testAddon("free")
	free.Free = true
	addons = append(addons, free)

	session, err := catalog.NewSessionFromAddons(append(addons, testAddon("one-more")))
	require.NoError(t, err)
	sel := NewSelection(session, zap.NewNop())

	assert.NoError(t, sel.SupportedAddonCount(addons))

	for _, a := range session.Catalog.Addons() {
		if a.Identifier != "free" {
			require.NoError(t, sel.Toggle(a.Key()))
		}
	}
	selected := session.Catalog.WithStatus(domain.StatusSelected)
	require.Len(t, selected, domain.MaxRegCodeAddons+1)

	err = sel.SupportedAddonCount(selected)
	assert.ErrorIs(t, err, domain.ErrTooManyAddons)

	// Selection is untouched by the check.
	assert.Len(t, session.Catalog.WithStatus(domain.StatusSelected), domain.MaxRegCodeAddons+1)
}

func TestFilter(t *testing.T) {
	beta := testAddon("beta")
	beta.Released = false
	betaPicked := testAddon("beta-picked")
	betaPicked.Released = false
	sel, session := newTestSelection(t, beta, betaPicked)

	require.NoError(t, sel.Toggle(key("beta-picked")))
	all := session.Catalog.Addons()

	assert.Len(t, sel.Filter(all, true), len(all))

	visible := sel.Filter(all, false)
	var ids []string
	for _, a := range visible {
		ids = append(ids, a.Identifier)
	}
	assert.NotContains(t, ids, "beta")
	assert.Contains(t, ids, "beta-picked")
	assert.Len(t, visible, len(all)-1)

	// Hidden addons stay mutable.
	require.NoError(t, sel.Toggle(key("beta")))
	assert.Equal(t, domain.StatusSelected, statusOf(t, session, "beta"))
}
