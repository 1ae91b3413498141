package tasklist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/focusd/regsync/internal/domain"
)

func TestDecode_PreservesOrder(t *testing.T) {
	doc := []byte(`
zeta:
  type: managed-source
  action: add
  url: https://x/zeta
alpha:
  type: legacy-source
  action: d
mid:
  type: managed-source
  action: le
  catalogs:
    updates: {action: a}
    debug: {action: ld}
    pool: {action: delete}
`)

	tasks, err := Decode(doc)
	require.NoError(t, err)
	require.Len(t, tasks, 3)

	assert.Equal(t, "zeta", tasks[0].Target)
	assert.Equal(t, domain.SourceManaged, tasks[0].Type)
	assert.Equal(t, domain.ActionAdd, tasks[0].Action)
	assert.Equal(t, "https://x/zeta", tasks[0].URL)
	assert.Empty(t, tasks[0].Issues)
	assert.NoError(t, tasks[0].Validate())

	assert.Equal(t, "alpha", tasks[1].Target)
	assert.Equal(t, domain.SourceLegacy, tasks[1].Type)
	assert.Equal(t, domain.ActionDelete, tasks[1].Action)

	mid := tasks[2]
	assert.Equal(t, domain.ActionLeaveEnabled, mid.Action)
	require.Len(t, mid.Catalogs, 3)
	var aliases []string
	for _, c := range mid.Catalogs {
		aliases = append(aliases, c.Target)
		assert.Equal(t, domain.KindCatalog, c.Kind)
	}
	assert.Equal(t, []string{"updates", "debug", "pool"}, aliases)
	assert.Equal(t, domain.ActionAdd, mid.Catalogs[0].Action)
	assert.Equal(t, domain.ActionLeaveDisabled, mid.Catalogs[1].Action)
	assert.Equal(t, domain.ActionDelete, mid.Catalogs[2].Action)
}

func TestDecode_JSON(t *testing.T) {
	tasks, err := Decode([]byte(`{"svc-a": {"type": "managed-source", "action": "add", "url": "https://x/y"}}`))
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "svc-a", tasks[0].Target)
	assert.NoError(t, tasks[0].Validate())
}

func TestDecode_MalformedEntriesKept(t *testing.T) {
	doc := []byte(`
no-action:
  type: managed-source
not-a-map: just text
bad-catalog:
  type: managed-source
  action: le
  catalogs:
    updates: {}
unknown-type:
  type: ftp-source
  action: add
  url: https://x
fine:
  type: managed-source
  action: a
  url: https://x/fine
`)

	tasks, err := Decode(doc)
	require.NoError(t, err)
	require.Len(t, tasks, 5)

	tests := []struct {
		target     string
		wantIssues bool
	}{
		{"no-action", true},
		{"not-a-map", true},
		{"bad-catalog", true},
		{"unknown-type", false},
		{"fine", false},
	}
	for i, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			task := tasks[i]
			assert.Equal(t, tt.target, task.Target)
			if tt.wantIssues {
				assert.NotEmpty(t, task.Issues)
				assert.ErrorIs(t, task.Validate(), domain.ErrMalformedTask)
			} else {
				assert.Empty(t, task.Issues)
			}
		})
	}

	// Unknown types pass the shape check but keep the raw text.
	assert.Equal(t, domain.SourceUnknown, tasks[3].Type)
	assert.Equal(t, "ftp-source", tasks[3].RawType)
	assert.ErrorIs(t, tasks[3].Validate(), domain.ErrMalformedTask)
	assert.NoError(t, tasks[4].Validate())
}

func TestDecode_Document(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantLen int
		wantErr bool
	}{
		{"empty", "", 0, false},
		{"null", "~", 0, false},
		{"empty mapping", "{}", 0, false},
		{"sequence", "- a\n- b\n", 0, true},
		{"scalar", "hello", 0, true},
		{"broken yaml", "a: [b", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tasks, err := Decode([]byte(tt.data))
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrMalformedTask)
				return
			}
			require.NoError(t, err)
			assert.Len(t, tasks, tt.wantLen)
		})
	}
}
