// internal/loyalty/changes_test.go
package loyalty

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatchSetMovesFieldToEnd(t *testing.T) {
	p := NewPatch("login", "a", "notes", "b")
	p.Set(FieldLogin, "c")

	assert.Equal(t, []Field{FieldNotes, FieldLogin}, p.Fields())
	v, ok := p.Get(FieldLogin)
	assert.True(t, ok)
	assert.Equal(t, "c", v)
}

func TestDiffDropsUnchangedFields(t *testing.T) {
	stored := ProgramRecord{Login: "a1", Notes: "b1", CurrentBalance: 1000}
	p := NewPatch("login", "a1", "notes", "b2", "current_balance", "1000")

	changes := Diff(stored, p)

	require.Len(t, changes, 1)
	assert.Equal(t, Change{Field: FieldNotes, Old: "b1", New: "b2"}, changes[0])
}

func TestDiffCoercesNumericInput(t *testing.T) {
	stored := ProgramRecord{CurrentBalance: 1000}

	changes := Diff(stored, NewPatch("current_balance", "abc"))

	require.Len(t, changes, 1)
	assert.Equal(t, "0", changes[0].New)
}

func TestApplySetsBookkeeping(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	stored := ProgramRecord{CurrentBalance: 1000, EliteTier: "Gold", Version: 3}
	changes := Diff(stored, NewPatch("elite_tier", "", "current_balance", "1500"))

	updated := stored.Apply(changes, at)

	assert.Equal(t, int64(1500), updated.CurrentBalance)
	assert.Equal(t, "", updated.EliteTier)
	assert.Equal(t, at, updated.LastUpdated)
	assert.Equal(t, "Saldo: 1.000 → 1.500", updated.LastChange)
	assert.Equal(t, 3, updated.Version)
}

func TestProjectOneEntryPerChange(t *testing.T) {
	at := time.Now().UTC()
	m := Member{ID: "m1", Name: "Osvandré"}
	c := Company{ID: "c1", Name: "LATAM Pass"}
	changes := Changes{
		{Field: FieldCurrentBalance, Old: "1000", New: "1500"},
		{Field: FieldEliteTier, Old: "Gold", New: ""},
	}

	entries := Project(m, c, changes, at)

	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.NotEmpty(t, e.ID)
		assert.Equal(t, "Osvandré", e.MemberName)
		assert.Equal(t, "LATAM Pass", e.CompanyName)
		assert.Equal(t, at, e.Timestamp)
		assert.Equal(t, ChangeUpdate, e.ChangeType)
	}
	assert.Equal(t, "current_balance", entries[0].FieldChanged)
	assert.Equal(t, "1000", entries[0].OldValue)
	assert.Equal(t, "1500", entries[0].NewValue)
	assert.Equal(t, "Gold", entries[1].OldValue)
	assert.Equal(t, "", entries[1].NewValue)
}

func TestPatchJSONWireShape(t *testing.T) {
	p := NewPatch("current_balance", "1500", "login", "user2")
	p.Set(CustomField("seat"), "Aisle")

	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"current_balance":1500,"login":"user2","custom_fields":{"seat":"Aisle"}}`, string(data))

	var decoded Patch
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, []Field{FieldCurrentBalance, FieldLogin, CustomField("seat")}, decoded.Fields())
	v, _ := decoded.Get(FieldCurrentBalance)
	assert.Equal(t, "1500", v)
}

func TestPatchJSONNullClears(t *testing.T) {
	var p Patch
	require.NoError(t, json.Unmarshal([]byte(`{"notes":null,"custom_fields":{"old":null}}`), &p))

	v, ok := p.Get(FieldNotes)
	assert.True(t, ok)
	assert.Equal(t, Empty, v)
	v, ok = p.Get(CustomField("old"))
	assert.True(t, ok)
	assert.Equal(t, Empty, v)
}

func TestPatchJSONRejectsUnknownField(t *testing.T) {
	var p Patch
	err := json.Unmarshal([]byte(`{"last_updated":"2024-01-01"}`), &p)
	assert.ErrorIs(t, err, ErrUnknownField)
}

func TestSortLogIsStable(t *testing.T) {
	t0 := time.Now()
	entries := []LogEntry{
		{ID: "c", Timestamp: t0.Add(time.Second)},
		{ID: "a", Timestamp: t0},
		{ID: "b", Timestamp: t0},
	}
	SortLog(entries)
	assert.Equal(t, "a", entries[0].ID)
	assert.Equal(t, "b", entries[1].ID)
	assert.Equal(t, "c", entries[2].ID)
}
