// internal/loyalty/changes.go
package loyalty

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Patch is an ordered partial field map. Setting a field again moves it to
// the end, so the last field in order is the most recently edited one.
type Patch struct {
	order  []Field
	values map[Field]string
}

// NewPatch builds a patch from alternating field/value pairs.
func NewPatch(pairs ...string) Patch {
	var p Patch
	for i := 0; i+1 < len(pairs); i += 2 {
		p.Set(Field(pairs[i]), pairs[i+1])
	}
	return p
}

// Set records value for f.
func (p *Patch) Set(f Field, value string) {
	if p.values == nil {
		p.values = make(map[Field]string)
	}
	if _, ok := p.values[f]; ok {
		order := make([]Field, 0, len(p.order))
		for _, existing := range p.order {
			if existing != f {
				order = append(order, existing)
			}
		}
		p.order = order
	}
	p.order = append(p.order, f)
	p.values[f] = value
}

// Get returns the pending value for f.
func (p Patch) Get(f Field) (string, bool) {
	v, ok := p.values[f]
	return v, ok
}

// Len returns the number of fields in the patch.
func (p Patch) Len() int {
	return len(p.order)
}

// Fields returns the patched fields in edit order.
func (p Patch) Fields() []Field {
	return append([]Field(nil), p.order...)
}

// Clone returns an independent copy of p.
func (p Patch) Clone() Patch {
	out := Patch{order: p.Fields(), values: make(map[Field]string, len(p.values))}
	for k, v := range p.values {
		out.values[k] = v
	}
	return out
}

// Overlay returns rec with every patched field applied.
func (p Patch) Overlay(rec ProgramRecord) ProgramRecord {
	out := rec.Clone()
	for _, f := range p.order {
		out = out.With(f, p.values[f])
	}
	return out
}

// MarshalJSON encodes the patch in the wire shape accepted by the program
// update endpoint: fixed fields at the top level, current_balance as a
// number and custom fields nested under "custom_fields".
func (p Patch) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	writeKV := func(k string, raw []byte) {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		kb, _ := json.Marshal(k)
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(raw)
	}

	var custom []Field
	for _, f := range p.order {
		if _, ok := f.Custom(); ok {
			custom = append(custom, f)
			continue
		}
		v := p.values[f]
		if f.Numeric() {
			n, _ := CoerceInt(v)
			writeKV(string(f), []byte(strconv.FormatInt(n, 10)))
			continue
		}
		vb, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		writeKV(string(f), vb)
	}

	if len(custom) > 0 {
		var inner bytes.Buffer
		inner.WriteByte('{')
		for i, f := range custom {
			if i > 0 {
				inner.WriteByte(',')
			}
			name, _ := f.Custom()
			kb, _ := json.Marshal(name)
			vb, _ := json.Marshal(p.values[f])
			inner.Write(kb)
			inner.WriteByte(':')
			inner.Write(vb)
		}
		inner.WriteByte('}')
		writeKV("custom_fields", inner.Bytes())
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes the wire shape produced by MarshalJSON, preserving
// key order. null values decode as Empty.
func (p *Patch) UnmarshalJSON(data []byte) error {
	pairs, err := decodeOrdered(data)
	if err != nil {
		return err
	}
	*p = Patch{}
	for _, kv := range pairs {
		if kv.key == "custom_fields" {
			inner, err := decodeOrdered(kv.raw)
			if err != nil {
				return fmt.Errorf("custom_fields: %w", err)
			}
			for _, ckv := range inner {
				v, err := rawString(ckv.raw)
				if err != nil {
					return fmt.Errorf("custom_fields.%s: %w", ckv.key, err)
				}
				f := CustomField(ckv.key)
				if err := f.Validate(); err != nil {
					return err
				}
				p.Set(f, v)
			}
			continue
		}
		f := Field(kv.key)
		if err := f.Validate(); err != nil {
			return err
		}
		v, err := rawString(kv.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", kv.key, err)
		}
		p.Set(f, v)
	}
	return nil
}

type rawPair struct {
	key string
	raw json.RawMessage
}

func decodeOrdered(data []byte) ([]rawPair, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected JSON object")
	}
	var out []rawPair
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := tok.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
		out = append(out, rawPair{key: key, raw: raw})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return out, nil
}

func rawString(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Empty, nil
	}
	switch trimmed[0] {
	case '"':
		var s string
		err := json.Unmarshal(trimmed, &s)
		return s, err
	case '{', '[':
		return "", fmt.Errorf("expected string or number")
	default:
		return string(trimmed), nil
	}
}

// Change is one field transition between the stored record and a patch.
type Change struct {
	Field Field  `json:"field"`
	Old   string `json:"old_value"`
	New   string `json:"new_value"`
}

// Changes is an ordered diff; the last element is the most recent edit.
type Changes []Change

// Diff compares p against the stored record field by field. Numeric values
// are normalized before comparison; fields whose final value equals the
// stored value are dropped even if they were touched.
func Diff(stored ProgramRecord, p Patch) Changes {
	var out Changes
	for _, f := range p.order {
		v, _ := Normalize(f, p.values[f])
		old := stored.Value(f)
		if old == v {
			continue
		}
		out = append(out, Change{Field: f, Old: old, New: v})
	}
	return out
}

// Patch converts the diff back into a patch carrying only the new values.
func (c Changes) Patch() Patch {
	var p Patch
	for _, ch := range c {
		p.Set(ch.Field, ch.New)
	}
	return p
}

// Summary describes the most recent change for ProgramRecord.LastChange.
func (c Changes) Summary() string {
	if len(c) == 0 {
		return ""
	}
	last := c[len(c)-1]
	return fmt.Sprintf("%s: %s → %s",
		last.Field.Label(),
		dashIfEmpty(DisplayValue(last.Field, last.Old)),
		dashIfEmpty(DisplayValue(last.Field, last.New)))
}

func dashIfEmpty(s string) string {
	if s == Empty {
		return "—"
	}
	return s
}

// Apply returns r with the diff applied and its bookkeeping fields set.
// Version is left for the caller, which owns the concurrency token.
func (r ProgramRecord) Apply(c Changes, at time.Time) ProgramRecord {
	out := r.Clone()
	for _, ch := range c {
		out = out.With(ch.Field, ch.New)
	}
	if len(c) > 0 {
		out.LastUpdated = at
		out.LastChange = c.Summary()
	}
	return out
}

// Project turns a confirmed diff into audit rows, one per changed field,
// all sharing the save instant at. Values are captured as stored strings.
func Project(member Member, company Company, c Changes, at time.Time) []LogEntry {
	entries := make([]LogEntry, 0, len(c))
	for _, ch := range c {
		entries = append(entries, LogEntry{
			ID:           uuid.NewString(),
			MemberID:     member.ID,
			MemberName:   member.Name,
			CompanyID:    company.ID,
			CompanyName:  company.Name,
			FieldChanged: string(ch.Field),
			OldValue:     ch.Old,
			NewValue:     ch.New,
			ChangeType:   ChangeUpdate,
			Timestamp:    at,
		})
	}
	return entries
}

// SortLog orders entries oldest first; entries sharing a timestamp keep
// their relative order.
func SortLog(entries []LogEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
