// Package symbols holds the static instrument table that translates
// broker-neutral symbols to cTrader symbol ids and back.
package symbols

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	apperrors "ctrader_gateway/internal/errors"
	"ctrader_gateway/internal/logger"
)

// Entry is one row of the mapping file.
type Entry struct {
	Symbol      string   `json:"symbol" yaml:"-"`
	CTraderID   int64    `json:"cTraderId" yaml:"cTraderId"`
	TickValue   *float64 `json:"tickValue,omitempty" yaml:"tickValue"`
	PipPosition *int     `json:"pipPosition,omitempty" yaml:"pipPosition"`
	Digits      *int     `json:"digits,omitempty" yaml:"digits"`
	Description string   `json:"description,omitempty" yaml:"description"`
}

// Table is immutable after construction and safe for concurrent reads.
type Table struct {
	order     []string
	byNeutral map[string]Entry
	byVendor  map[int64]Entry
}

// New builds a table from entries in the given order.
func New(entries []Entry) (*Table, error) {
	t := &Table{
		order:     make([]string, 0, len(entries)),
		byNeutral: make(map[string]Entry, len(entries)),
		byVendor:  make(map[int64]Entry, len(entries)),
	}
	for _, e := range entries {
		if e.Symbol == "" {
			return nil, fmt.Errorf("entry with cTraderId %d has no symbol", e.CTraderID)
		}
		if _, dup := t.byNeutral[e.Symbol]; dup {
			return nil, fmt.Errorf("duplicate symbol %q", e.Symbol)
		}
		if other, dup := t.byVendor[e.CTraderID]; dup {
			return nil, fmt.Errorf("cTraderId %d used by both %q and %q", e.CTraderID, other.Symbol, e.Symbol)
		}
		t.order = append(t.order, e.Symbol)
		t.byNeutral[e.Symbol] = e
		t.byVendor[e.CTraderID] = e
	}
	return t, nil
}

// Empty returns a table with no symbols.
func Empty() *Table {
	t, _ := New(nil)
	return t
}

// Load parses a mapping file of the form {"symbolMapping": {"EURUSD": {...}}}.
// JSON and YAML are both accepted. File order is preserved.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrConfig, "reading symbol mapping", err)
	}
	return Parse(data)
}

// Parse is Load on an in-memory document.
func Parse(data []byte) (*Table, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrConfig, "parsing symbol mapping", err)
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, apperrors.New(apperrors.ErrConfig, "symbol mapping must be an object")
	}

	mapping := lookup(doc.Content[0], "symbolMapping")
	if mapping == nil {
		return nil, apperrors.New(apperrors.ErrConfig, "symbol mapping has no symbolMapping key")
	}
	if mapping.Kind != yaml.MappingNode {
		return nil, apperrors.New(apperrors.ErrConfig, "symbolMapping must be an object")
	}

	entries := make([]Entry, 0, len(mapping.Content)/2)
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		var e Entry
		if err := mapping.Content[i+1].Decode(&e); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrConfig, fmt.Sprintf("decoding %s", mapping.Content[i].Value), err)
		}
		e.Symbol = mapping.Content[i].Value
		entries = append(entries, e)
	}

	t, err := New(entries)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrConfig, "building symbol table", err)
	}
	return t, nil
}

// Open loads path. When strict is false a missing or malformed file is logged
// and an empty table is returned so the process can still start.
func Open(ctx context.Context, path string, strict bool) (*Table, error) {
	t, err := Load(path)
	if err == nil {
		logger.Info(ctx, "symbol mapping loaded", "path", path, "symbols", t.Len())
		return t, nil
	}
	if strict {
		return nil, err
	}
	logger.ErrorWithErr(ctx, "symbol mapping unavailable, continuing with empty table", err, "path", path)
	return Empty(), nil
}

func lookup(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

// ToVendor returns the entry for a neutral symbol.
func (t *Table) ToVendor(symbol string) (Entry, bool) {
	e, ok := t.byNeutral[symbol]
	return e, ok
}

// ToNeutral returns the neutral symbol for a cTrader symbol id.
func (t *Table) ToNeutral(id int64) (string, bool) {
	e, ok := t.byVendor[id]
	return e.Symbol, ok
}

// ByVendorID returns the entry for a cTrader symbol id.
func (t *Table) ByVendorID(id int64) (Entry, bool) {
	e, ok := t.byVendor[id]
	return e, ok
}

// All returns the neutral symbols in file order.
func (t *Table) All() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Len returns the number of symbols.
func (t *Table) Len() int {
	return len(t.order)
}
