package gen

import (
	"encoding/json"
	"slices"
	"strings"
)

// Accumulator reassembles fragmented tool-call descriptions delivered over a
// stream. Fragments referencing the same slot index belong to one call; the
// id and function name arrive on whichever fragment carries them, and
// argument text is concatenated in delivery order.
//
// Slots materialize lazily on first reference; gaps in the index space never
// create slots. Not safe for concurrent use; one accumulator belongs to one
// streaming turn.
type Accumulator struct {
	slots map[int]*slot
}

type slot struct {
	index int
	id    string
	name  string
	args  strings.Builder
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{slots: make(map[int]*slot)}
}

// Ingest merges one fragment into its slot, allocating the slot on first
// sight of the index. Argument text is appended, never replaced.
func (a *Accumulator) Ingest(f *ToolFragment) {
	s, ok := a.slots[f.Index]
	if !ok {
		s = &slot{index: f.Index}
		a.slots[f.Index] = s
	}
	if f.ID != "" {
		s.id = f.ID
	}
	if f.Name != "" {
		s.name = f.Name
	}
	s.args.WriteString(f.Arguments)
}

// Len reports the number of materialized slots.
func (a *Accumulator) Len() int {
	return len(a.slots)
}

// Invocation is a finalized tool call. When the accumulated argument text
// failed to parse as a JSON object, Err is set and Args is nil; the call is
// still reported so the caller can record the failure.
type Invocation struct {
	Index     int
	ID        string
	Name      string
	Arguments string
	Args      map[string]any
	Err       error
}

// Finalize returns all materialized slots ordered by ascending index, each
// with its argument buffer parsed. Call only after the stream has ended.
func (a *Accumulator) Finalize() []*Invocation {
	out := make([]*Invocation, 0, len(a.slots))
	for _, s := range a.slots {
		inv := &Invocation{
			Index:     s.index,
			ID:        s.id,
			Name:      s.name,
			Arguments: s.args.String(),
		}
		if inv.ID == "" {
			inv.ID = "call_" + hexString()
		}
		var args map[string]any
		if err := unmarshalJSON([]byte(inv.Arguments), &args); err != nil {
			inv.Err = err
		} else {
			inv.Args = args
		}
		out = append(out, inv)
	}
	slices.SortFunc(out, func(x, y *Invocation) int { return x.Index - y.Index })
	return out
}

// StringArg extracts a string-valued argument from a finalized invocation.
func (inv *Invocation) StringArg(key string) string {
	if v, ok := inv.Args[key].(string); ok {
		return v
	}
	return ""
}

// MarshalArgs re-encodes the parsed arguments, falling back to the raw
// buffer when parsing failed.
func (inv *Invocation) MarshalArgs() string {
	if inv.Args == nil {
		return inv.Arguments
	}
	b, err := json.Marshal(inv.Args)
	if err != nil {
		return inv.Arguments
	}
	return string(b)
}
