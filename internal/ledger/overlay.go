package ledger

import (
	"context"
	"sort"
)

// Overlay buffers writes over a base State so a transaction can be applied
// and then either flushed whole or discarded.
type Overlay struct {
	base   State
	writes map[Key][]byte
}

func NewOverlay(base State) *Overlay {
	return &Overlay{base: base, writes: make(map[Key][]byte)}
}

func (o *Overlay) Get(ctx context.Context, key Key) ([]byte, error) {
	if v, ok := o.writes[key]; ok {
		return append([]byte(nil), v...), nil
	}
	return o.base.Get(ctx, key)
}

func (o *Overlay) Put(_ context.Context, key Key, value []byte) error {
	o.writes[key] = append([]byte(nil), value...)
	return nil
}

// Write is one buffered key/value pair.
type Write struct {
	Key   Key
	Value []byte
}

// Writes returns the buffered writes sorted by key, so every backend flushes
// in the same order.
func (o *Overlay) Writes() []Write {
	out := make([]Write, 0, len(o.writes))
	for k, v := range o.writes {
		out = append(out, Write{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Keys returns the written keys in flush order.
func (o *Overlay) Keys() []Key {
	writes := o.Writes()
	keys := make([]Key, len(writes))
	for i, w := range writes {
		keys[i] = w.Key
	}
	return keys
}
