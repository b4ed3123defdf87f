package packet

import (
	"bytes"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"firestige.xyz/gltrace/internal/core"
)

// Kind is the type tag of a key-value map value.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindBool
	KindInt
	KindUint
	KindFloat
	KindString
	KindBlob
	KindDocument
)

var kindNames = [...]string{"invalid", "bool", "int", "uint", "float", "string", "blob", "document"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Value is a typed scalar, string, blob or nested map.
type Value struct {
	Kind Kind
	num  uint64
	data []byte
	doc  *KeyValueMap
}

func Bool(b bool) Value {
	v := Value{Kind: KindBool}
	if b {
		v.num = 1
	}
	return v
}

func Int(i int64) Value             { return Value{Kind: KindInt, num: uint64(i)} }
func Uint(u uint64) Value           { return Value{Kind: KindUint, num: u} }
func Float(f float64) Value         { return Value{Kind: KindFloat, num: math.Float64bits(f)} }
func String(s string) Value         { return Value{Kind: KindString, data: []byte(s)} }
func Blob(b []byte) Value           { return Value{Kind: KindBlob, data: b} }
func DocValue(m *KeyValueMap) Value { return Value{Kind: KindDocument, doc: m} }

func (v Value) AsBool() bool             { return v.num != 0 }
func (v Value) AsInt() int64             { return int64(v.num) }
func (v Value) AsUint() uint64           { return v.num }
func (v Value) AsFloat() float64         { return math.Float64frombits(v.num) }
func (v Value) AsString() string         { return string(v.data) }
func (v Value) AsBlob() []byte           { return v.data }
func (v Value) AsDocument() *KeyValueMap { return v.doc }

// Equal reports deep equality.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindString, KindBlob:
		return bytes.Equal(v.data, o.data)
	case KindDocument:
		return v.doc.Equal(o.doc)
	default:
		return v.num == o.num
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindBool:
		return fmt.Sprint(v.AsBool())
	case KindInt:
		return fmt.Sprint(v.AsInt())
	case KindUint:
		return fmt.Sprint(v.AsUint())
	case KindFloat:
		return fmt.Sprint(v.AsFloat())
	case KindString:
		return v.AsString()
	case KindBlob:
		return fmt.Sprintf("blob[%d]", len(v.data))
	case KindDocument:
		return fmt.Sprintf("document[%d]", v.doc.Len())
	}
	return "invalid"
}

// Entry is one key-value pair.
type Entry struct {
	Key   Value
	Value Value
}

// KeyValueMap is an insertion-ordered map with typed keys and values. It
// carries data a call has no parameter slot for, such as shader source text
// or an embedded snapshot.
type KeyValueMap struct {
	entries []Entry
}

func NewKeyValueMap() *KeyValueMap {
	return &KeyValueMap{}
}

// Len returns the number of entries. A nil map is empty.
func (m *KeyValueMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

// Entries returns the entries in insertion order.
func (m *KeyValueMap) Entries() []Entry {
	if m == nil {
		return nil
	}
	return m.entries
}

// SetKey inserts or replaces the value stored under key.
func (m *KeyValueMap) SetKey(key, val Value) {
	for i := range m.entries {
		if m.entries[i].Key.Equal(key) {
			m.entries[i].Value = val
			return
		}
	}
	m.entries = append(m.entries, Entry{Key: key, Value: val})
}

// GetKey returns the value stored under key.
func (m *KeyValueMap) GetKey(key Value) (Value, bool) {
	if m == nil {
		return Value{}, false
	}
	for i := range m.entries {
		if m.entries[i].Key.Equal(key) {
			return m.entries[i].Value, true
		}
	}
	return Value{}, false
}

// Set stores val under a string key.
func (m *KeyValueMap) Set(key string, val Value) {
	m.SetKey(String(key), val)
}

// Get returns the value stored under a string key.
func (m *KeyValueMap) Get(key string) (Value, bool) {
	return m.GetKey(String(key))
}

// Delete removes a string key.
func (m *KeyValueMap) Delete(key string) {
	k := String(key)
	for i := range m.entries {
		if m.entries[i].Key.Equal(k) {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			return
		}
	}
}

// Equal reports deep equality, including entry order.
func (m *KeyValueMap) Equal(o *KeyValueMap) bool {
	if m.Len() != o.Len() {
		return false
	}
	for i, e := range m.Entries() {
		oe := o.entries[i]
		if !e.Key.Equal(oe.Key) || !e.Value.Equal(oe.Value) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (m *KeyValueMap) Clone() *KeyValueMap {
	if m == nil {
		return nil
	}
	c := &KeyValueMap{entries: make([]Entry, len(m.entries))}
	for i, e := range m.entries {
		c.entries[i] = Entry{Key: e.Key.clone(), Value: e.Value.clone()}
	}
	return c
}

func (v Value) clone() Value {
	c := v
	if v.data != nil {
		c.data = append([]byte(nil), v.data...)
	}
	if v.doc != nil {
		c.doc = v.doc.Clone()
	}
	return c
}

// ─── Wire format ───────────────────────────────────────────────────────────
//
//	map   = repeated 1:entry
//	entry = 1:value(key) 2:value
//	value = 1:kind 2:varint | 3:fixed64 | 4:bytes | 5:map

const (
	fieldEntry = protowire.Number(1)

	fieldEntryKey   = protowire.Number(1)
	fieldEntryValue = protowire.Number(2)

	fieldKind    = protowire.Number(1)
	fieldVarint  = protowire.Number(2)
	fieldFixed64 = protowire.Number(3)
	fieldBytes   = protowire.Number(4)
	fieldMap     = protowire.Number(5)
)

// Marshal returns the wire form of m. An empty map marshals to nil.
func (m *KeyValueMap) Marshal() []byte {
	var b []byte
	for _, e := range m.Entries() {
		var eb []byte
		eb = protowire.AppendTag(eb, fieldEntryKey, protowire.BytesType)
		eb = protowire.AppendBytes(eb, appendValue(nil, e.Key))
		eb = protowire.AppendTag(eb, fieldEntryValue, protowire.BytesType)
		eb = protowire.AppendBytes(eb, appendValue(nil, e.Value))

		b = protowire.AppendTag(b, fieldEntry, protowire.BytesType)
		b = protowire.AppendBytes(b, eb)
	}
	return b
}

func appendValue(b []byte, v Value) []byte {
	b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(v.Kind))
	switch v.Kind {
	case KindBool, KindUint:
		b = protowire.AppendTag(b, fieldVarint, protowire.VarintType)
		b = protowire.AppendVarint(b, v.num)
	case KindInt:
		b = protowire.AppendTag(b, fieldVarint, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(v.num)))
	case KindFloat:
		b = protowire.AppendTag(b, fieldFixed64, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, v.num)
	case KindString, KindBlob:
		b = protowire.AppendTag(b, fieldBytes, protowire.BytesType)
		b = protowire.AppendBytes(b, v.data)
	case KindDocument:
		b = protowire.AppendTag(b, fieldMap, protowire.BytesType)
		b = protowire.AppendBytes(b, v.doc.Marshal())
	}
	return b
}

// UnmarshalKeyValueMap parses the wire form produced by Marshal. Every byte
// of b must be consumed.
func UnmarshalKeyValueMap(b []byte) (*KeyValueMap, error) {
	m := NewKeyValueMap()
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, kvError(n)
		}
		b = b[n:]
		if num != fieldEntry || typ != protowire.BytesType {
			return nil, fmt.Errorf("key-value map: unexpected field %d: %w", num, core.ErrMemoryLayout)
		}
		eb, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, kvError(n)
		}
		b = b[n:]
		e, err := unmarshalEntry(eb)
		if err != nil {
			return nil, err
		}
		m.entries = append(m.entries, e)
	}
	return m, nil
}

func unmarshalEntry(b []byte) (Entry, error) {
	var e Entry
	var haveKey, haveValue bool
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return e, kvError(n)
		}
		b = b[n:]
		if typ != protowire.BytesType {
			return e, fmt.Errorf("key-value entry: field %d has wire type %d: %w", num, typ, core.ErrMemoryLayout)
		}
		vb, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return e, kvError(n)
		}
		b = b[n:]
		v, err := unmarshalValue(vb)
		if err != nil {
			return e, err
		}
		switch num {
		case fieldEntryKey:
			e.Key, haveKey = v, true
		case fieldEntryValue:
			e.Value, haveValue = v, true
		default:
			return e, fmt.Errorf("key-value entry: unexpected field %d: %w", num, core.ErrMemoryLayout)
		}
	}
	if !haveKey || !haveValue {
		return e, fmt.Errorf("key-value entry missing key or value: %w", core.ErrMemoryLayout)
	}
	return e, nil
}

func unmarshalValue(b []byte) (Value, error) {
	var v Value
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return v, kvError(n)
		}
		b = b[n:]
		switch {
		case num == fieldKind && typ == protowire.VarintType:
			k, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return v, kvError(n)
			}
			b = b[n:]
			v.Kind = Kind(k)
		case num == fieldVarint && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return v, kvError(n)
			}
			b = b[n:]
			v.num = x
		case num == fieldFixed64 && typ == protowire.Fixed64Type:
			x, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return v, kvError(n)
			}
			b = b[n:]
			v.num = x
		case num == fieldBytes && typ == protowire.BytesType:
			x, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return v, kvError(n)
			}
			b = b[n:]
			v.data = append([]byte{}, x...)
		case num == fieldMap && typ == protowire.BytesType:
			x, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return v, kvError(n)
			}
			b = b[n:]
			doc, err := UnmarshalKeyValueMap(x)
			if err != nil {
				return v, err
			}
			v.doc = doc
		default:
			return v, fmt.Errorf("key-value value: unexpected field %d: %w", num, core.ErrMemoryLayout)
		}
	}
	switch v.Kind {
	case KindInt:
		v.num = uint64(protowire.DecodeZigZag(v.num))
	case KindBool, KindUint, KindFloat:
	case KindString, KindBlob:
		if v.data == nil {
			v.data = []byte{}
		}
	case KindDocument:
		if v.doc == nil {
			v.doc = NewKeyValueMap()
		}
	default:
		return v, fmt.Errorf("key-value value: kind %d: %w", v.Kind, core.ErrMemoryLayout)
	}
	return v, nil
}

func kvError(n int) error {
	return fmt.Errorf("key-value map: %v: %w", protowire.ParseError(n), core.ErrTruncated)
}
