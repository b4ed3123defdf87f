package packet

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"firestige.xyz/gltrace/internal/core"
	"firestige.xyz/gltrace/internal/ctype"
	"firestige.xyz/gltrace/internal/entrypoint"
	"firestige.xyz/gltrace/internal/log"
)

// BlobStore is the content-addressed store large blobs are externalized to.
type BlobStore interface {
	Put(data []byte, hint string) (string, error)
	Get(id string) ([]byte, error)
}

// Document is the JSON projection of one call.
type Document struct {
	Func         string                     `json:"func"`
	ThreadID     uint64                     `json:"thread_id"`
	Context      uint64                     `json:"context"`
	CallCounter  uint64                     `json:"call_counter"`
	Params       map[string]json.RawMessage `json:"params"`
	Return       json.RawMessage            `json:"return,omitempty"`
	NameValueMap []EntryDocument            `json:"name_value_map,omitempty"`
	Debug        *DebugDocument             `json:"debug,omitempty"`
}

// DebugDocument carries the timestamps and backtrace index.
type DebugDocument struct {
	PacketBegin uint64 `json:"packet_begin"`
	CallBegin   uint64 `json:"call_begin"`
	CallEnd     uint64 `json:"call_end"`
	PacketEnd   uint64 `json:"packet_end"`
	Backtrace   uint32 `json:"backtrace,omitempty"`
}

// EntryDocument is one key-value map entry. Key and Value are tagged by kind,
// e.g. {"string":"win_width"} and {"int":640}.
type EntryDocument struct {
	Key   json.RawMessage `json:"key"`
	Value json.RawMessage `json:"value"`
}

// MemoryDocument is the projection of a pointer slot.
type MemoryDocument struct {
	Ptr     string            `json:"ptr"`
	MemSize *int              `json:"mem_size,omitempty"`
	CRC     *uint32           `json:"crc,omitempty"`
	Values  []json.RawMessage `json:"values,omitempty"`
	Bytes   *string           `json:"bytes,omitempty"`
	BlobID  string            `json:"blob_id,omitempty"`
}

// Projector converts packets to and from their JSON projection.
type Projector struct {
	calls     *entrypoint.Registry
	blobs     BlobStore
	threshold int
}

// NewProjector creates a projector. Blobs larger than threshold bytes, and
// every blob of a large-payload call, go to blobs. A nil store keeps all
// blobs inline.
func NewProjector(calls *entrypoint.Registry, blobs BlobStore, threshold int) *Projector {
	return &Projector{calls: calls, blobs: blobs, threshold: threshold}
}

// Marshal renders p as one line of JSON.
func (pr *Projector) Marshal(p *Packet) ([]byte, error) {
	doc, err := pr.ToDocument(p)
	if err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

// Unmarshal parses a JSON call document back into a packet.
func (pr *Projector) Unmarshal(b []byte) (*Packet, error) {
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("%v: %w", err, core.ErrBadDocument)
	}
	return pr.FromDocument(&doc)
}

// ToDocument projects p.
func (pr *Projector) ToDocument(p *Packet) (*Document, error) {
	if p.Desc == nil {
		d, err := pr.calls.Get(p.CallID)
		if err != nil {
			return nil, err
		}
		p.Desc = d
	}
	desc := p.Desc
	doc := &Document{
		Func:        desc.Name,
		ThreadID:    p.ThreadID,
		Context:     p.Context,
		CallCounter: p.CallCounter,
		Params:      make(map[string]json.RawMessage, len(desc.Params)),
		Debug: &DebugDocument{
			PacketBegin: p.PacketBegin,
			CallBegin:   p.CallBegin,
			CallEnd:     p.CallEnd,
			PacketEnd:   p.PacketEnd,
			Backtrace:   p.BacktraceHash,
		},
	}
	large := desc.Flags.Has(entrypoint.FlagLargePayload)
	for i := range p.Params {
		raw, err := pr.slotToJSON(p, i, large)
		if err != nil {
			return nil, err
		}
		if i < len(desc.Params) {
			doc.Params[desc.Params[i].Name] = raw
		} else {
			doc.Return = raw
		}
	}
	for _, e := range p.KV.Entries() {
		k, err := pr.valueToJSON(e.Key, desc.Name, false)
		if err != nil {
			return nil, err
		}
		v, err := pr.valueToJSON(e.Value, desc.Name, large)
		if err != nil {
			return nil, err
		}
		doc.NameValueMap = append(doc.NameValueMap, EntryDocument{Key: k, Value: v})
	}
	return doc, nil
}

// FromDocument rebuilds a packet from doc. Externalized blobs are resolved
// through the blob store; a checksum mismatch is logged and the data kept.
func (pr *Projector) FromDocument(doc *Document) (*Packet, error) {
	desc := pr.calls.ByName(doc.Func)
	if desc == nil {
		return nil, fmt.Errorf("call %q: %w", doc.Func, core.ErrUnknownCall)
	}
	p := NewPacket(desc)
	p.ThreadID = doc.ThreadID
	p.Context = doc.Context
	p.CallCounter = doc.CallCounter
	if doc.Debug != nil {
		p.PacketBegin = doc.Debug.PacketBegin
		p.CallBegin = doc.Debug.CallBegin
		p.CallEnd = doc.Debug.CallEnd
		p.PacketEnd = doc.Debug.PacketEnd
		p.BacktraceHash = doc.Debug.Backtrace
	}

	if len(doc.Params) != len(desc.Params) {
		return nil, fmt.Errorf("%s: %d params in document, descriptor has %d: %w", desc.Name, len(doc.Params), len(desc.Params), core.ErrParamCount)
	}
	for i := range p.Params {
		var raw json.RawMessage
		if i < len(desc.Params) {
			r, ok := doc.Params[desc.Params[i].Name]
			if !ok {
				return nil, fmt.Errorf("%s: missing param %q: %w", desc.Name, desc.Params[i].Name, core.ErrParamCount)
			}
			raw = r
		} else {
			if len(doc.Return) == 0 {
				return nil, fmt.Errorf("%s: missing return value: %w", desc.Name, core.ErrParamCount)
			}
			raw = doc.Return
		}
		if err := pr.slotFromJSON(p, i, raw); err != nil {
			return nil, err
		}
	}

	for _, e := range doc.NameValueMap {
		k, err := pr.valueFromJSON(e.Key, desc.Name)
		if err != nil {
			return nil, err
		}
		v, err := pr.valueFromJSON(e.Value, desc.Name)
		if err != nil {
			return nil, err
		}
		p.KVMap().SetKey(k, v)
	}
	return p, nil
}

// ─── Parameter slots ───────────────────────────────────────────────────────

func (pr *Projector) slotToJSON(p *Packet, i int, large bool) (json.RawMessage, error) {
	t := p.Params[i].Type
	v := p.Params[i].Value
	if !t.IsPointer {
		return pr.scalarToJSON(t, v), nil
	}

	md := MemoryDocument{Ptr: hexString(v, 0)}
	data, ok := p.MemoryFor(i)
	if !ok {
		return json.Marshal(md)
	}
	size := len(data)
	sum := checksum(data)
	md.MemSize = &size
	md.CRC = &sum

	pointee := pr.calls.Ctypes().Lookup(t.Pointee)
	switch {
	case pr.externalize(len(data), large):
		id, err := pr.blobs.Put(data, p.Name()+"_"+p.Desc.SlotName(i))
		if err != nil {
			return nil, fmt.Errorf("%s: externalize %q: %w", p.Name(), p.Desc.SlotName(i), err)
		}
		md.BlobID = id
	case pointee == nil || pointee.IsOpaque || pointee.Size <= 1:
		s := hex.EncodeToString(data)
		md.Bytes = &s
	default:
		n := len(data) / pointee.Size
		md.Values = make([]json.RawMessage, 0, n)
		for k := 0; k < n; k++ {
			md.Values = append(md.Values, pr.scalarToJSON(pointee, readElem(data[k*pointee.Size:], pointee.Size)))
		}
	}
	return json.Marshal(md)
}

func (pr *Projector) slotFromJSON(p *Packet, i int, raw json.RawMessage) error {
	t := p.Params[i].Type
	name := p.Desc.SlotName(i)
	if !t.IsPointer {
		v, err := pr.scalarFromJSON(t, raw)
		if err != nil {
			return fmt.Errorf("%s: param %q: %w", p.Name(), name, err)
		}
		p.SetValue(i, v)
		return nil
	}

	var md MemoryDocument
	if err := json.Unmarshal(raw, &md); err != nil {
		return fmt.Errorf("%s: param %q: %v: %w", p.Name(), name, err, core.ErrBadDocument)
	}
	ptr, err := parseHex(md.Ptr)
	if err != nil {
		return fmt.Errorf("%s: param %q ptr: %w", p.Name(), name, err)
	}
	p.SetValue(i, ptr)

	var data []byte
	switch {
	case md.BlobID != "":
		if pr.blobs == nil {
			return fmt.Errorf("%s: param %q blob %s without a store: %w", p.Name(), name, md.BlobID, core.ErrBlobNotFound)
		}
		data, err = pr.blobs.Get(md.BlobID)
		if err != nil {
			return fmt.Errorf("%s: param %q: %w", p.Name(), name, err)
		}
	case md.Bytes != nil:
		data, err = hex.DecodeString(*md.Bytes)
		if err != nil {
			return fmt.Errorf("%s: param %q bytes: %v: %w", p.Name(), name, err, core.ErrBadDocument)
		}
	case md.Values != nil:
		pointee := pr.calls.Ctypes().Lookup(t.Pointee)
		if pointee == nil || pointee.IsOpaque || pointee.Size == 0 {
			return fmt.Errorf("%s: param %q has values for untyped memory: %w", p.Name(), name, core.ErrBadDocument)
		}
		data = make([]byte, 0, len(md.Values)*pointee.Size)
		for _, rv := range md.Values {
			v, err := pr.scalarFromJSON(pointee, rv)
			if err != nil {
				return fmt.Errorf("%s: param %q: %w", p.Name(), name, err)
			}
			data = appendElem(data, v, pointee.Size)
		}
	case md.MemSize != nil:
		data = []byte{}
	default:
		return nil
	}

	if md.CRC != nil {
		if sum := checksum(data); sum != *md.CRC {
			log.GetLogger().WithFields(map[string]interface{}{
				"call":         p.Name(),
				"call_counter": p.CallCounter,
				"param":        name,
			}).Warnf("client memory crc 0x%08X, document says 0x%08X", sum, *md.CRC)
		}
	}
	p.SetMemory(i, data)
	return nil
}

func (pr *Projector) externalize(size int, large bool) bool {
	if pr.blobs == nil || size == 0 {
		return false
	}
	return large || size > pr.threshold
}

// ─── Scalars ───────────────────────────────────────────────────────────────

func (pr *Projector) scalarToJSON(t *ctype.WireType, v uint64) json.RawMessage {
	switch {
	case t.IsFloat:
		return floatToJSON(v, t.Size)
	case t.Name == "GLenum" && v != 0:
		if name, ok := pr.calls.Enums().Name(uint32(v)); ok {
			return quote(name)
		}
		return json.RawMessage(strconv.FormatUint(v, 10))
	case t.IsSigned:
		return json.RawMessage(strconv.FormatInt(Param{Type: t, Value: v}.Int(), 10))
	default:
		return json.RawMessage(strconv.FormatUint(v, 10))
	}
}

func (pr *Projector) scalarFromJSON(t *ctype.WireType, raw json.RawMessage) (uint64, error) {
	text := strings.TrimSpace(string(raw))
	if strings.HasPrefix(text, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("%v: %w", err, core.ErrBadDocument)
		}
		if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
			return parseHex(s)
		}
		if v, ok := pr.calls.Enums().Value(s); ok {
			return uint64(v), nil
		}
		return 0, fmt.Errorf("unknown enum %q: %w", s, core.ErrBadDocument)
	}
	switch {
	case t.IsFloat:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return 0, fmt.Errorf("%v: %w", err, core.ErrBadDocument)
		}
		if t.Size == 4 {
			return uint64(math.Float32bits(float32(f))), nil
		}
		return math.Float64bits(f), nil
	case t.IsSigned:
		i, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%v: %w", err, core.ErrBadDocument)
		}
		return truncate(uint64(i), t.Size), nil
	default:
		u, err := strconv.ParseUint(text, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%v: %w", err, core.ErrBadDocument)
		}
		return u, nil
	}
}

// floatToJSON emits a number when its text form parses back to the same bits
// and a fixed-width hex string otherwise.
func floatToJSON(bits uint64, size int) json.RawMessage {
	if size == 4 {
		f := float64(math.Float32frombits(uint32(bits)))
		if !math.IsNaN(f) && !math.IsInf(f, 0) {
			s := strconv.FormatFloat(f, 'g', -1, 32)
			if back, err := strconv.ParseFloat(s, 32); err == nil && math.Float32bits(float32(back)) == uint32(bits) {
				return json.RawMessage(s)
			}
		}
		return quote(fmt.Sprintf("0x%08X", uint32(bits)))
	}
	f := math.Float64frombits(bits)
	if !math.IsNaN(f) && !math.IsInf(f, 0) {
		s := strconv.FormatFloat(f, 'g', -1, 64)
		if back, err := strconv.ParseFloat(s, 64); err == nil && math.Float64bits(back) == bits {
			return json.RawMessage(s)
		}
	}
	return quote(fmt.Sprintf("0x%016X", bits))
}

// ─── Key-value entries ─────────────────────────────────────────────────────

func (pr *Projector) valueToJSON(v Value, call string, large bool) (json.RawMessage, error) {
	var inner json.RawMessage
	tag := v.Kind.String()
	switch v.Kind {
	case KindBool:
		inner = json.RawMessage(strconv.FormatBool(v.AsBool()))
	case KindInt:
		inner = json.RawMessage(strconv.FormatInt(v.AsInt(), 10))
	case KindUint:
		inner = json.RawMessage(strconv.FormatUint(v.AsUint(), 10))
	case KindFloat:
		inner = floatToJSON(v.num, 8)
	case KindString:
		inner = quote(v.AsString())
	case KindBlob:
		if pr.externalize(len(v.data), large) {
			id, err := pr.blobs.Put(v.data, call+"_kv")
			if err != nil {
				return nil, fmt.Errorf("%s: externalize key-value blob: %w", call, err)
			}
			return json.Marshal(map[string]interface{}{"blob_id": id, "crc": checksum(v.data)})
		}
		inner = quote(hex.EncodeToString(v.data))
	case KindDocument:
		entries := make([]EntryDocument, 0, v.doc.Len())
		for _, e := range v.doc.Entries() {
			k, err := pr.valueToJSON(e.Key, call, false)
			if err != nil {
				return nil, err
			}
			val, err := pr.valueToJSON(e.Value, call, large)
			if err != nil {
				return nil, err
			}
			entries = append(entries, EntryDocument{Key: k, Value: val})
		}
		b, err := json.Marshal(entries)
		if err != nil {
			return nil, err
		}
		inner = b
	default:
		return nil, fmt.Errorf("%s: key-value kind %d: %w", call, v.Kind, core.ErrBadDocument)
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	buf.Write(quote(tag))
	buf.WriteByte(':')
	buf.Write(inner)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (pr *Projector) valueFromJSON(raw json.RawMessage, call string) (Value, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Value{}, fmt.Errorf("%s: key-value entry: %v: %w", call, err, core.ErrBadDocument)
	}
	if id, ok := obj["blob_id"]; ok {
		var ref struct {
			BlobID string  `json:"blob_id"`
			CRC    *uint32 `json:"crc"`
		}
		if err := json.Unmarshal(raw, &ref); err != nil {
			return Value{}, fmt.Errorf("%s: blob ref %s: %v: %w", call, id, err, core.ErrBadDocument)
		}
		if pr.blobs == nil {
			return Value{}, fmt.Errorf("%s: blob %s without a store: %w", call, ref.BlobID, core.ErrBlobNotFound)
		}
		data, err := pr.blobs.Get(ref.BlobID)
		if err != nil {
			return Value{}, fmt.Errorf("%s: %w", call, err)
		}
		if ref.CRC != nil && checksum(data) != *ref.CRC {
			log.GetLogger().WithField("call", call).Warnf("key-value blob %s checksum mismatch", ref.BlobID)
		}
		return Blob(data), nil
	}
	if len(obj) != 1 {
		return Value{}, fmt.Errorf("%s: key-value entry needs exactly one kind tag: %w", call, core.ErrBadDocument)
	}
	for tag, inner := range obj {
		text := strings.TrimSpace(string(inner))
		bad := func(err error) (Value, error) {
			return Value{}, fmt.Errorf("%s: key-value %s: %v: %w", call, tag, err, core.ErrBadDocument)
		}
		switch tag {
		case "bool":
			b, err := strconv.ParseBool(text)
			if err != nil {
				return bad(err)
			}
			return Bool(b), nil
		case "int":
			i, err := strconv.ParseInt(text, 10, 64)
			if err != nil {
				return bad(err)
			}
			return Int(i), nil
		case "uint":
			u, err := strconv.ParseUint(text, 10, 64)
			if err != nil {
				return bad(err)
			}
			return Uint(u), nil
		case "float":
			bits, err := pr.scalarFromJSON(&ctype.WireType{Size: 8, IsFloat: true}, inner)
			if err != nil {
				return bad(err)
			}
			return Value{Kind: KindFloat, num: bits}, nil
		case "string":
			var s string
			if err := json.Unmarshal(inner, &s); err != nil {
				return bad(err)
			}
			return String(s), nil
		case "blob":
			var s string
			if err := json.Unmarshal(inner, &s); err != nil {
				return bad(err)
			}
			b, err := hex.DecodeString(s)
			if err != nil {
				return bad(err)
			}
			return Blob(b), nil
		case "document":
			var entries []EntryDocument
			if err := json.Unmarshal(inner, &entries); err != nil {
				return bad(err)
			}
			m := NewKeyValueMap()
			for _, e := range entries {
				k, err := pr.valueFromJSON(e.Key, call)
				if err != nil {
					return Value{}, err
				}
				v, err := pr.valueFromJSON(e.Value, call)
				if err != nil {
					return Value{}, err
				}
				m.SetKey(k, v)
			}
			return DocValue(m), nil
		default:
			return bad(errors.New("unknown kind"))
		}
	}
	return Value{}, nil
}

// ─── Helpers ───────────────────────────────────────────────────────────────

func readElem(b []byte, size int) uint64 {
	var tmp [8]byte
	copy(tmp[:], b[:size])
	return binary.LittleEndian.Uint64(tmp[:])
}

func appendElem(b []byte, v uint64, size int) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(b, tmp[:size]...)
}

func hexString(v uint64, width int) string {
	return fmt.Sprintf("0x%0*X", width, v)
}

func parseHex(s string) (uint64, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("hex %q: %v: %w", s, err, core.ErrBadDocument)
	}
	return v, nil
}

func quote(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}
