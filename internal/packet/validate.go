package packet

import (
	"math"
	"math/big"

	"firestige.xyz/gltrace/internal/ctype"
	"firestige.xyz/gltrace/internal/log"
)

// CanConvert reports whether value, stored in a slot of type actual, can be
// read losslessly as a destination of destSize bytes. Floats need an exact
// size match. Integers need the same integral class and a value inside the
// destination range.
func CanConvert(actual *ctype.WireType, value uint64, destSize int, destSigned, destIntegral bool) bool {
	if actual == nil || destSize <= 0 || destSize > 8 {
		return false
	}
	if actual.IsFloat || !destIntegral {
		return actual.IsFloat && !destIntegral && actual.Size == destSize
	}

	v := new(big.Int)
	if actual.IsSigned {
		v.SetInt64(Param{Type: actual, Value: value}.Int())
	} else {
		v.SetUint64(value)
	}

	bits := uint(destSize * 8)
	lo, hi := new(big.Int), new(big.Int)
	if destSigned {
		lo.Lsh(big.NewInt(1), bits-1).Neg(lo)
		hi.Lsh(big.NewInt(1), bits-1).Sub(hi, big.NewInt(1))
	} else {
		hi.Lsh(big.NewInt(1), bits).Sub(hi, big.NewInt(1))
	}
	return v.Cmp(lo) >= 0 && v.Cmp(hi) <= 0
}

// checkRead logs a diagnostic when slot i is read as a different shape than
// its wire type. It never fails.
func (p *Packet) checkRead(i, destSize int, destSigned, destIntegral bool) {
	prm := p.Params[i]
	if CanConvert(prm.Type, prm.Value, destSize, destSigned, destIntegral) {
		return
	}
	log.GetLogger().WithFields(map[string]interface{}{
		"call":         p.Name(),
		"call_counter": p.CallCounter,
		"param":        p.Desc.SlotName(i),
		"wire_type":    prm.Type.String(),
		"dest_size":    destSize,
	}).Warn("lossy parameter conversion")
}

// ParamAsUint32 reads slot i as a 32-bit unsigned integer.
func (p *Packet) ParamAsUint32(i int) uint32 {
	p.checkRead(i, 4, false, true)
	return uint32(p.Params[i].Value)
}

// ParamAsInt32 reads slot i as a 32-bit signed integer.
func (p *Packet) ParamAsInt32(i int) int32 {
	p.checkRead(i, 4, true, true)
	return int32(p.Params[i].Int())
}

// ParamAsUint64 reads slot i as a 64-bit unsigned integer.
func (p *Packet) ParamAsUint64(i int) uint64 {
	p.checkRead(i, 8, false, true)
	return p.Params[i].Value
}

// ParamAsInt64 reads slot i as a 64-bit signed integer.
func (p *Packet) ParamAsInt64(i int) int64 {
	p.checkRead(i, 8, true, true)
	return p.Params[i].Int()
}

// ParamAsFloat32 reads slot i as a float.
func (p *Packet) ParamAsFloat32(i int) float32 {
	p.checkRead(i, 4, true, false)
	return math.Float32frombits(uint32(p.Params[i].Value))
}

// ParamAsFloat64 reads slot i as a double.
func (p *Packet) ParamAsFloat64(i int) float64 {
	p.checkRead(i, 8, true, false)
	return math.Float64frombits(p.Params[i].Value)
}
