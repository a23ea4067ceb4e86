package zarr

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Dtype is a simple zarr data type in NumPy typestr form: byte order,
// basic type code, byte size and an optional datetime unit, e.g. "<f4" or
// "<M8[ns]".
type Dtype struct {
	ByteOrder ByteOrder
	BasicType BasicType
	ByteSize  int
	Units     string
}

var (
	_ json.Unmarshaler = (*Dtype)(nil)
	_ json.Marshaler   = (*Dtype)(nil)
)

func ParseDtype(s string) (dt Dtype, err error) {
	// python writers occasionally HTML-escape the byte order
	s = strings.Replace(s, "&lt;", "<", 1)
	s = strings.Replace(s, "&gt;", ">", 1)

	if len(s) < 3 {
		return dt, fmt.Errorf("invalid dtype string: %q is too short", s)
	}

	boByte, s := s[0], s[1:]
	dt.ByteOrder, err = ParseByteOrder(rune(boByte))
	if err != nil {
		return dt, err
	}

	typeByte, s := s[0], s[1:]
	dt.BasicType, err = ParseBasicType(rune(typeByte))
	if err != nil {
		return dt, err
	}

	sizeStr := s
	if i := strings.IndexByte(s, '['); i >= 0 {
		sizeStr, dt.Units = s[:i], strings.Trim(s[i:], "[]")
	}
	size, err := strconv.Atoi(sizeStr)
	if err != nil {
		return dt, fmt.Errorf("invalid dtype size %q: %w", sizeStr, err)
	}
	dt.ByteSize = size
	if err := dt.check(); err != nil {
		return dt, err
	}
	return dt, nil
}

func (dt Dtype) check() error {
	ok := false
	switch dt.BasicType {
	case BTBoolean:
		ok = dt.ByteSize == 1
	case BTInteger, BTUnsigned:
		ok = dt.ByteSize == 1 || dt.ByteSize == 2 || dt.ByteSize == 4 || dt.ByteSize == 8
	case BTFloatingPoint:
		ok = dt.ByteSize == 4 || dt.ByteSize == 8
	case BTDatetime, BTTimedelta:
		ok = dt.ByteSize == 8
	}
	if !ok {
		return fmt.Errorf("unsupported dtype %s", dt)
	}
	return nil
}

func (dt Dtype) String() string {
	s := fmt.Sprintf("%s%s%d", string(dt.ByteOrder), string(dt.BasicType), dt.ByteSize)
	if dt.Units != "" {
		s += "[" + dt.Units + "]"
	}
	return s
}

func (dt Dtype) MarshalJSON() ([]byte, error) {
	return json.Marshal(dt.String())
}

func (dt *Dtype) UnmarshalJSON(d []byte) error {
	var s string
	if err := json.Unmarshal(d, &s); err != nil {
		return fmt.Errorf("structured dtypes are not supported: %w", err)
	}
	t, err := ParseDtype(s)
	if err != nil {
		return err
	}
	*dt = t
	return nil
}

func (dt Dtype) order() binary.ByteOrder {
	if dt.ByteOrder == BOBigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// Integral reports whether values decode exactly as int64.
func (dt Dtype) Integral() bool {
	switch dt.BasicType {
	case BTInteger, BTUnsigned, BTDatetime, BTTimedelta, BTBoolean:
		return true
	}
	return false
}

// DecodeFloat64 decodes n elements from b.
func (dt Dtype) DecodeFloat64(b []byte, out []float64) error {
	if len(b) < len(out)*dt.ByteSize {
		return fmt.Errorf("short buffer: %d bytes for %d %s elements", len(b), len(out), dt)
	}
	bo := dt.order()
	sz := dt.ByteSize
	for i := range out {
		p := b[i*sz : (i+1)*sz]
		switch dt.BasicType {
		case BTFloatingPoint:
			if sz == 4 {
				out[i] = float64(math.Float32frombits(bo.Uint32(p)))
			} else {
				out[i] = math.Float64frombits(bo.Uint64(p))
			}
		case BTUnsigned:
			out[i] = float64(uintAt(bo, p))
		default:
			out[i] = float64(intAt(bo, p))
		}
	}
	return nil
}

// DecodeInt64 decodes integer-like elements without going through float64.
func (dt Dtype) DecodeInt64(b []byte, out []int64) error {
	if !dt.Integral() {
		return fmt.Errorf("dtype %s is not integral", dt)
	}
	if len(b) < len(out)*dt.ByteSize {
		return fmt.Errorf("short buffer: %d bytes for %d %s elements", len(b), len(out), dt)
	}
	bo := dt.order()
	sz := dt.ByteSize
	for i := range out {
		p := b[i*sz : (i+1)*sz]
		if dt.BasicType == BTUnsigned {
			out[i] = int64(uintAt(bo, p))
		} else {
			out[i] = intAt(bo, p)
		}
	}
	return nil
}

func uintAt(bo binary.ByteOrder, p []byte) uint64 {
	switch len(p) {
	case 1:
		return uint64(p[0])
	case 2:
		return uint64(bo.Uint16(p))
	case 4:
		return uint64(bo.Uint32(p))
	}
	return bo.Uint64(p)
}

func intAt(bo binary.ByteOrder, p []byte) int64 {
	switch len(p) {
	case 1:
		return int64(int8(p[0]))
	case 2:
		return int64(int16(bo.Uint16(p)))
	case 4:
		return int64(int32(bo.Uint32(p)))
	}
	return int64(bo.Uint64(p))
}

type ByteOrder rune

func ParseByteOrder(r rune) (ByteOrder, error) {
	o := ByteOrder(r)
	if _, ok := byteOrders[o]; !ok {
		return o, fmt.Errorf("unsupported byte order format: %q", r)
	}
	return o, nil
}

const (
	BONotRelevant  ByteOrder = '|'
	BOLittleEndian ByteOrder = '<'
	BOBigEndian    ByteOrder = '>'
)

var byteOrders = map[ByteOrder]struct{}{
	BONotRelevant:  {},
	BOLittleEndian: {},
	BOBigEndian:    {},
}

type BasicType rune

func ParseBasicType(r rune) (BasicType, error) {
	t := BasicType(r)
	if _, ok := supportedBasicTypes[t]; !ok {
		return t, fmt.Errorf("unsupported basic type: %q", r)
	}
	return t, nil
}

func (bt BasicType) Human() string {
	return supportedBasicTypes[bt]
}

const (
	BTBoolean       BasicType = 'b'
	BTInteger       BasicType = 'i'
	BTUnsigned      BasicType = 'u'
	BTFloatingPoint BasicType = 'f'
	BTTimedelta     BasicType = 'm'
	BTDatetime      BasicType = 'M'
)

var supportedBasicTypes = map[BasicType]string{
	BTBoolean:       "bool",
	BTInteger:       "int",
	BTUnsigned:      "uint",
	BTFloatingPoint: "float",
	BTTimedelta:     "timedelta",
	BTDatetime:      "datetime",
}
