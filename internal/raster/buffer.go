package raster

import (
	"fmt"
	"math"
	"strings"
)

type DataType int

const (
	Int8 DataType = iota + 1
	Uint8
	Int16
	Uint16
	Int32
	Uint32
	Float32
	Float64
)

var dataTypeNames = map[DataType]string{
	Int8:    "int8",
	Uint8:   "uint8",
	Int16:   "int16",
	Uint16:  "uint16",
	Int32:   "int32",
	Uint32:  "uint32",
	Float32: "float32",
	Float64: "float64",
}

func (t DataType) String() string {
	if s, ok := dataTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("DataType(%d)", int(t))
}

// Size is the width of one sample in bytes.
func (t DataType) Size() int {
	switch t {
	case Int8, Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Float64:
		return 8
	}
	return 0
}

func (t DataType) IsFloat() bool { return t == Float32 || t == Float64 }

var intRanges = map[DataType][2]float64{
	Int8:   {math.MinInt8, math.MaxInt8},
	Uint8:  {0, math.MaxUint8},
	Int16:  {math.MinInt16, math.MaxInt16},
	Uint16: {0, math.MaxUint16},
	Int32:  {math.MinInt32, math.MaxInt32},
	Uint32: {0, math.MaxUint32},
}

// Clamp maps v onto a value the type can hold. Integer types round to the
// nearest integer, saturate at their bounds and store NaN as 0. Float32
// saturates to an infinity.
func (t DataType) Clamp(v float64) float64 {
	if r, ok := intRanges[t]; ok {
		if math.IsNaN(v) {
			return 0
		}
		return math.Min(math.Max(math.Round(v), r[0]), r[1])
	}
	if t == Float32 && !math.IsInf(v, 0) && math.Abs(v) > math.MaxFloat32 {
		return math.Inf(int(math.Copysign(1, v)))
	}
	return v
}

func ParseDataType(s string) (DataType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for t, name := range dataTypeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("raster: unknown data type %q", s)
}

// Number is the set of sample types a Buffer can hold.
type Number interface {
	~int8 | ~uint8 | ~int16 | ~uint16 | ~int32 | ~uint32 | ~float32 | ~float64
}

// Buffer is a flat, typed run of samples. Values cross the interface as
// float64; typed access goes through Samples.
type Buffer interface {
	Type() DataType
	Len() int
	At(i int) float64
	Set(i int, v float64)
	CopyFrom(src Buffer)
}

type Samples[T Number] struct {
	dt DataType
	V  []T
}

func (s *Samples[T]) Type() DataType       { return s.dt }
func (s *Samples[T]) Len() int             { return len(s.V) }
func (s *Samples[T]) At(i int) float64     { return float64(s.V[i]) }
func (s *Samples[T]) Set(i int, v float64) { s.V[i] = T(s.dt.Clamp(v)) }

func (s *Samples[T]) CopyFrom(src Buffer) {
	if o, ok := src.(*Samples[T]); ok {
		copy(s.V, o.V)
		return
	}
	n := min(len(s.V), src.Len())
	for i := range n {
		s.V[i] = T(s.dt.Clamp(src.At(i)))
	}
}

func NewBuffer(dt DataType, n int) Buffer {
	switch dt {
	case Int8:
		return &Samples[int8]{dt: dt, V: make([]int8, n)}
	case Uint8:
		return &Samples[uint8]{dt: dt, V: make([]uint8, n)}
	case Int16:
		return &Samples[int16]{dt: dt, V: make([]int16, n)}
	case Uint16:
		return &Samples[uint16]{dt: dt, V: make([]uint16, n)}
	case Int32:
		return &Samples[int32]{dt: dt, V: make([]int32, n)}
	case Uint32:
		return &Samples[uint32]{dt: dt, V: make([]uint32, n)}
	case Float64:
		return &Samples[float64]{dt: dt, V: make([]float64, n)}
	default:
		return &Samples[float32]{dt: Float32, V: make([]float32, n)}
	}
}
