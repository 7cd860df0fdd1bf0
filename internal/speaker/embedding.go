package speaker

import (
	"errors"
	"fmt"
	"math"
)

// Embedding is a speaker vector laid out as [1, 1, D], the shape a TTS
// speaker-embedding layer consumes.
type Embedding struct {
	Shape []int     `json:"shape" msgpack:"shape"`
	Data  []float32 `json:"data" msgpack:"data"`
}

func ZeroEmbedding(dim int) Embedding {
	return Embedding{Shape: []int{1, 1, dim}, Data: make([]float32, dim)}
}

// Reshape squeezes every unit axis of a raw model output and prepends two
// unit axes. Outputs carrying more than one non-unit axis (a batch) are
// rejected.
func Reshape(raw []float32, dims []int64) (Embedding, error) {
	dim := 0
	for _, d := range dims {
		if d == 1 {
			continue
		}
		if dim != 0 {
			return Embedding{}, fmt.Errorf("model output shape %v has more than one non-unit axis", dims)
		}
		dim = int(d)
	}
	if dim == 0 {
		dim = 1
	}
	if dim != len(raw) {
		return Embedding{}, fmt.Errorf("model output shape %v does not match %d values", dims, len(raw))
	}

	data := make([]float32, dim)
	copy(data, raw)
	return Embedding{Shape: []int{1, 1, dim}, Data: data}, nil
}

func (e Embedding) Dim() int {
	return len(e.Data)
}

// Vector returns the flat values.
func (e Embedding) Vector() []float32 {
	return e.Data
}

func (e Embedding) IsZero() bool {
	for _, v := range e.Data {
		if v != 0 {
			return false
		}
	}
	return true
}

func (e Embedding) Norm() float64 {
	var sum float64
	for _, v := range e.Data {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

// Normalized returns a unit-length copy. A zero vector stays zero.
func (e Embedding) Normalized() Embedding {
	out := Embedding{Shape: append([]int(nil), e.Shape...), Data: make([]float32, len(e.Data))}
	norm := e.Norm()
	if norm == 0 {
		return out
	}
	for i, v := range e.Data {
		out.Data[i] = float32(float64(v) / norm)
	}
	return out
}

var ErrDimensionMismatch = errors.New("embedding dimensions differ")

// CosineSimilarity is 0 when either vector is zero.
func CosineSimilarity(a, b Embedding) (float64, error) {
	if a.Dim() != b.Dim() {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, a.Dim(), b.Dim())
	}

	var dot, na, nb float64
	for i := range a.Data {
		x, y := float64(a.Data[i]), float64(b.Data[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}
