package random

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSameSeedSameStream(t *testing.T) {
	a, b := New(42), New(42)
	for i := 0; i < 100; i++ {
		assert.Equal(t, a.Intn(1000), b.Intn(1000))
		assert.Equal(t, a.Float64(), b.Float64())
		assert.Equal(t, a.Bool(), b.Bool())
	}
}

func TestReseedRestartsStream(t *testing.T) {
	s := New(7)
	first := []int{s.Intn(50), s.Intn(50), s.Intn(50)}
	s.Seed(7)
	assert.Equal(t, first, []int{s.Intn(50), s.Intn(50), s.Intn(50)})
}
