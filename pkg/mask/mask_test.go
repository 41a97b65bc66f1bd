package mask

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskSetClearTest(t *testing.T) {
	m := New(130)
	require.True(t, m.IsEmpty())

	m.Set(0)
	m.Set(64)
	m.Set(129)
	assert.True(t, m.Test(0))
	assert.True(t, m.Test(64))
	assert.True(t, m.Test(129))
	assert.False(t, m.Test(63))
	assert.Equal(t, 3, m.Count())

	m.Clear(64)
	assert.False(t, m.Test(64))
	assert.Equal(t, 2, m.Count())
}

func TestMaskAllRespectsCapacity(t *testing.T) {
	m := All(70)
	assert.Equal(t, 70, m.Count())
	assert.Equal(t, 0, m.First())
	assert.Equal(t, 69, m.Last())
}

func TestMaskSetAlgebra(t *testing.T) {
	a := New(10)
	a.Set(1)
	a.Set(2)
	a.Set(3)

	b := New(10)
	b.Set(2)
	b.Set(3)
	b.Set(4)

	union := Union(a, b)
	var got []int
	union.ForEachSet(func(pos int) bool { got = append(got, pos); return true })
	assert.Equal(t, []int{1, 2, 3, 4}, got)

	inter := Intersect(a, b)
	assert.Equal(t, 2, inter.Count())
	assert.True(t, inter.Test(2))
	assert.True(t, inter.Test(3))

	diff := Difference(a, b)
	assert.Equal(t, 1, diff.Count())
	assert.True(t, diff.Test(1))

	assert.True(t, Intersects(a, b))
	c := New(10)
	c.Set(9)
	assert.False(t, Intersects(a, c))
}

func TestMaskEqualityIgnoresCapacityPadding(t *testing.T) {
	a := New(64)
	a.Set(3)

	b := New(128)
	b.Set(3)

	assert.True(t, Equal(a, b))
}

func TestMaskFastHashStable(t *testing.T) {
	a := New(200)
	a.Set(5)
	a.Set(199)

	b := a.Clone()
	assert.Equal(t, a.FastHash(), b.FastHash())

	b.Set(100)
	assert.NotEqual(t, a.FastHash(), b.FastHash())
}

func TestMaskedOutputVectorHashSamplesEnds(t *testing.T) {
	mk := func(n int, bit int) MaskedOutput {
		m := New(8)
		m.Set(bit % 8)
		return MaskedOutput{Output: OutputRef{NodeIndex: uint32(n)}, Mask: m}
	}

	v1 := MaskedOutputVector{mk(1, 0), mk(2, 1), mk(3, 2), mk(4, 3), mk(5, 4)}
	v2 := make(MaskedOutputVector, len(v1))
	copy(v2, v1)
	v2[len(v2)-1] = mk(40, 3) // last entry is always sampled

	assert.NotEqual(t, v1.Hash(), v2.Hash())
	assert.True(t, v1.Equal(v1))
	assert.False(t, v1.Equal(v2))
}
