package mask

// OutputRef identifies an output within a network without depending on
// the network package, avoiding an import cycle: network.Output embeds
// this as its key.
type OutputRef struct {
	NodeIndex   uint32
	OutputIndex uint16
}

// MaskedOutput pairs an output reference with the mask of its elements
// that are of interest. Equality is structural.
type MaskedOutput struct {
	Output OutputRef
	Mask   Mask
}

// Equal reports structural equality: same output, same mask contents.
func (mo MaskedOutput) Equal(other MaskedOutput) bool {
	return mo.Output == other.Output && Equal(mo.Mask, other.Mask)
}

// Hash combines the output reference with the mask's FastHash, suitable
// for use as a map key component or inside a composite hash.
func (mo MaskedOutput) Hash() uint64 {
	h := mo.Mask.FastHash()
	h ^= uint64(mo.Output.NodeIndex)*0x9E3779B97F4A7C15 + uint64(mo.Output.OutputIndex)
	return h
}

// MaskedOutputVector is an ordered sequence of MaskedOutputs forming a
// request. Its Hash is derived from size, the first three entries and
// the last entry — enough to cheaply key a request map without hashing
// every entry of a potentially large vector.
type MaskedOutputVector []MaskedOutput

// Equal reports whether two vectors contain the same outputs in the
// same order with equal masks.
func (v MaskedOutputVector) Equal(other MaskedOutputVector) bool {
	if len(v) != len(other) {
		return false
	}
	for i := range v {
		if !v[i].Equal(other[i]) {
			return false
		}
	}
	return true
}

// Hash returns the cheap request key hash described in the
// MaskedOutputVector type doc comment.
func (v MaskedOutputVector) Hash() uint64 {
	h := uint64(len(v))*1099511628211 + 14695981039346656037
	sample := func(i int) {
		h ^= v[i].Hash()
		h *= 1099511628211
	}
	switch n := len(v); {
	case n == 0:
		return h
	case n <= 3:
		for i := 0; i < n; i++ {
			sample(i)
		}
	default:
		sample(0)
		sample(1)
		sample(2)
		sample(n - 1)
	}
	return h
}

// Key is a value usable as a Go map key for a vector: its Hash paired
// with its length. Distinct vectors with the same Hash and length get
// the same Key, so callers that need exact equality must still call
// Equal.
type Key struct {
	hash uint64
	size int
}

// MakeKey builds the cheap lookup key for v.
func (v MaskedOutputVector) MakeKey() Key {
	return Key{hash: v.Hash(), size: len(v)}
}
