package databuffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmesh/dagcore/pkg/mask"
)

func TestPublishPrivateTransfersOwnershipAndResets(t *testing.T) {
	b := New(4)
	b.Private.Values[0] = "hello"
	b.Private.Valid.Set(0)
	b.SetPrivate(b.Private)

	b.PublishPrivate(4)
	pub := b.ReadPublic()
	require.True(t, pub.Valid.Test(0))
	assert.Equal(t, "hello", pub.Values[0])

	assert.False(t, b.Private.Valid.Test(0))
}

func TestMergeIntoScratchRespectsKeepMask(t *testing.T) {
	b := New(4)
	private := newSlot(4)
	private.Values[0] = "a"
	private.Valid.Set(0)
	private.Values[1] = "b"
	private.Valid.Set(1)

	keep := mask.New(4)
	keep.Set(1)

	b.MergeIntoScratch(private, keep)
	assert.False(t, b.Scratch.Valid.Test(0))
	assert.True(t, b.Scratch.Valid.Test(1))
	assert.Equal(t, "b", b.Scratch.Values[1])
}

func TestAbsorbPublicResidualPreservesUncoveredPublicData(t *testing.T) {
	b := New(4)
	b.Public.Values[2] = "old"
	b.Public.Valid.Set(2)
	b.Public.Values[0] = "stale"
	b.Public.Valid.Set(0)

	b.Private.Values[0] = "fresh"
	b.Private.Valid.Set(0)

	b.AbsorbPublicResidual()
	assert.True(t, b.Scratch.Valid.Test(2))
	assert.Equal(t, "old", b.Scratch.Values[2])
	assert.False(t, b.Scratch.Valid.Test(0))
}

func TestResetComputedMasksLeavesPublicIntact(t *testing.T) {
	b := New(4)
	b.Public.Valid.Set(0)
	b.Private.Valid.Set(1)
	b.Scratch.Valid.Set(2)

	b.ResetComputedMasks(4)
	assert.True(t, b.Public.Valid.Test(0))
	assert.False(t, b.Private.Valid.Test(1))
	assert.False(t, b.Scratch.Valid.Test(2))
}
