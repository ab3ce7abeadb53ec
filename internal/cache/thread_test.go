package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeThreadIDPrefersFirstReference(t *testing.T) {
	id := ComputeThreadID("<parent@x>", "<child@x>", []string{"<root@x>", "<parent@x>"})
	assert.Equal(t, hashID("<root@x>"), id)
}

func TestComputeThreadIDFallsBackToMessageID(t *testing.T) {
	id := ComputeThreadID("", "<only@x>", nil)
	assert.Equal(t, hashID("<only@x>"), id)

	id = ComputeThreadID("<parent@x>", "<only@x>", nil)
	assert.Equal(t, hashID("<only@x>"), id, "an In-Reply-To with no References should not be treated as a reply")
}

func TestComputeThreadIDStableAcrossCalls(t *testing.T) {
	a := ComputeThreadID("", "<stable@x>", nil)
	b := ComputeThreadID("", "<stable@x>", nil)
	assert.Equal(t, a, b)
}

func TestComputeThreadIDRandomWhenNoHeaders(t *testing.T) {
	a := ComputeThreadID("", "", nil)
	b := ComputeThreadID("", "", nil)
	assert.Len(t, a, 16)
	assert.NotEqual(t, a, b)
}
