package partition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroups_SevenOverThree(t *testing.T) {
	groups := Groups("stratum", 7, 3)
	require.Len(t, groups, 3)

	assert.Equal(t, Group{DeploymentName: "stratum-group-0", ShardStart: 0, ShardEnd: 2, Replicas: 1}, groups[0])
	assert.Equal(t, Group{DeploymentName: "stratum-group-1", ShardStart: 3, ShardEnd: 5, Replicas: 1}, groups[1])
	assert.Equal(t, Group{DeploymentName: "stratum-group-2", ShardStart: 6, ShardEnd: 6, Replicas: 1}, groups[2])

	var recomposed uint32
	for _, g := range groups {
		recomposed += g.ShardEnd - g.ShardStart + 1
	}
	assert.EqualValues(t, 7, recomposed)
}

func TestGroups_ZeroShards(t *testing.T) {
	assert.Empty(t, Groups("stratum", 0, 3))
}

func TestGroups_PerReplicaExceedsTotal(t *testing.T) {
	groups := Groups("stratum", 4, 10)
	require.Len(t, groups, 1)
	assert.Equal(t, uint32(0), groups[0].ShardStart)
	assert.Equal(t, uint32(3), groups[0].ShardEnd)
}

func TestGroups_ContiguousAndNonOverlapping(t *testing.T) {
	for total := uint32(0); total <= 40; total++ {
		for per := uint32(1); per <= 6; per++ {
			groups := Groups("stratum", total, per)

			expectedCount := 0
			if total > 0 {
				expectedCount = int((total + per - 1) / per)
			}
			require.Len(t, groups, expectedCount, "total=%d per=%d", total, per)

			var want uint32
			for i, g := range groups {
				assert.Equal(t, want, g.ShardStart, "total=%d per=%d index=%d", total, per, i)
				assert.LessOrEqual(t, g.ShardEnd-g.ShardStart+1, per)
				want = g.ShardEnd + 1
			}
			if total > 0 {
				assert.Equal(t, total, want)
			}
		}
	}
}

func TestGroups_LastGroupCarriesRemainder(t *testing.T) {
	groups := Groups("stratum", 10, 4)
	require.Len(t, groups, 3)
	assert.Equal(t, uint32(2), groups[2].ShardEnd-groups[2].ShardStart+1)
}
