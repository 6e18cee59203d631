// Package partition computes the deterministic split of shard IDs into
// worker groups. It is a pure function with no dependency on the
// orchestrator, the bus, or the vendor client.
package partition

import "fmt"

// Group is a contiguous, inclusive range of shard IDs assigned to one
// worker replica.
type Group struct {
	DeploymentName string
	ShardStart     uint32
	ShardEnd       uint32
	Replicas       int32
}

// Groups partitions [0, totalShards) into ordered, contiguous groups of
// at most shardsPerReplica shards each. Only the last group may be
// short. totalShards == 0 yields an empty slice. A shardsPerReplica of
// 0 is treated as 1.
func Groups(fleet string, totalShards, shardsPerReplica uint32) []Group {
	if shardsPerReplica == 0 {
		shardsPerReplica = 1
	}

	var groups []Group
	var current uint32
	var index int

	for current < totalShards {
		end := current + shardsPerReplica - 1
		if end > totalShards-1 {
			end = totalShards - 1
		}

		groups = append(groups, Group{
			DeploymentName: fmt.Sprintf("%s-group-%d", fleet, index),
			ShardStart:     current,
			ShardEnd:       end,
			Replicas:       1,
		})

		current = end + 1
		index++
	}

	return groups
}
