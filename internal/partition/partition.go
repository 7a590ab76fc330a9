// Package partition implements the Consumer Partitioner: a pure function
// assigning a disjoint subset of rooms to each configured node.
package partition

import (
	"sort"

	"go.uber.org/zap"

	"github.com/chatfabric/chatfabric/internal/logging"
)

// AssignedRooms returns the rooms in [1, rooms] owned by nodeID given the
// (already sorted) list of all configured node ids. If nodeList is empty,
// partitioning is disabled and every room is returned (every node consumes
// every room). If nodeID is not present in nodeList, ownership falls back to
// every room and a warning is logged.
func AssignedRooms(nodeID string, nodeList []string, rooms int) []int {
	if len(nodeList) == 0 {
		return allRooms(rooms)
	}

	sorted := make([]string, len(nodeList))
	copy(sorted, nodeList)
	sort.Strings(sorted)

	idx := indexOf(sorted, nodeID)
	if idx == -1 {
		logging.Warn(nil, "node id not present in configured node list, falling back to all rooms",
			zap.String("node_id", nodeID))
		return allRooms(rooms)
	}

	n := len(sorted)
	var owned []int
	for room := 1; room <= rooms; room++ {
		if (room-1)%n == idx {
			owned = append(owned, room)
		}
	}
	return owned
}

func indexOf(sorted []string, nodeID string) int {
	for i, id := range sorted {
		if id == nodeID {
			return i
		}
	}
	return -1
}

func allRooms(rooms int) []int {
	out := make([]int, rooms)
	for i := range out {
		out[i] = i + 1
	}
	return out
}
