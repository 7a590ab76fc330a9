package partition

import (
	"reflect"
	"testing"
)

func TestAssignedRooms_Disabled(t *testing.T) {
	rooms := AssignedRooms("A", nil, 5)
	want := []int{1, 2, 3, 4, 5}
	if !reflect.DeepEqual(rooms, want) {
		t.Errorf("expected all rooms, got %v", rooms)
	}
}

func TestAssignedRooms_S6Scenario(t *testing.T) {
	rooms := AssignedRooms("B", []string{"A", "B", "C", "D"}, 20)
	want := []int{2, 6, 10, 14, 18}
	if !reflect.DeepEqual(rooms, want) {
		t.Errorf("expected %v, got %v", want, rooms)
	}
}

func TestAssignedRooms_SingleNodeOwnsAll(t *testing.T) {
	rooms := AssignedRooms("only", []string{"only"}, 20)
	if len(rooms) != 20 {
		t.Errorf("expected 20 rooms, got %d", len(rooms))
	}
}

func TestAssignedRooms_UnknownNodeFallsBackToAll(t *testing.T) {
	rooms := AssignedRooms("ghost", []string{"A", "B"}, 10)
	if len(rooms) != 10 {
		t.Errorf("expected fallback to all rooms, got %v", rooms)
	}
}

func TestAssignedRooms_CoverageAndDisjointness(t *testing.T) {
	const totalRooms = 20
	nodes := []string{"A", "B", "C"}

	seen := make(map[int]int)
	for _, node := range nodes {
		for _, room := range AssignedRooms(node, nodes, totalRooms) {
			seen[room]++
		}
	}

	if len(seen) != totalRooms {
		t.Fatalf("expected all %d rooms covered, got %d", totalRooms, len(seen))
	}
	for room, count := range seen {
		if count != 1 {
			t.Errorf("room %d assigned to %d nodes, want exactly 1", room, count)
		}
	}
}

func TestAssignedRooms_EvenSplitSize(t *testing.T) {
	const totalRooms = 20
	nodes := []string{"A", "B", "C", "D"}

	for _, node := range nodes {
		n := len(AssignedRooms(node, nodes, totalRooms))
		if n != 5 {
			t.Errorf("expected exactly 5 rooms per node for 20/4, node %s got %d", node, n)
		}
	}
}

func TestAssignedRooms_UnevenSplitBounds(t *testing.T) {
	const totalRooms = 20
	nodes := []string{"A", "B", "C"}

	lo := totalRooms / len(nodes)
	hi := (totalRooms + len(nodes) - 1) / len(nodes)

	for _, node := range nodes {
		n := len(AssignedRooms(node, nodes, totalRooms))
		if n < lo || n > hi {
			t.Errorf("node %s got %d rooms, expected between %d and %d", node, n, lo, hi)
		}
	}
}
