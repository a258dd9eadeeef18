package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// assertLinkedListEqualsSlice makes sure the list elements match the expected slice in both directions.
func assertLinkedListEqualsSlice[V comparable](t *testing.T, expected []V, list *linkedList[V]) {
	t.Helper()

	assert.Equal(t, len(expected), list.Len(), "List length mismatch")
	if len(expected) == 0 {
		assert.Nil(t, list.Front(), "Empty list should have nil Front()")
		assert.Nil(t, list.tail, "Empty list should have nil tail")
		return
	}

	var forwardResult []V
	for node := range list.All() {
		forwardResult = append(forwardResult, node.Value)
	}
	assert.Equal(t, expected, forwardResult, "Forward iteration mismatch")

	var backwardResult []V
	for node := list.tail; node != nil; node = node.prev {
		backwardResult = append([]V{node.Value}, backwardResult...)
	}
	assert.Equal(t, expected, backwardResult, "Backward iteration mismatch")
}

func TestLinkedList_PushBack(t *testing.T) {
	list := new(linkedList[int])
	list.PushBack(1)
	assertLinkedListEqualsSlice(t, []int{1}, list)
	list.PushBack(2)
	assertLinkedListEqualsSlice(t, []int{1, 2}, list)
	list.PushBack(3)
	assertLinkedListEqualsSlice(t, []int{1, 2, 3}, list)
}

func TestLinkedList_Remove(t *testing.T) {
	// Helper to create a list for testing removal.
	newLinkedListWithNodes := func(nodeCount int) (*linkedList[int], []*linkedListNode[int]) {
		list := new(linkedList[int])
		nodes := make([]*linkedListNode[int], nodeCount)
		for i := 1; i <= nodeCount; i++ {
			nodes[i-1] = list.PushBack(i)
		}
		return list, nodes
	}

	t.Run("Remove from middle", func(t *testing.T) {
		list, nodes := newLinkedListWithNodes(5)
		list.Remove(nodes[2]) // Remove 3.
		assertLinkedListEqualsSlice(t, []int{1, 2, 4, 5}, list)
		assert.Equal(t, nodes[3], nodes[1].Next(), "Node 2's next should be node 4")
	})
	t.Run("Remove head", func(t *testing.T) {
		list, nodes := newLinkedListWithNodes(5)
		list.Remove(nodes[0])
		assertLinkedListEqualsSlice(t, []int{2, 3, 4, 5}, list)
	})
	t.Run("Remove tail", func(t *testing.T) {
		list, nodes := newLinkedListWithNodes(5)
		list.Remove(nodes[4])
		assertLinkedListEqualsSlice(t, []int{1, 2, 3, 4}, list)
	})
	t.Run("Remove while iterating", func(t *testing.T) {
		list, _ := newLinkedListWithNodes(6)
		for node := range list.All() {
			if node.Value%2 == 0 {
				list.Remove(node)
			}
		}
		assertLinkedListEqualsSlice(t, []int{1, 3, 5}, list)
	})
	t.Run("Remove until empty", func(t *testing.T) {
		list, nodes := newLinkedListWithNodes(5)
		for _, node := range nodes {
			list.Remove(node)
		}
		assertLinkedListEqualsSlice(t, []int{}, list)
	})
}
