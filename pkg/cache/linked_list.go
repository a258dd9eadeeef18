package cache

import "iter"

// linkedListNode represents a node in the doubly linked list.
type linkedListNode[V any] struct {
	next  *linkedListNode[V]
	prev  *linkedListNode[V]
	Value V
}

// Next returns the next node in the list.
func (n *linkedListNode[V]) Next() *linkedListNode[V] {
	return n.next
}

// linkedList is a doubly linked list keeping values in insertion order.
type linkedList[V any] struct {
	head *linkedListNode[V]
	tail *linkedListNode[V]
	size int
}

// Len returns the number of elements in the list.
func (l *linkedList[V]) Len() int {
	return l.size
}

// Front returns the first node of the list or nil if the list is empty.
func (l *linkedList[V]) Front() *linkedListNode[V] {
	return l.head
}

// Remove unlinks a node from the list. The node must belong to this list.
func (l *linkedList[V]) Remove(n *linkedListNode[V]) {
	if n.prev != nil {
		n.prev.next = n.next
	} else { // Node is the head.
		l.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else { // Node is the tail.
		l.tail = n.prev
	}
	// Clean up the removed node's pointers.
	n.next = nil
	n.prev = nil
	l.size--
}

// PushBack appends a new value to the back of the list.
func (l *linkedList[V]) PushBack(v V) *linkedListNode[V] {
	n := &linkedListNode[V]{Value: v, prev: l.tail}
	if l.tail != nil {
		l.tail.next = n
	} else { // List was empty.
		l.head = n
	}
	l.tail = n
	l.size++
	return n
}

// All yields nodes front to back. The yielded node may be removed from the list while iterating.
func (l *linkedList[V]) All() iter.Seq[*linkedListNode[V]] {
	return func(yield func(*linkedListNode[V]) bool) {
		for node := l.Front(); node != nil; {
			next := node.Next() // Captured before yielding so that removals don't cut the walk short.
			if !yield(node) {
				return
			}
			node = next
		}
	}
}
