// Package list holds dlist's core container: a doubly linked list of strings with constant time access to both ends.
// Values go in and come out; nodes never leave the package.

package list

import (
	"errors"
	"fmt"
	"strings"
)

// Separator is written between two consecutive values by List.String.
const Separator = " <-> "

// ErrCorrupted is returned by Verify when the chain breaks one of the list's structural rules.
var ErrCorrupted = errors.New("list is corrupted")

// node is a single element of the list.
type node struct {
	next  *node
	prev  *node
	value string
}

// List is a doubly linked list of strings. The zero value is an empty list ready to use.
// A List is not safe for concurrent use.
type List struct {
	head *node
	tail *node
	size int
}

// New returns an empty list.
func New() *List {
	return &List{}
}

// IsEmpty reports whether the list has no elements.
func (l *List) IsEmpty() bool {
	return l.size == 0
}

// Size returns the number of elements in the list.
func (l *List) Size() int {
	return l.size
}

// InsertFront adds a value to the front of the list.
func (l *List) InsertFront(value string) {
	n := &node{value: value, next: l.head}
	if l.head != nil {
		l.head.prev = n
	} else { // List was empty.
		l.tail = n
	}
	l.head = n
	l.size++
}

// InsertBack adds a value to the back of the list.
func (l *List) InsertBack(value string) {
	if l.tail == nil {
		l.InsertFront(value)
		return
	}
	n := &node{value: value, prev: l.tail}
	l.tail.next = n
	l.tail = n
	l.size++
}

// Get returns the value at the zero-based `index` counted from the front, and false if there is no such index.
func (l *List) Get(index int) (string, bool) {
	if index < 0 || index >= l.size {
		return "", false
	}
	n := l.head
	for i := 0; i < index; i++ {
		n = n.next
	}
	return n.value, true
}

// DeleteFront removes the first element and returns its value. Returns false on an empty list.
func (l *List) DeleteFront() (string, bool) {
	if l.head == nil {
		return "", false
	}
	removed := l.head
	l.head = removed.next
	if l.head != nil {
		l.head.prev = nil
	} else { // Removed the only node.
		l.tail = nil
	}
	removed.next = nil
	l.size--
	return removed.value, true
}

// DeleteBack removes the last element and returns its value. Returns false on an empty list.
func (l *List) DeleteBack() (string, bool) {
	if l.tail == nil {
		return "", false
	}
	if l.size == 1 { // Head and tail are the same node.
		return l.DeleteFront()
	}
	removed := l.tail
	l.tail = removed.prev
	l.tail.next = nil
	removed.prev = nil
	l.size--
	return removed.value, true
}

// Front returns the first value without removing it.
func (l *List) Front() (string, bool) {
	if l.head == nil {
		return "", false
	}
	return l.head.value, true
}

// Back returns the last value without removing it.
func (l *List) Back() (string, bool) {
	if l.tail == nil {
		return "", false
	}
	return l.tail.value, true
}

// Values returns a copy of all values from front to back.
func (l *List) Values() []string {
	values := make([]string, 0, l.size)
	for n := l.head; n != nil; n = n.next {
		values = append(values, n.value)
	}
	return values
}

// Range returns the values between `start` and `stop`, both inclusive. Negative indices count from the back, so -1
// is the last element. Out of range bounds are clamped and an empty window yields an empty slice.
func (l *List) Range(start, stop int) []string {
	if start < 0 {
		start = max(l.size+start, 0)
	}
	if stop < 0 {
		stop = l.size + stop
	}
	stop = min(stop, l.size-1)
	if start > stop {
		return []string{}
	}

	values := make([]string, 0, stop-start+1)
	n := l.head
	for i := 0; i < start; i++ {
		n = n.next
	}
	for i := start; i <= stop; i++ {
		values = append(values, n.value)
		n = n.next
	}
	return values
}

// String joins all values from front to back with Separator. An empty list is the empty string.
func (l *List) String() string {
	var sb strings.Builder
	for n := l.head; n != nil; n = n.next {
		if n != l.head {
			sb.WriteString(Separator)
		}
		sb.WriteString(n.value)
	}
	return sb.String()
}

// Verify walks the chain and returns an error wrapping ErrCorrupted for the first structural rule that doesn't hold.
func (l *List) Verify() error {
	if (l.head == nil) != (l.tail == nil) {
		return fmt.Errorf("%w: head and tail must be both set or both unset", ErrCorrupted)
	}
	if l.head == nil {
		if l.size != 0 {
			return fmt.Errorf("%w: empty chain with size %d", ErrCorrupted, l.size)
		}
		return nil
	}
	if l.head.prev != nil {
		return fmt.Errorf("%w: head has a previous node", ErrCorrupted)
	}
	if l.tail.next != nil {
		return fmt.Errorf("%w: tail has a next node", ErrCorrupted)
	}

	count := 1
	n := l.head
	for ; n.next != nil; n = n.next {
		if n.next.prev != n {
			return fmt.Errorf("%w: broken back link after index %d", ErrCorrupted, count-1)
		}
		count++
		if count > l.size { // Chain is longer than recorded.
			return fmt.Errorf("%w: more nodes than size %d", ErrCorrupted, l.size)
		}
	}
	if n != l.tail {
		return fmt.Errorf("%w: last reachable node is not the tail", ErrCorrupted)
	}
	if count != l.size {
		return fmt.Errorf("%w: found %d nodes, size is %d", ErrCorrupted, count, l.size)
	}
	return nil
}
