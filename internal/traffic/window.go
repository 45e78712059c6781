// Gatewarden - Request Authorization and Account Security Engine
// Copyright 2026 The Gatewarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewarden/gatewarden

// Package traffic detects and throttles abusive request patterns per
// identified user.
//
// The window is an approximation, not an exact sliding window: a bounded
// LRU map of per-user counters that a periodic job clears wholesale. Loss
// on restart is acceptable; the window is an abuse signal, not an
// authorization source of truth.
package traffic

import "sync"

// windowEntry is a node in the counter window's recency list.
type windowEntry struct {
	key   string
	count int
	prev  *windowEntry
	next  *windowEntry
}

// counterWindow is a thread-safe bounded LRU map of userID to request
// count. When capacity is reached the least recently active user is
// evicted, independent of the periodic full reset.
type counterWindow struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*windowEntry

	// head.next is most recently active, tail.prev least recently active.
	head *windowEntry
	tail *windowEntry
}

func newCounterWindow(capacity int) *counterWindow {
	if capacity <= 0 {
		capacity = 10000
	}
	w := &counterWindow{
		capacity: capacity,
		items:    make(map[string]*windowEntry, capacity),
		head:     &windowEntry{},
		tail:     &windowEntry{},
	}
	w.head.next = w.tail
	w.tail.prev = w.head
	return w
}

func (w *counterWindow) unlink(e *windowEntry) {
	e.prev.next = e.next
	e.next.prev = e.prev
}

func (w *counterWindow) pushFront(e *windowEntry) {
	e.next = w.head.next
	e.prev = w.head
	w.head.next.prev = e
	w.head.next = e
}

// Increment bumps the counter for key and returns the new count.
func (w *counterWindow) Increment(key string) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	if e, ok := w.items[key]; ok {
		e.count++
		w.unlink(e)
		w.pushFront(e)
		return e.count
	}

	if len(w.items) >= w.capacity {
		victim := w.tail.prev
		if victim != w.head {
			w.unlink(victim)
			delete(w.items, victim.key)
		}
	}

	e := &windowEntry{key: key, count: 1}
	w.items[key] = e
	w.pushFront(e)
	return 1
}

// Count returns the current count for key without touching recency.
func (w *counterWindow) Count(key string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if e, ok := w.items[key]; ok {
		return e.count
	}
	return 0
}

// Reset clears all counters. Called by the periodic sweep.
func (w *counterWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.items = make(map[string]*windowEntry, w.capacity)
	w.head.next = w.tail
	w.tail.prev = w.head
}

// Len returns the number of tracked users.
func (w *counterWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.items)
}
