// Copyright The Symtrace Authors
// SPDX-License-Identifier: Apache-2.0

// Package cache provides a small TTL-based LRU used to bound per-process
// state kept across resolution calls.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// ExpirableLRU maps keys to values with a per-entry time-to-live. Both Get
// and Put refresh an entry's TTL. Expired entries are dropped by ExpireAll
// or lazily on Get.
type ExpirableLRU[K comparable, V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	items   map[K]*list.Element
	order   *list.List // front = most recently touched
	onEvict func(K, V)
}

type entry[K comparable, V any] struct {
	key     K
	value   V
	touched time.Time
}

// Option configures an ExpirableLRU.
type Option[K comparable, V any] func(*ExpirableLRU[K, V])

// WithEvictCallBack registers a callback invoked for every entry removed by
// expiry. It is not called for explicit Remove.
func WithEvictCallBack[K comparable, V any](cb func(K, V)) Option[K, V] {
	return func(c *ExpirableLRU[K, V]) { c.onEvict = cb }
}

// NewExpirableLRU creates a cache whose entries expire ttl after their last
// Put.
func NewExpirableLRU[K comparable, V any](ttl time.Duration, opts ...Option[K, V]) *ExpirableLRU[K, V] {
	c := &ExpirableLRU[K, V]{
		ttl:   ttl,
		items: make(map[K]*list.Element),
		order: list.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the live value for key, refreshing its TTL. An expired entry
// reads as absent.
func (c *ExpirableLRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.items[key]
	if !ok {
		return zero, false
	}
	ent := el.Value.(*entry[K, V])
	if time.Since(ent.touched) > c.ttl {
		c.order.Remove(el)
		delete(c.items, key)
		return zero, false
	}
	ent.touched = time.Now()
	c.order.MoveToFront(el)
	return ent.value, true
}

// Put inserts or replaces the value for key and resets its TTL.
func (c *ExpirableLRU[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		ent := el.Value.(*entry[K, V])
		ent.value = value
		ent.touched = time.Now()
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(&entry[K, V]{key: key, value: value, touched: time.Now()})
	c.items[key] = el
}

// Remove drops key without invoking the evict callback.
func (c *ExpirableLRU[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.order.Remove(el)
		delete(c.items, key)
	}
}

// Len returns the number of entries currently held.
func (c *ExpirableLRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// ExpireAll removes every entry past its TTL, invoking the evict callback
// for each in oldest-first order, and returns how many were removed.
func (c *ExpirableLRU[K, V]) ExpireAll() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for {
		el := c.order.Back()
		if el == nil {
			break
		}
		ent := el.Value.(*entry[K, V])
		if time.Since(ent.touched) <= c.ttl {
			break
		}
		c.order.Remove(el)
		delete(c.items, ent.key)
		removed++
		if c.onEvict != nil {
			c.onEvict(ent.key, ent.value)
		}
	}
	return removed
}
