package storage

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-process Store used by tests.
type Memory struct {
	mu      sync.RWMutex
	buckets map[string]map[string]Object

	// Calls counts every operation, keyed by method name.
	calls map[string]int
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		buckets: make(map[string]map[string]Object),
		calls:   make(map[string]int),
	}
}

func (m *Memory) BucketExists(_ context.Context, bucket string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["BucketExists"]++
	_, ok := m.buckets[bucket]
	return ok, nil
}

func (m *Memory) CreateBucket(_ context.Context, bucket string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["CreateBucket"]++
	if _, ok := m.buckets[bucket]; !ok {
		m.buckets[bucket] = make(map[string]Object)
	}
	return nil
}

func (m *Memory) Put(_ context.Context, bucket, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["Put"]++
	objects, ok := m.buckets[bucket]
	if !ok {
		return fmt.Errorf("put %s/%s: %w", bucket, key, ErrBucketNotFound)
	}
	objects[key] = Object{Data: append([]byte(nil), data...), ContentType: contentType}
	return nil
}

func (m *Memory) Get(_ context.Context, bucket, key string) (Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["Get"]++
	objects, ok := m.buckets[bucket]
	if !ok {
		return Object{}, fmt.Errorf("get %s/%s: %w", bucket, key, ErrBucketNotFound)
	}
	obj, ok := objects[key]
	if !ok {
		return Object{}, fmt.Errorf("get %s/%s: %w", bucket, key, ErrObjectNotFound)
	}
	return Object{Data: append([]byte(nil), obj.Data...), ContentType: obj.ContentType}, nil
}

// Delete removes an object. Missing objects are ignored.
func (m *Memory) Delete(bucket, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.buckets[bucket], key)
}

// Keys lists the keys stored in bucket.
func (m *Memory) Keys(bucket string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.buckets[bucket]))
	for k := range m.buckets[bucket] {
		keys = append(keys, k)
	}
	return keys
}

// Calls returns how many times method was invoked.
func (m *Memory) Calls(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[method]
}

// TotalCalls returns the number of store operations performed so far.
func (m *Memory) TotalCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0
	for _, n := range m.calls {
		total += n
	}
	return total
}

var _ Store = (*Memory)(nil)
