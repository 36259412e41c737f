package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryLocalStorage is a process-local store. It does not survive a restart.
type MemoryLocalStorage struct {
	entries sync.Map
}

func NewMemoryLocalStorage() *MemoryLocalStorage {
	return &MemoryLocalStorage{}
}

func (r *MemoryLocalStorage) Get(ctx context.Context, key string) (string, bool, error) {
	val, ok := r.entries.Load(key)
	if !ok {
		return "", false, nil
	}
	return val.(string), true, nil
}

func (r *MemoryLocalStorage) Set(ctx context.Context, key, value string) error {
	r.entries.Store(key, value)
	return nil
}

func (r *MemoryLocalStorage) Remove(ctx context.Context, key string) error {
	r.entries.Delete(key)
	return nil
}

// Keys lists stored keys with the given prefix in lexical order.
func (r *MemoryLocalStorage) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	r.entries.Range(func(k, _ any) bool {
		if key := k.(string); strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return true
	})
	sort.Strings(keys)
	return keys, nil
}
