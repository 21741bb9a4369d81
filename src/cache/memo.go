package cache

import (
	"container/list"
	"crypto/md5"
	"encoding/hex"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Key 各部分用不可见分隔符拼接后取md5
func Key(parts ...string) string {
	sum := md5.Sum([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}

type entry[V any] struct {
	key   string
	value V
}

// Memo 有界的计算结果缓存，超过容量时淘汰最早写入的条目。
// 同一个键的并发计算只会执行一次。
type Memo[V any] struct {
	mu      sync.Mutex
	max     int
	entries map[string]*list.Element
	order   *list.List
	group   singleflight.Group
}

func New[V any](max int) *Memo[V] {
	if max <= 0 {
		max = 1
	}
	return &Memo[V]{
		max:     max,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

func (m *Memo[V]) Get(key string) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.entries[key]; ok {
		return el.Value.(*entry[V]).value, true
	}
	var zero V
	return zero, false
}

// Do 命中时直接返回 (值, true, nil)；否则执行 fn，成功的结果写入缓存，错误不缓存
func (m *Memo[V]) Do(key string, fn func() (V, error)) (V, bool, error) {
	if v, ok := m.Get(key); ok {
		return v, true, nil
	}

	res, err, _ := m.group.Do(key, func() (interface{}, error) {
		// 等待期间可能已被其他调用写入
		if v, ok := m.Get(key); ok {
			return v, nil
		}
		v, err := fn()
		if err != nil {
			return v, err
		}
		m.put(key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, false, err
	}
	return res.(V), false, nil
}

func (m *Memo[V]) put(key string, v V) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.entries[key]; ok {
		el.Value.(*entry[V]).value = v
		return
	}
	m.entries[key] = m.order.PushBack(&entry[V]{key: key, value: v})

	for m.order.Len() > m.max {
		oldest := m.order.Front()
		m.order.Remove(oldest)
		delete(m.entries, oldest.Value.(*entry[V]).key)
	}
}

func (m *Memo[V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}

// Purge 清空缓存，数据集替换后调用
func (m *Memo[V]) Purge() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*list.Element)
	m.order.Init()
}
