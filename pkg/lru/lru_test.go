package lru

import (
	"fmt"
	"sync"
	"testing"
)

func TestGetSet(t *testing.T) {
	c := New(3)

	if _, ok := c.Get("a"); ok {
		t.Error("Get on empty cache should miss")
	}

	c.Set("a", "1")
	c.Set("b", "2")

	v, ok := c.Get("a")
	if !ok || v != "1" {
		t.Errorf("Get(a) = %q, %v, want %q, true", v, ok, "1")
	}

	// 更新已存在的 key
	c.Set("a", "updated")
	v, _ = c.Get("a")
	if v != "updated" {
		t.Errorf("Get(a) after update = %q, want %q", v, "updated")
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}

func TestEviction(t *testing.T) {
	c := New(2)

	c.Set("a", "1")
	c.Set("b", "2")
	c.Set("c", "3") // 淘汰 a（最久未使用）

	if _, ok := c.Get("a"); ok {
		t.Error("a should have been evicted")
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("b should still be cached")
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}

func TestEvictionOrderFollowsAccess(t *testing.T) {
	c := New(2)

	c.Set("a", "1")
	c.Set("b", "2")

	// 存取 a，使 b 成為最久未使用
	c.Get("a")
	c.Set("c", "3")

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted after a was touched")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("a should still be cached")
	}
}

func TestZeroCapacity(t *testing.T) {
	// 容量不合法時退化為 1，不應 panic
	c := New(0)
	c.Set("a", "1")
	if _, ok := c.Get("a"); !ok {
		t.Error("cache with clamped capacity should hold one entry")
	}
	c.Set("b", "2")
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New(100)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				key := fmt.Sprintf("key-%d", j%200)
				c.Set(key, fmt.Sprintf("val-%d-%d", n, j))
				c.Get(key)
			}
		}(i)
	}
	wg.Wait()

	if c.Len() > 100 {
		t.Errorf("Len() = %d, capacity bound violated", c.Len())
	}
}
