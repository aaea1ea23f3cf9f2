// Package lru 實作有界的 LRU 快取。
//
// 設計考量：
//
// 為何解析路徑需要進程內快取？
//   - 短碼 → 目標 URL 的映射在建立後不可變
//   - 不可變意味著不需要失效邏輯，只需要容量上限
//   - 熱點短碼（80/20 法則）可省下絕大多數資料庫查詢
//
// 資料結構：
//   - 雙向鏈結串列：維護存取順序（頭部為最近使用）
//   - HashMap：O(1) 查找
//
// 時間複雜度：Get O(1)、Set O(1)、淘汰 O(1)
package lru

import (
	"container/list"
	"sync"
)

// Cache 是容量有界、並發安全的 string → string LRU 快取。
type Cache struct {
	capacity int
	cache    map[string]*list.Element
	list     *list.List
	mu       sync.Mutex
}

// entry 是鏈表節點儲存的資料。
type entry struct {
	key   string
	value string
}

// New 建立新的 LRU 快取。
//
// capacity 必須為正數；鏈表頭部是最近使用的項目，
// 尾部是最久未使用、下一個被淘汰的項目。
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	return &Cache{
		capacity: capacity,
		cache:    make(map[string]*list.Element),
		list:     list.New(),
	}
}

// Get 取得快取值。
//
// 命中時將該項目移到鏈表頭部（標記為最近使用）。
func (c *Cache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.cache[key]; ok {
		c.list.MoveToFront(elem)
		return elem.Value.(*entry).value, true
	}
	return "", false
}

// Set 設定快取值。
//
// 行為：
//  1. key 已存在：更新值並移到頭部
//  2. key 不存在且容量已滿：淘汰尾部項目後新增到頭部
func (c *Cache) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.cache[key]; ok {
		c.list.MoveToFront(elem)
		elem.Value.(*entry).value = value
		return
	}

	elem := c.list.PushFront(&entry{key: key, value: value})
	c.cache[key] = elem

	if c.list.Len() > c.capacity {
		c.evictOldest()
	}
}

// Len 回傳目前快取的項目數。
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.list.Len()
}

// evictOldest 移除鏈表尾部項目（最久未使用）。
// 呼叫者必須持有鎖。
func (c *Cache) evictOldest() {
	elem := c.list.Back()
	if elem == nil {
		return
	}
	c.list.Remove(elem)
	delete(c.cache, elem.Value.(*entry).key)
}
