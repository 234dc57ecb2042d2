package service

import (
	"context"
	"fmt"
	"sync"

	"StoryboardStudio-server/models"
)

// 持久化槽位名称
const (
	SlotProjects         = "projects"
	SlotCharacterRoster  = "character_roster"
	SlotItemRoster       = "item_roster"
	SlotGlobalCharacters = "global_characters"
	SlotGlobalItems      = "global_items"
)

// SlotStore 键值持久化：读返回 (值, 是否存在)，写可能返回 models.ErrStorageQuotaExceeded
type SlotStore interface {
	Get(ctx context.Context, slot string) ([]byte, bool, error)
	Put(ctx context.Context, slot string, value []byte) error
}

// MemorySlotStore 进程内槽位存储，storage.backend=memory 及测试使用
type MemorySlotStore struct {
	mu    sync.Mutex
	quota int64
	data  map[string][]byte
}

func NewMemorySlotStore(quota int64) *MemorySlotStore {
	return &MemorySlotStore{quota: quota, data: make(map[string][]byte)}
}

func (m *MemorySlotStore) Get(_ context.Context, slot string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[slot]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *MemorySlotStore) Put(_ context.Context, slot string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.quota > 0 {
		var used int64
		for k, v := range m.data {
			if k != slot {
				used += int64(len(v))
			}
		}
		if used+int64(len(value)) > m.quota {
			return fmt.Errorf("%w: slot %s needs %d bytes, %d of %d in use",
				models.ErrStorageQuotaExceeded, slot, len(value), used, m.quota)
		}
	}
	m.data[slot] = append([]byte(nil), value...)
	return nil
}

// Raw 直接写入原始字节（测试中模拟损坏数据）
func (m *MemorySlotStore) Raw(slot string, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[slot] = value
}
