package service

import (
	"sync"
	"time"

	"StoryboardStudio-server/models"
)

const (
	EventShotUpdated      = "shot_updated"
	EventShotsReordered   = "shots_reordered"
	EventScriptReplaced   = "script_replaced"
	EventCharacterUpdated = "character_updated"
)

type ShotEvent struct {
	Type      string                   `json:"type"`
	Epoch     uint64                   `json:"epoch"`
	Shot      *models.Shot             `json:"shot,omitempty"`
	Shots     []models.Shot            `json:"shots,omitempty"`
	Character *models.CharacterProfile `json:"character,omitempty"`
	At        time.Time                `json:"at"`
}

// Broadcaster 分镜状态变化的进程内订阅，慢订阅者会丢事件而不阻塞发布方
type Broadcaster struct {
	mu   sync.Mutex
	subs map[int]chan ShotEvent
	next int
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan ShotEvent)}
}

func (b *Broadcaster) Subscribe(buffer int) (<-chan ShotEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan ShotEvent, buffer)
	b.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
}

func (b *Broadcaster) Publish(ev ShotEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
