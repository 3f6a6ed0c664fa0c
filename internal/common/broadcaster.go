package common

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// Broadcaster fans ticker frames out to every registered receiver. Frames are
// text of the form "<KIND> <json>", e.g. `MINTED {"name":"Invoice #12",...}`.
type Broadcaster struct {
	mu        sync.Mutex
	id        uint64
	receivers map[uint64]chan []byte
	logger    *zap.Logger
}

func NewBroadcaster(logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		receivers: make(map[uint64]chan []byte),
		logger:    logger,
	}
}

func (b *Broadcaster) RegisterReceiver(receiver chan []byte) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.receivers[b.id] = receiver
	b.id++

	return b.id - 1
}

func (b *Broadcaster) UnregisterReceiver(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if receiver, exists := b.receivers[id]; exists {
		close(receiver)
		delete(b.receivers, id)
	}
}

// Receivers reports how many subscribers are currently attached.
func (b *Broadcaster) Receivers() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.receivers)
}

// Publish encodes a ticker event and hands it to every receiver.
func (b *Broadcaster) Publish(event TickerEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	frame := make([]byte, 0, len(event.Kind)+1+len(payload))
	frame = append(frame, event.Kind...)
	frame = append(frame, ' ')
	frame = append(frame, payload...)

	b.Broadcast(frame)
	return nil
}

// Broadcast never blocks the caller: a receiver whose buffer is full misses
// the frame.
func (b *Broadcaster) Broadcast(message []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, receiver := range b.receivers {
		select {
		case receiver <- message:
		default:
			if b.logger != nil {
				b.logger.Debug("ticker receiver full, frame dropped", zap.Uint64("receiver", id))
			}
		}
	}
}

func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, receiver := range b.receivers {
		close(receiver)
		delete(b.receivers, id)
	}
}
