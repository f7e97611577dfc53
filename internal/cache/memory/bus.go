// Package memory provides an in-process signal bus for deployments without Redis.
package memory

import (
	"context"
	"path"
	"strconv"
	"sync"

	"github.com/alanyoungcy/chainbet/internal/domain"
)

const subscriberBuffer = 128

type subscriber struct {
	pattern string
	ch      chan []byte
}

// Bus implements domain.SignalBus inside one process. Slow subscribers drop
// messages instead of blocking publishers.
type Bus struct {
	mu      sync.Mutex
	subs    map[*subscriber]struct{}
	streams map[string][]domain.StreamMessage
	seq     map[string]uint64
	maxLen  int
}

// NewBus creates a Bus whose streams keep at most maxLen entries.
func NewBus(maxLen int) *Bus {
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &Bus{
		subs:    make(map[*subscriber]struct{}),
		streams: make(map[string][]domain.StreamMessage),
		seq:     make(map[string]uint64),
		maxLen:  maxLen,
	}
}

// Publish delivers payload to every subscriber whose pattern matches channel.
func (b *Bus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		if ok, _ := path.Match(s.pattern, channel); !ok {
			continue
		}
		select {
		case s.ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe registers a glob pattern. The channel closes when ctx is done.
func (b *Bus) Subscribe(ctx context.Context, pattern string) (<-chan []byte, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, err
	}
	s := &subscriber{pattern: pattern, ch: make(chan []byte, subscriberBuffer)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, s)
		close(s.ch)
		b.mu.Unlock()
	}()
	return s.ch, nil
}

// StreamAppend adds payload to stream with a monotonically increasing id.
func (b *Bus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq[stream]++
	entries := append(b.streams[stream], domain.StreamMessage{
		ID:      strconv.FormatUint(b.seq[stream], 10) + "-0",
		Payload: payload,
	})
	if over := len(entries) - b.maxLen; over > 0 {
		entries = append(entries[:0:0], entries[over:]...)
	}
	b.streams[stream] = entries
	return nil
}

// StreamRead returns up to count entries after lastID. "0" and "" read from
// the start.
func (b *Bus) StreamRead(_ context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	after := streamSeq(lastID)
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.StreamMessage
	for _, m := range b.streams[stream] {
		if streamSeq(m.ID) <= after {
			continue
		}
		out = append(out, m)
		if count > 0 && len(out) == count {
			break
		}
	}
	return out, nil
}

func streamSeq(id string) uint64 {
	for i := 0; i < len(id); i++ {
		if id[i] == '-' {
			id = id[:i]
			break
		}
	}
	n, _ := strconv.ParseUint(id, 10, 64)
	return n
}

var _ domain.SignalBus = (*Bus)(nil)
