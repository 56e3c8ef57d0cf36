package signaling

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dorisoy/Dorisoy.Mediasoup-sub002/pkg/logger"
	"github.com/dorisoy/Dorisoy.Mediasoup-sub002/pkg/stats"
)

const (
	// payloads above ChunkThreshold are split before hitting the socket
	ChunkThreshold = 25600
	// ChunkSize is the data size of every chunk except possibly the last.
	ChunkSize = 20480

	assemblyTTL = 60 * time.Second
)

// Chunk is one fragment of an oversized signaling payload.
type Chunk struct {
	MessageId string `json:"messageId"`
	Index     int    `json:"index"`
	Total     int    `json:"total"`
	TotalSize int    `json:"totalSize"`
	Data      []byte `json:"data"`
}

type assembly struct {
	buf      []byte
	seen     []bool
	received int
	total    int
	deadline time.Time
}

// MessageChunker splits oversized payloads into fixed-size chunks and
// reassembles inbound ones. Chunks may arrive in any order and duplicates
// are tolerated; assemblies that stay incomplete past the TTL are dropped.
type MessageChunker struct {
	mu        sync.Mutex
	pending   map[string]*assembly
	closeOnce sync.Once
	done      chan struct{}
	log       logger.Logger
}

func NewMessageChunker() *MessageChunker {
	c := &MessageChunker{
		pending: make(map[string]*assembly),
		done:    make(chan struct{}),
		log:     logger.NewLogger("chunker"),
	}
	go c.janitor()
	return c
}

// NeedsChunking reports whether the payload exceeds the chunking threshold.
func NeedsChunking(payload []byte) bool {
	return len(payload) > ChunkThreshold
}

// SplitIntoChunks cuts the payload into ChunkSize pieces sharing one
// generated message id.
func (c *MessageChunker) SplitIntoChunks(payload []byte) []Chunk {
	total := (len(payload) + ChunkSize - 1) / ChunkSize
	id := uuid.NewString()

	chunks := make([]Chunk, 0, total)
	for i := 0; i < total; i++ {
		start := i * ChunkSize
		end := start + ChunkSize
		if end > len(payload) {
			end = len(payload)
		}
		chunks = append(chunks, Chunk{
			MessageId: id,
			Index:     i,
			Total:     total,
			TotalSize: len(payload),
			Data:      payload[start:end],
		})
	}
	return chunks
}

// ReceiveChunk stores one chunk at its offset. It returns the full payload
// and true once every chunk of the message has arrived, nil and false before
// that. Malformed chunks are dropped.
func (c *MessageChunker) ReceiveChunk(chunk Chunk) ([]byte, bool) {
	if chunk.MessageId == "" || chunk.Total <= 0 || chunk.Index < 0 || chunk.Index >= chunk.Total {
		c.log.Warnf("malformed chunk dropped (id=%q index=%d total=%d)", chunk.MessageId, chunk.Index, chunk.Total)
		return nil, false
	}
	offset := chunk.Index * ChunkSize
	if offset+len(chunk.Data) > chunk.TotalSize {
		c.log.Warnf("chunk %s[%d] overflows declared size, dropped", chunk.MessageId, chunk.Index)
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	a, ok := c.pending[chunk.MessageId]
	if !ok {
		a = &assembly{
			buf:   make([]byte, chunk.TotalSize),
			seen:  make([]bool, chunk.Total),
			total: chunk.Total,
		}
		c.pending[chunk.MessageId] = a
	}
	a.deadline = time.Now().Add(assemblyTTL)

	if len(a.buf) < offset+len(chunk.Data) || chunk.Index >= len(a.seen) {
		return nil, false
	}
	copy(a.buf[offset:], chunk.Data)
	if !a.seen[chunk.Index] {
		a.seen[chunk.Index] = true
		a.received++
	}

	if a.received < a.total {
		return nil, false
	}
	delete(c.pending, chunk.MessageId)
	return a.buf, true
}

// Close stops the expiry janitor.
func (c *MessageChunker) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *MessageChunker) janitor() {
	ticker := time.NewTicker(assemblyTTL / 4)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case now := <-ticker.C:
			c.sweep(now)
		}
	}
}

func (c *MessageChunker) sweep(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, a := range c.pending {
		if now.After(a.deadline) {
			c.log.Debugf("chunk assembly %s expired with %d/%d chunks", id, a.received, a.total)
			stats.ChunksExpired.Inc()
			delete(c.pending, id)
		}
	}
}
