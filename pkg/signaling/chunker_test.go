package signaling

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNeedsChunking(t *testing.T) {
	assert.False(t, NeedsChunking(make([]byte, ChunkThreshold)))
	assert.True(t, NeedsChunking(make([]byte, ChunkThreshold+1)))
}

func TestSplitIntoChunks60KB(t *testing.T) {
	c := NewMessageChunker()
	defer c.Close()

	payload := make([]byte, 60*1024)
	for i := range payload {
		payload[i] = byte(i)
	}

	chunks := c.SplitIntoChunks(payload)
	require.Len(t, chunks, 3)

	for i, chunk := range chunks {
		assert.Equal(t, chunks[0].MessageId, chunk.MessageId)
		assert.Equal(t, i, chunk.Index)
		assert.Equal(t, 3, chunk.Total)
		assert.Equal(t, len(payload), chunk.TotalSize)
	}
	assert.Len(t, chunks[0].Data, ChunkSize)
	assert.Len(t, chunks[1].Data, ChunkSize)
	assert.Len(t, chunks[2].Data, 60*1024-2*ChunkSize)
}

func TestReassemblyPermutedOrder(t *testing.T) {
	c := NewMessageChunker()
	defer c.Close()

	payload := make([]byte, 3*ChunkSize+100)
	rand.New(rand.NewSource(1)).Read(payload)

	chunks := c.SplitIntoChunks(payload)
	require.Len(t, chunks, 4)

	order := []int{2, 0, 3, 1}
	for i, idx := range order {
		got, done := c.ReceiveChunk(chunks[idx])
		if i < len(order)-1 {
			assert.Nil(t, got)
			assert.False(t, done)
		} else {
			assert.True(t, done)
			assert.Equal(t, payload, got)
		}
	}
}

func TestReassemblyDuplicateChunksTolerated(t *testing.T) {
	c := NewMessageChunker()
	defer c.Close()

	payload := make([]byte, 2*ChunkSize)
	chunks := c.SplitIntoChunks(payload)
	require.Len(t, chunks, 2)

	_, done := c.ReceiveChunk(chunks[0])
	assert.False(t, done)
	_, done = c.ReceiveChunk(chunks[0])
	assert.False(t, done)
	got, done := c.ReceiveChunk(chunks[1])
	assert.True(t, done)
	assert.Equal(t, payload, got)
}

func TestReceiveChunkMalformed(t *testing.T) {
	c := NewMessageChunker()
	defer c.Close()

	_, done := c.ReceiveChunk(Chunk{MessageId: "", Index: 0, Total: 1})
	assert.False(t, done)
	_, done = c.ReceiveChunk(Chunk{MessageId: "x", Index: 2, Total: 2, TotalSize: 10})
	assert.False(t, done)
	_, done = c.ReceiveChunk(Chunk{MessageId: "x", Index: -1, Total: 2, TotalSize: 10})
	assert.False(t, done)
	// data overflowing the declared total size
	_, done = c.ReceiveChunk(Chunk{MessageId: "x", Index: 0, Total: 1, TotalSize: 1, Data: []byte{1, 2, 3}})
	assert.False(t, done)
}

func TestAssemblyExpiry(t *testing.T) {
	c := NewMessageChunker()
	defer c.Close()

	payload := make([]byte, 2*ChunkSize)
	chunks := c.SplitIntoChunks(payload)
	_, done := c.ReceiveChunk(chunks[0])
	require.False(t, done)

	c.mu.Lock()
	for _, a := range c.pending {
		a.deadline = time.Now().Add(-time.Second)
	}
	c.mu.Unlock()
	c.sweep(time.Now())

	c.mu.Lock()
	remaining := len(c.pending)
	c.mu.Unlock()
	assert.Zero(t, remaining)

	// late chunk after expiry starts a fresh assembly instead of completing
	_, done = c.ReceiveChunk(chunks[1])
	assert.False(t, done)
}
