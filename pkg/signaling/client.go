package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/dorisoy/Dorisoy.Mediasoup-sub002/pkg/logger"
)

var (
	ErrClientClosed  = errors.New("signaling client closed")
	ErrInvokeTimeout = errors.New("signaling invoke timed out")
)

const defaultInvokeTimeout = 15 * time.Second

// Message is the JSON envelope on the signaling socket. Requests carry an
// id the server echoes back; notifications have id zero. Payloads larger
// than the chunking threshold travel as "chunk" messages instead.
type Message struct {
	Id             uint64          `json:"id"`
	Method         string          `json:"method"`
	IsError        bool            `json:"isError,omitempty"`
	IsNotification bool            `json:"isNotification,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

type errorPayload struct {
	Message string `json:"error"`
}

const chunkMethod = "chunk"

// OnNotificationFunc receives server-push messages.
type OnNotificationFunc func(method string, payload json.RawMessage)

// Client is the websocket signaling channel: id-correlated request/response
// plus server-push notifications, with transparent chunking of oversized
// payloads in both directions.
type Client struct {
	conn    *websocket.Conn
	chunker *MessageChunker

	mu      sync.Mutex
	nextId  uint64
	pending map[uint64]chan *Message
	closed  bool

	onNotification OnNotificationFunc
	notifier       *notifyQueue
	log            logger.Logger
}

// notifyQueue hands notifications to the registered handler on a dedicated
// goroutine, in arrival order. The read loop only enqueues, so a handler
// that blocks or invokes back into the server never stalls reply delivery.
type notifyQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  deque.Deque[*Message]
	closed bool

	handler func(method string, payload json.RawMessage)
}

func newNotifyQueue(handler func(method string, payload json.RawMessage)) *notifyQueue {
	q := &notifyQueue{handler: handler}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

func (q *notifyQueue) push(method string, payload json.RawMessage) {
	q.mu.Lock()
	if !q.closed {
		q.queue.PushBack(&Message{Method: method, Payload: payload})
		q.cond.Signal()
	}
	q.mu.Unlock()
}

func (q *notifyQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Signal()
	q.mu.Unlock()
}

func (q *notifyQueue) run() {
	for {
		q.mu.Lock()
		for q.queue.Len() == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed && q.queue.Len() == 0 {
			q.mu.Unlock()
			return
		}
		msg := q.queue.PopFront()
		q.mu.Unlock()
		q.handler(msg.Method, msg.Payload)
	}
}

// Dial connects to the signaling server and starts the read loop.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("signaling dial: %w", err)
	}
	// sdp-sized capability payloads exceed the default read limit
	conn.SetReadLimit(1 << 20)

	c := &Client{
		conn:    conn,
		chunker: NewMessageChunker(),
		pending: make(map[uint64]chan *Message),
		log:     logger.NewLogger("signaling"),
	}
	c.notifier = newNotifyQueue(c.dispatchNotification)
	go c.readLoop()
	return c, nil
}

// OnNotification registers the server-push handler. Notifications arriving
// before registration are dropped.
func (c *Client) OnNotification(fn OnNotificationFunc) {
	c.mu.Lock()
	c.onNotification = fn
	c.mu.Unlock()
}

// Invoke sends one request and blocks for the matching reply or ctx done.
func (c *Client) Invoke(ctx context.Context, method string, data any, reply any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	c.nextId++
	id := c.nextId
	ch := make(chan *Message, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultInvokeTimeout)
		defer cancel()
	}

	if err := c.send(ctx, &Message{Id: id, Method: method, Payload: payload}); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrInvokeTimeout
		}
		return ctx.Err()
	case msg, ok := <-ch:
		if !ok {
			return ErrClientClosed
		}
		if msg.IsError {
			var ep errorPayload
			if json.Unmarshal(msg.Payload, &ep) == nil && ep.Message != "" {
				return fmt.Errorf("signaling %s: %s", method, ep.Message)
			}
			return fmt.Errorf("signaling %s failed", method)
		}
		if reply == nil {
			return nil
		}
		return json.Unmarshal(msg.Payload, reply)
	}
}

// Notify sends a fire-and-forget message.
func (c *Client) Notify(ctx context.Context, method string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return c.send(ctx, &Message{Method: method, IsNotification: true, Payload: payload})
}

// send writes one envelope, chunking the serialized form when oversized.
func (c *Client) send(ctx context.Context, msg *Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if !NeedsChunking(raw) {
		return wsjson.Write(ctx, c.conn, msg)
	}

	for _, chunk := range c.chunker.SplitIntoChunks(raw) {
		payload, err := json.Marshal(chunk)
		if err != nil {
			return err
		}
		envelope := &Message{Method: chunkMethod, IsNotification: true, Payload: payload}
		if err := wsjson.Write(ctx, c.conn, envelope); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) readLoop() {
	ctx := context.Background()
	for {
		var msg Message
		if err := wsjson.Read(ctx, c.conn, &msg); err != nil {
			c.log.WithError(err).Debug("signaling read loop ended")
			c.teardown()
			return
		}
		c.handleMessage(&msg)
	}
}

func (c *Client) handleMessage(msg *Message) {
	if msg.Method == chunkMethod {
		var chunk Chunk
		if err := json.Unmarshal(msg.Payload, &chunk); err != nil {
			c.log.WithError(err).Warn("bad chunk payload")
			return
		}
		full, done := c.chunker.ReceiveChunk(chunk)
		if !done {
			return
		}
		var inner Message
		if err := json.Unmarshal(full, &inner); err != nil {
			c.log.WithError(err).Warn("bad chunked message")
			return
		}
		c.handleMessage(&inner)
		return
	}

	if msg.IsNotification || msg.Id == 0 {
		// Handlers run off the read loop; one that invokes back into the
		// server must not starve reply delivery.
		c.notifier.push(msg.Method, msg.Payload)
		return
	}

	c.mu.Lock()
	ch := c.pending[msg.Id]
	delete(c.pending, msg.Id)
	c.mu.Unlock()
	if ch == nil {
		c.log.Debugf("reply for unknown request id %d", msg.Id)
		return
	}
	// the channel is buffered and this goroutine is its sole owner after the
	// delete, teardown can no longer reach it
	ch <- msg
}

func (c *Client) dispatchNotification(method string, payload json.RawMessage) {
	c.mu.Lock()
	fn := c.onNotification
	c.mu.Unlock()
	if fn != nil {
		fn(method, payload)
	}
}

func (c *Client) teardown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	// entries still present were not claimed by handleMessage, closing them
	// fails the invokes waiting on them
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()
	c.notifier.close()
	c.chunker.Close()
}

// Close shuts the socket down and fails every in-flight invoke.
func (c *Client) Close() error {
	c.teardown()
	return c.conn.Close(websocket.StatusNormalClosure, "client closing")
}
