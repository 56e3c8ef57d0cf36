package signaling

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// testServer echoes requests back, optionally transforming them first.
func testServer(t *testing.T, handle func(ctx context.Context, conn *websocket.Conn, msg *Message)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")
		conn.SetReadLimit(1 << 20)
		for {
			var msg Message
			if err := wsjson.Read(r.Context(), conn, &msg); err != nil {
				return
			}
			handle(r.Context(), conn, &msg)
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestClientInvoke(t *testing.T) {
	url := testServer(t, func(ctx context.Context, conn *websocket.Conn, msg *Message) {
		reply := Message{Id: msg.Id, Method: msg.Method, Payload: msg.Payload}
		_ = wsjson.Write(ctx, conn, reply)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, url)
	require.NoError(t, err)
	defer c.Close()

	var reply map[string]string
	require.NoError(t, c.Invoke(ctx, "echo", map[string]string{"k": "v"}, &reply))
	assert.Equal(t, "v", reply["k"])
}

func TestClientInvokeServerError(t *testing.T) {
	url := testServer(t, func(ctx context.Context, conn *websocket.Conn, msg *Message) {
		payload, _ := json.Marshal(errorPayload{Message: "no such room"})
		_ = wsjson.Write(ctx, conn, Message{Id: msg.Id, Method: msg.Method, IsError: true, Payload: payload})
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, url)
	require.NoError(t, err)
	defer c.Close()

	err = c.Invoke(ctx, "join", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such room")
}

func TestClientNotification(t *testing.T) {
	url := testServer(t, func(ctx context.Context, conn *websocket.Conn, msg *Message) {
		// any request triggers a push before the reply
		payload, _ := json.Marshal(map[string]string{"peer": "42"})
		_ = wsjson.Write(ctx, conn, Message{Method: "peerJoined", IsNotification: true, Payload: payload})
		_ = wsjson.Write(ctx, conn, Message{Id: msg.Id, Method: msg.Method})
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, url)
	require.NoError(t, err)
	defer c.Close()

	got := make(chan string, 1)
	c.OnNotification(func(method string, payload json.RawMessage) {
		got <- method
	})

	require.NoError(t, c.Invoke(ctx, "ping", nil, nil))
	select {
	case method := <-got:
		assert.Equal(t, "peerJoined", method)
	case <-time.After(2 * time.Second):
		t.Fatal("notification never arrived")
	}
}

func TestClientChunkedReply(t *testing.T) {
	big := strings.Repeat("x", 2*ChunkThreshold)
	url := testServer(t, func(ctx context.Context, conn *websocket.Conn, msg *Message) {
		payload, _ := json.Marshal(map[string]string{"blob": big})
		raw, _ := json.Marshal(Message{Id: msg.Id, Method: msg.Method, Payload: payload})

		chunker := NewMessageChunker()
		defer chunker.Close()
		for _, chunk := range chunker.SplitIntoChunks(raw) {
			cp, _ := json.Marshal(chunk)
			_ = wsjson.Write(ctx, conn, Message{Method: "chunk", IsNotification: true, Payload: cp})
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, url)
	require.NoError(t, err)
	defer c.Close()

	var reply map[string]string
	require.NoError(t, c.Invoke(ctx, "caps", nil, &reply))
	assert.Equal(t, big, reply["blob"])
}

func TestClientBlockedNotificationHandlerKeepsRepliesFlowing(t *testing.T) {
	url := testServer(t, func(ctx context.Context, conn *websocket.Conn, msg *Message) {
		// push sits in front of the reply on the wire
		_ = wsjson.Write(ctx, conn, Message{Method: "newConsumer", IsNotification: true})
		_ = wsjson.Write(ctx, conn, Message{Id: msg.Id, Method: msg.Method})
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, url)
	require.NoError(t, err)
	defer c.Close()

	gate := make(chan struct{})
	defer close(gate)
	c.OnNotification(func(method string, payload json.RawMessage) {
		<-gate
	})

	// the handler is stuck, the reply must still come through
	invokeCtx, invokeCancel := context.WithTimeout(ctx, 2*time.Second)
	defer invokeCancel()
	assert.NoError(t, c.Invoke(invokeCtx, "getRouterRtpCapabilities", nil, nil))
}

func TestClientCloseUnblocksPendingInvoke(t *testing.T) {
	url := testServer(t, func(ctx context.Context, conn *websocket.Conn, msg *Message) {
		// never reply
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, url)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- c.Invoke(ctx, "ping", nil, nil)
	}()
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, c.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClientClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("invoke never unblocked")
	}
}

func TestClientInvokeAfterClose(t *testing.T) {
	url := testServer(t, func(ctx context.Context, conn *websocket.Conn, msg *Message) {})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, url)
	require.NoError(t, err)
	require.NoError(t, c.Close())
	// the read loop notices the close asynchronously
	time.Sleep(50 * time.Millisecond)

	assert.ErrorIs(t, c.Invoke(ctx, "ping", nil, nil), ErrClientClosed)
}
