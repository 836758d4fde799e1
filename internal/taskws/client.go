package taskws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/park285/runenkrieg/pkg/taskdto"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

var ErrClientClosed = errors.New("task client closed")

// HeaderProvider returns extra handshake headers.
type HeaderProvider func() map[string]string

type Client struct {
	conn *websocket.Conn

	mu      sync.Mutex
	pending map[string]chan taskdto.Event
	closed  bool
	err     error

	writeMu sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

type ClientOption func(*websocket.DialOptions)

func WithHeaderProvider(h HeaderProvider) ClientOption {
	return func(o *websocket.DialOptions) {
		if h == nil {
			return
		}
		if o.HTTPHeader == nil {
			o.HTTPHeader = http.Header{}
		}
		for k, v := range h() {
			if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
				continue
			}
			o.HTTPHeader.Set(k, v)
		}
	}
}

// Dial connects to a task server at wsURL, e.g. ws://host:8088/ws.
func Dial(ctx context.Context, wsURL string, opts ...ClientOption) (*Client, error) {
	dopts := &websocket.DialOptions{CompressionMode: websocket.CompressionNoContextTakeover}
	for _, opt := range opts {
		opt(dopts)
	}
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, wsURL, dopts)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}
	c := &Client{
		conn:    conn,
		pending: make(map[string]chan taskdto.Event),
		done:    make(chan struct{}),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	go c.listen()
	return c, nil
}

func (c *Client) listen() {
	defer close(c.done)
	for {
		var ev taskdto.Event
		if err := wsjson.Read(c.ctx, c.conn, &ev); err != nil {
			c.fail(err)
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[ev.ID]
		if ok && ev.Type.Terminal() {
			delete(c.pending, ev.ID)
		}
		c.mu.Unlock()
		if !ok {
			continue
		}
		ch <- ev
		if ev.Type.Terminal() {
			close(ch)
		}
	}
}

// fail ends every pending task with an error event carrying err.
func (c *Client) fail(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	pending := c.pending
	c.pending = make(map[string]chan taskdto.Event)
	c.closed = true
	c.mu.Unlock()
	for id, ch := range pending {
		select {
		case ch <- taskdto.Event{ID: id, Type: taskdto.EventError, Error: &taskdto.Error{Message: fmt.Sprintf("connection lost: %v", err)}}:
		default:
		}
		close(ch)
	}
}

// Submit sends req and returns its id and a channel of its events. The
// channel is closed after the terminal event.
func (c *Client) Submit(ctx context.Context, req taskdto.Request) (string, <-chan taskdto.Event, error) {
	if strings.TrimSpace(req.ID) == "" {
		req.ID = uuid.NewString()
	}
	// the caller must drain ch; the reader blocks on a full buffer
	ch := make(chan taskdto.Event, 16)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", nil, ErrClientClosed
	}
	if _, dup := c.pending[req.ID]; dup {
		c.mu.Unlock()
		return "", nil, fmt.Errorf("task %s already pending", req.ID)
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()

	if err := c.write(ctx, req); err != nil {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
		return "", nil, err
	}
	return req.ID, ch, nil
}

// Run submits req and blocks until its terminal event. onProgress may be nil.
func (c *Client) Run(ctx context.Context, req taskdto.Request, onProgress func(taskdto.Progress)) (taskdto.Event, error) {
	id, events, err := c.Submit(ctx, req)
	if err != nil {
		return taskdto.Event{}, err
	}
	for {
		select {
		case <-ctx.Done():
			_ = c.Cancel(context.WithoutCancel(ctx), id)
			go func() {
				for range events {
				}
			}()
			return taskdto.Event{}, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return taskdto.Event{}, ErrClientClosed
			}
			if ev.Type == taskdto.EventProgress {
				if onProgress != nil && ev.Progress != nil {
					onProgress(*ev.Progress)
				}
				continue
			}
			return ev, nil
		}
	}
}

// Cancel asks the server to stop task id. Its terminal event still arrives on
// the Submit channel.
func (c *Client) Cancel(ctx context.Context, id string) error {
	return c.write(ctx, taskdto.Request{ID: id, Action: taskdto.ActionCancel})
}

func (c *Client) write(ctx context.Context, req taskdto.Request) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(wctx, c.conn, req); err != nil {
		return fmt.Errorf("send %s: %w", req.Action, err)
	}
	return nil
}

// Err reports why the connection ended, if it has.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) Close() error {
	err := c.conn.Close(websocket.StatusNormalClosure, "close")
	c.cancel()
	<-c.done
	return err
}
