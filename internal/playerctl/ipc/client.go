package ipc

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/sirupsen/logrus"
)

// request is one outgoing IPC command.
type request struct {
	Command   []interface{} `json:"command"`
	RequestID int64         `json:"request_id"`
}

// response is a reply keyed by RequestID, or an unsolicited event when
// RequestID is zero and Event is non-empty.
type response struct {
	RequestID int64       `json:"request_id"`
	Error     string      `json:"error"`
	Data      interface{} `json:"data,omitempty"`
	Event     string      `json:"event,omitempty"`
	Reason    string      `json:"reason,omitempty"`
}

// Event is an unsolicited message surfaced to the adapter, such as
// end-file.
type Event struct {
	Name   string
	Reason string
}

// Client drives the newline-delimited JSON request/response protocol over
// an already-connected socket. Exactly one request is ever in flight per
// request_id; concurrent callers each get their own id and their own
// reply channel.
type Client struct {
	conn net.Conn
	bw   *bufio.Writer

	nextID int64

	mu      sync.Mutex
	pending map[int64]chan response
	closed  bool

	Events chan Event
}

// Connect dials the IPC socket at path, retrying per the OS-appropriate
// policy, and starts the read loop.
func Connect(path string) (*Client, error) {
	conn, err := dialWithRetry(path, defaultConnectRetry())
	if err != nil {
		return nil, err
	}
	return newClient(conn), nil
}

func newClient(conn net.Conn) *Client {
	c := &Client{
		conn:    conn,
		bw:      bufio.NewWriter(conn),
		pending: make(map[int64]chan response),
		Events:  make(chan Event, 16),
	}
	go c.readLoop()
	return c
}

// Close shuts down the underlying connection. Any pending Send calls
// return a connection-closed error.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	close(c.Events)
	c.mu.Unlock()
	return c.conn.Close()
}

// Send issues command and blocks until its matching response arrives or
// timeout elapses.
func (c *Client) Send(command []interface{}, timeout time.Duration) (response, error) {
	id := atomic.AddInt64(&c.nextID, 1)
	reply := make(chan response, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return response{}, fmt.Errorf("ipc: connection closed")
	}
	c.pending[id] = reply
	c.mu.Unlock()

	req := request{Command: command, RequestID: id}
	line, err := sonic.Marshal(req)
	if err != nil {
		c.dropPending(id)
		return response{}, fmt.Errorf("ipc: encode request: %w", err)
	}
	line = append(line, '\n')

	c.mu.Lock()
	_, writeErr := c.bw.Write(line)
	if writeErr == nil {
		writeErr = c.bw.Flush()
	}
	c.mu.Unlock()
	if writeErr != nil {
		c.dropPending(id)
		return response{}, fmt.Errorf("ipc: write request: %w", writeErr)
	}

	select {
	case resp, ok := <-reply:
		if !ok {
			return response{}, fmt.Errorf("ipc: connection closed while awaiting response")
		}
		return resp, nil
	case <-time.After(timeout):
		c.dropPending(id)
		return response{}, fmt.Errorf("ipc: request %d timed out after %v", id, timeout)
	}
}

func (c *Client) dropPending(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) readLoop() {
	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		var resp response
		if err := sonic.Unmarshal(scanner.Bytes(), &resp); err != nil {
			logrus.Warnf("ipc: unparseable line: %v", err)
			continue
		}

		if resp.Event != "" {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if !closed {
				select {
				case c.Events <- Event{Name: resp.Event, Reason: resp.Reason}:
				default:
					logrus.Warnf("ipc: event channel full, dropping %s", resp.Event)
				}
			}
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[resp.RequestID]
		if ok {
			delete(c.pending, resp.RequestID)
		}
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
	c.Close()
}

// Success reports whether resp represents mpv-style "success".
func (r response) Success() bool {
	return r.Error == "" || r.Error == "success"
}
