// Package remote runs a split-mode frontend against a sync service: local
// changes are sent over a websocket and the service's patches are applied
// as they arrive.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"collaborative-frontend/pkg/change"
	"collaborative-frontend/pkg/frontend"
	"collaborative-frontend/pkg/protocol"
	"collaborative-frontend/pkg/recorder"
)

const writeWait = 10 * time.Second

var (
	ErrClosed         = errors.New("client closed")
	ErrUnexpectedInit = errors.New("expected init message")
)

// ServerError is an error message sent by the service, typically for a
// rejected change. The document cannot catch up after one.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "server: " + e.Message
}

// Client is a document replica connected to one document of a service.
// All methods are safe for concurrent use.
type Client struct {
	conn       *websocket.Conn
	documentID string
	actorID    string
	logger     zerolog.Logger

	// guards doc, err, changed and writes to conn
	mu      sync.Mutex
	doc     *frontend.Doc
	err     error
	changed chan struct{}

	done chan struct{}
}

// Dial connects to a document endpoint such as
// ws://host/documents/notes/ws and waits for the document's state.
// Options configure the frontend; it always runs in split mode.
func Dial(ctx context.Context, rawURL string, opts ...frontend.Option) (*Client, error) {
	doc, err := frontend.New(opts...)
	if err != nil {
		return nil, err
	}
	if doc.Integrated() {
		return nil, errors.New("remote documents cannot have a backend")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("actor", doc.ActorID())
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}

	c := &Client{
		conn:    conn,
		actorID: doc.ActorID(),
		doc:     doc,
		changed: make(chan struct{}),
		done:    make(chan struct{}),
		logger:  log.With().Str("comp", "remote").Str("actor", doc.ActorID()).Logger(),
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}
	msg, err := c.readMessage()
	if err == nil && msg.Type != protocol.TypeInit {
		err = fmt.Errorf("%w, got %q", ErrUnexpectedInit, msg.Type)
	}
	var initial change.Patch
	if err == nil {
		initial, err = decodePatch(msg.Data)
	}
	if err == nil {
		err = doc.ApplyPatch(initial)
	}
	if err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetReadDeadline(time.Time{})
	c.documentID = msg.DocumentID

	// seed data recorded by frontend.New goes out first
	c.mu.Lock()
	err = c.flushLocked()
	c.mu.Unlock()
	if err != nil {
		conn.Close()
		return nil, err
	}

	go c.readLoop()
	c.logger.Info().Str("doc", c.documentID).Uint64("max_op", doc.MaxOp()).Msg("connected")
	return c, nil
}

func (c *Client) DocumentID() string {
	return c.documentID
}

func (c *Client) ActorID() string {
	return c.actorID
}

// Change runs fn in a transaction and sends the resulting change.
func (c *Client) Change(fn func(root *recorder.MapProxy) error, opts ...frontend.ChangeOption) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return c.err
	}
	if err := c.doc.Change(fn, opts...); err != nil {
		return err
	}
	c.notifyLocked()
	return c.flushLocked()
}

// Read calls fn with the document as this replica currently sees it,
// local changes included.
func (c *Client) Read(fn func(doc frontend.Reader)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.doc)
}

// Snapshot copies the visible document into plain Go maps.
func (c *Client) Snapshot() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doc.ToNative()
}

// Synced reports whether every local change has been confirmed.
func (c *Client) Synced() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.doc.InFlight()) == 0
}

// Wait blocks until cond holds for the document, the client fails, or ctx
// is done. cond is called with the client locked.
func (c *Client) Wait(ctx context.Context, cond func(doc *frontend.Doc) bool) error {
	for {
		c.mu.Lock()
		if c.err != nil {
			err := c.err
			c.mu.Unlock()
			return err
		}
		if cond(c.doc) {
			c.mu.Unlock()
			return nil
		}
		changed := c.changed
		c.mu.Unlock()

		select {
		case <-changed:
		case <-c.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Err returns the error that stopped the client, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close disconnects and waits for the read loop to exit.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.err == nil {
		c.err = ErrClosed
	}
	c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.mu.Unlock()

	err := c.conn.Close()
	<-c.done
	return err
}

func (c *Client) flushLocked() error {
	for _, ch := range c.doc.TakeLocalChanges() {
		data, err := protocol.Encode(protocol.TypeChange, c.documentID, ch)
		if err != nil {
			return err
		}
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			c.failLocked(fmt.Errorf("send change %d: %w", ch.Seq, err))
			return c.err
		}
		c.logger.Debug().Uint64("seq", ch.Seq).Int("ops", len(ch.Ops)).Msg("change sent")
	}
	return nil
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		msg, err := c.readMessage()
		if err != nil {
			c.mu.Lock()
			c.failLocked(err)
			c.mu.Unlock()
			return
		}

		switch msg.Type {
		case protocol.TypePatch:
			p, err := decodePatch(msg.Data)
			if err == nil {
				c.mu.Lock()
				err = c.doc.ApplyPatch(p)
				if err == nil {
					c.notifyLocked()
				}
				c.mu.Unlock()
			}
			if err != nil {
				// a replica that skipped a patch cannot converge
				c.logger.Error().Err(err).Msg("patch failed")
				c.mu.Lock()
				c.failLocked(err)
				c.mu.Unlock()
				c.conn.Close()
				return
			}

		case protocol.TypeError:
			var e protocol.ErrorData
			json.Unmarshal(msg.Data, &e)
			c.logger.Error().Str("message", e.Message).Msg("server error")
			c.mu.Lock()
			c.failLocked(&ServerError{Message: e.Message})
			c.mu.Unlock()
			c.conn.Close()
			return

		default:
			c.logger.Warn().Str("type", msg.Type).Msg("ignoring message")
		}
	}
}

func (c *Client) readMessage() (protocol.Message, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return protocol.Message{}, err
	}
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return protocol.Message{}, fmt.Errorf("decode message: %w", err)
	}
	return msg, nil
}

func (c *Client) failLocked(err error) {
	if c.err == nil {
		c.err = err
	}
	c.notifyLocked()
}

func (c *Client) notifyLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}

// decodePatch keeps numbers as json.Number so integers above 2^53 survive.
func decodePatch(data []byte) (change.Patch, error) {
	var p change.Patch
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return change.Patch{}, fmt.Errorf("decode patch: %w", err)
	}
	return p, nil
}
