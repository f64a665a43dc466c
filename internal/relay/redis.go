// Package relay fans encoded changes out to every service instance that
// hosts the same document, over redis pub/sub.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const channelPrefix = "doc-changes."

var ErrEmptyChange = errors.New("envelope carries no change")

// Envelope wraps one encoded change on the wire. Origin names the
// publishing instance so it can skip its own messages.
type Envelope struct {
	ID     ulid.ULID `json:"id"`
	Origin string    `json:"origin"`
	Change []byte    `json:"change"`
}

func EncodeEnvelope(e Envelope) ([]byte, error) {
	if len(e.Change) == 0 {
		return nil, ErrEmptyChange
	}
	return json.Marshal(e)
}

func DecodeEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if len(e.Change) == 0 {
		return Envelope{}, ErrEmptyChange
	}
	return e, nil
}

// Channel returns the pub/sub channel of a document.
func Channel(documentID string) string {
	return channelPrefix + documentID
}

// Redis publishes and subscribes to document channels.
type Redis struct {
	rdb    *redis.Client
	origin string
}

// NewRedis connects to addr and checks the connection.
func NewRedis(addr string) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: "", // no password set
		DB:       0,  // use default DB
	})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("could not connect to redis at %s: %w", addr, err)
	}
	return &Redis{rdb: rdb, origin: ulid.Make().String()}, nil
}

func (r *Redis) Origin() string {
	return r.origin
}

func (r *Redis) Publish(ctx context.Context, documentID string, encoded []byte) error {
	payload, err := EncodeEnvelope(Envelope{ID: ulid.Make(), Origin: r.origin, Change: encoded})
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, Channel(documentID), payload).Err()
}

// Subscribe calls fn for every change another instance publishes on the
// document's channel, until ctx is done.
func (r *Redis) Subscribe(ctx context.Context, documentID string, fn func(encoded []byte)) error {
	sub := r.rdb.Subscribe(ctx, Channel(documentID))
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return fmt.Errorf("subscribe %s: %w", documentID, err)
	}

	logger := log.With().Str("comp", "relay").Str("doc", documentID).Logger()
	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				e, err := DecodeEnvelope([]byte(msg.Payload))
				if err != nil {
					logger.Warn().Err(err).Msg("dropping relay message")
					continue
				}
				if e.Origin == r.origin {
					continue
				}
				logger.Debug().Str("id", e.ID.String()).Str("origin", e.Origin).Msg("remote change")
				fn(e.Change)
			}
		}
	}()
	return nil
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
