package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"quotehub/internal/broadcast"
)

const (
	liveWriteTimeout = 10 * time.Second
	livePingInterval = 30 * time.Second
)

// Inbound live messages.
type clientMessage struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols"`
}

type updateMessage struct {
	Type string           `json:"type"`
	Data broadcast.Update `json:"data"`
}

type ackMessage struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols"`
}

type errorMessage struct {
	Type    string   `json:"type"`
	Error   string   `json:"error"`
	Symbols []string `json:"symbols,omitempty"`
}

type outbound struct {
	typ  string
	body any
}

// handleLive upgrades to a websocket and registers the connection with the
// broadcaster until either side closes.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		s.log.Debug().Err(err).Msg("websocket accept")
		return
	}
	defer c.Close(websocket.StatusInternalError, "")

	id := uuid.NewString()
	log := s.log.With().Str("conn", id).Logger()
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	out := make(chan outbound, s.outbox)
	s.live.Connect(id, broadcast.SinkFunc(func(u broadcast.Update) bool {
		select {
		case out <- outbound{typ: "update", body: updateMessage{Type: "update", Data: u}}:
			return true
		default:
			return false
		}
	}))
	defer s.live.Disconnect(id)
	log.Debug().Msg("live connection opened")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer cancel()
		s.writeLive(ctx, c, out)
	}()

	err = s.readLive(ctx, c, id, out)
	cancel()
	<-writerDone

	switch status := websocket.CloseStatus(err); {
	case status == websocket.StatusNormalClosure, status == websocket.StatusGoingAway:
		log.Debug().Msg("live connection closed by client")
	case errors.Is(err, context.Canceled):
		log.Debug().Msg("live connection closed")
	default:
		log.Debug().Err(err).Msg("live connection dropped")
	}
	c.Close(websocket.StatusNormalClosure, "")
}

func (s *Server) readLive(ctx context.Context, c *websocket.Conn, id string, out chan<- outbound) error {
	for {
		var msg clientMessage
		if err := wsjson.Read(ctx, c, &msg); err != nil {
			return err
		}

		var replies []outbound
		switch msg.Type {
		case "subscribe":
			cur, invalid, err := s.live.Subscribe(id, msg.Symbols)
			if len(invalid) > 0 {
				replies = append(replies, liveError("invalid symbols", invalid))
			}
			if err != nil {
				replies = append(replies, liveError(err.Error(), nil))
			}
			replies = append(replies, outbound{typ: "ack", body: ackMessage{Type: "ack", Symbols: cur}})
		case "unsubscribe":
			cur, err := s.live.Unsubscribe(id, msg.Symbols)
			if err != nil {
				return err
			}
			replies = append(replies, outbound{typ: "ack", body: ackMessage{Type: "ack", Symbols: cur}})
		default:
			replies = append(replies, liveError("unknown message type "+msg.Type, nil))
		}

		for _, m := range replies {
			select {
			case out <- m:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (s *Server) writeLive(ctx context.Context, c *websocket.Conn, out <-chan outbound) {
	ping := time.NewTicker(livePingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-out:
			wctx, cancel := context.WithTimeout(ctx, liveWriteTimeout)
			err := wsjson.Write(wctx, c, m.body)
			cancel()
			if m.typ != "update" {
				s.metrics.ObserveLiveMessage(m.typ, err == nil)
			}
			if err != nil {
				return
			}
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, liveWriteTimeout)
			err := c.Ping(pctx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func liveError(msg string, symbols []string) outbound {
	return outbound{typ: "error", body: errorMessage{Type: "error", Error: msg, Symbols: symbols}}
}
