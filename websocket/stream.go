package websocket

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/quadtree/models"
	"github.com/google/uuid"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

const (
	// HeaderClientID is the header a client can set to identify itself in
	// logs and metrics. A random id is used when it is missing.
	HeaderClientID = "X-Client-ID"

	maxEvery = 3600
)

// StreamOptions configures a debug stream. The query parameters of the
// connection request override them: ?every=, ?entities= and ?format=.
type StreamOptions struct {
	// The number of world frames between two snapshots.
	Every int

	// Includes the entities in snapshots.
	WithEntities bool

	Format Format

	// The time a client can stay silent before being disconnected. 0 means
	// never.
	IdleTimeout time.Duration

	// The interval between two logs summarizing the messages sent to a client.
	LogSummaryInterval time.Duration
}

// HandleDebugStream returns the websocket handler that streams snapshots of
// the world index to its clients.
func HandleDebugStream(ctx context.Context, world *models.World, opts StreamOptions) websocket.Handler {
	return func(conn *websocket.Conn) {
		defer conn.Close()

		var h Handler = &DebugStream{
			World:   world,
			Options: opts,
		}
		h = HandlerWithLogs(h, world.UUID, opts.LogSummaryInterval)
		h = HandlerWithMetrics(h)
		defer h.Close()

		Handle(ctx, conn, world, h)
	}
}

// DebugStream sends snapshots of the world index built with
// models.World.Snapshot.
type DebugStream struct {
	World   *models.World
	Options StreamOptions

	mutex    sync.Mutex
	conn     *websocket.Conn
	clientID string
	frames   uint64
	dropped  int
}

func (s *DebugStream) HandleConnect(conn *websocket.Conn) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.conn = conn
	if s.Options.Format == "" {
		s.Options.Format = FormatJSON
	}

	req := conn.Request()
	if req == nil {
		s.clientID = uuid.NewString()
		return
	}

	s.clientID = req.Header.Get(HeaderClientID)
	if s.clientID == "" {
		s.clientID = uuid.NewString()
	}

	s.Options = optionsFromRequest(s.Options, req)
}

// optionsFromRequest applies the valid query parameters of r to opts and
// ignores the others.
func optionsFromRequest(opts StreamOptions, r *http.Request) StreamOptions {
	q := r.URL.Query()

	if every, err := strconv.Atoi(q.Get("every")); err == nil && every > 0 && every <= maxEvery {
		opts.Every = every
	}

	if entities, err := strconv.ParseBool(q.Get("entities")); err == nil {
		opts.WithEntities = entities
	}

	if q.Has("format") {
		if format, err := ParseFormat(q.Get("format")); err == nil {
			opts.Format = format
		}
	}
	return opts
}

func (s *DebugStream) HandleDisconnect(err error) {
}

func (s *DebugStream) HandleFrame(ctx context.Context, send func(Msg) bool) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.frames++
	if every := s.Options.Every; every > 1 && s.frames%uint64(every) != 0 {
		return nil
	}

	msg, err := encodeMsg(s.Options.Format, MsgTypeSnapshot, s.World.Snapshot(s.Options.WithEntities))
	if err != nil {
		return err
	}

	if !send(msg) {
		s.dropped++
	}
	return nil
}

// Dropped returns the number of snapshots that were not sent because the
// client was too slow to read them.
func (s *DebugStream) Dropped() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.dropped
}

// HandleRequest updates the stream options and replies with the options in
// use.
func (s *DebugStream) HandleRequest(ctx context.Context, send func(Msg) bool, req Request) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if req.Every != nil {
		if *req.Every < 1 || *req.Every > maxEvery {
			return errors.New("every must be between 1 and 3600").
				WithType(ErrTypeInvalidRequest).
				WithTag("every", *req.Every)
		}
		s.Options.Every = *req.Every
	}

	if req.Entities != nil {
		s.Options.WithEntities = *req.Entities
	}

	msg, err := encodeMsg(s.Options.Format, MsgTypeOptions, OptionsView{
		Every:    s.Options.Every,
		Entities: s.Options.WithEntities,
		Format:   s.Options.Format,
	})
	if err != nil {
		return err
	}

	send(msg)
	return nil
}

// HandleInvalidRequest replies with an error message. The stream options are
// left unchanged.
func (s *DebugStream) HandleInvalidRequest(ctx context.Context, send func(Msg) bool, err error) {
	s.mutex.Lock()
	format := s.Options.Format
	s.mutex.Unlock()

	msg, eerr := encodeMsg(format, MsgTypeError, ErrorView{
		Error: err.Error(),
		Type:  errors.Type(err),
	})
	if eerr != nil {
		return
	}
	send(msg)
}

// ErrorView is the payload of an error message.
type ErrorView struct {
	Error string `json:"error"`
	Type  string `json:"type,omitempty"`
}

// OptionsView is the payload of an options message.
type OptionsView struct {
	Every    int    `json:"every"`
	Entities bool   `json:"entities"`
	Format   Format `json:"format"`
}

func (s *DebugStream) Receiver() Receiver {
	return func() (Request, int, error) {
		var data []byte
		if err := websocket.Message.Receive(s.conn, &data); err != nil {
			return Request{}, 0, err
		}

		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			return Request{}, len(data), errors.New("decoding request failed").
				WithType(ErrTypeInvalidRequest).
				Wrap(err)
		}
		return req, len(data), nil
	}
}

func (s *DebugStream) Sender() Sender {
	return func(msg Msg) (int, error) {
		var err error
		if msg.Format == FormatProto {
			err = websocket.Message.Send(s.conn, msg.Data)
		} else {
			err = websocket.Message.Send(s.conn, string(msg.Data))
		}

		if err != nil {
			return 0, err
		}
		return len(msg.Data), nil
	}
}

func (s *DebugStream) IdleTimeout() time.Duration {
	return s.Options.IdleTimeout
}

func (s *DebugStream) GetClientID() string {
	return s.clientID
}

func (s *DebugStream) Close() {
}
