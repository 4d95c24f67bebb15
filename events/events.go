// Package events fans ledger transitions out to websocket subscribers.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/datmedevil17/apocalypse/ledger"
)

const (
	shutdownPollInterval = 50 * time.Millisecond
	writeDeadline        = 5 * time.Second
)

const (
	ProfileInitialized = "profile.initialized"
	ProfileDelegated   = "profile.delegated"
	ProfileUndelegated = "profile.undelegated"
	GameStarted        = "game.started"
	ZombieKilled       = "zombie.killed"
	GameEnded          = "game.ended"
	BattleCreated      = "battle.created"
	BattleDelegated    = "battle.delegated"
	BattleStarted      = "battle.started"
	BattleJoined       = "battle.joined"
	BattleZombieKilled = "battle.zombie_killed"
	BattleEnded        = "battle.ended"
	BattleCommitted    = "battle.committed"
	SessionCreated     = "session.created"
	SessionRevoked     = "session.revoked"
)

// Event is one transition as seen by subscribers.
type Event struct {
	ID        uuid.UUID    `json:"id"`
	Type      string       `json:"type"`
	Layer     ledger.Layer `json:"layer"`
	Timestamp int64        `json:"timestamp"`
	Payload   any          `json:"payload"`
}

// New stamps an event with a fresh id and the current time.
func New(typ string, layer ledger.Layer, payload any) Event {
	return Event{
		ID:        uuid.New(),
		Type:      typ,
		Layer:     layer,
		Timestamp: time.Now().UnixMilli(),
		Payload:   payload,
	}
}

// Emitter accepts events. Emitted events are queued until the next flush.
type Emitter interface {
	Emit(Event) error
}

type nopEmitter struct{}

func (nopEmitter) Emit(Event) error { return nil }

// Nop discards every event.
func Nop() Emitter { return nopEmitter{} }

type connAndDone struct {
	conn *websocket.Conn
	done chan struct{}
}

// Hub queues emitted events and writes them to every registered connection on Flush. All hub state is owned
// by the Run loop; the exported methods talk to it over channels.
type Hub struct {
	connections map[*websocket.Conn]bool
	queue       [][]byte

	broadcast        chan []byte
	flush            chan chan struct{}
	register         chan connAndDone
	unregister       chan connAndDone
	queueLength      chan chan int
	connectionAmount chan chan int
	shutdown         chan struct{}
	running          atomic.Bool

	logger zerolog.Logger
}

var _ Emitter = &Hub{}

// NewHub starts a hub.
func NewHub(logger zerolog.Logger) *Hub {
	h := &Hub{
		connections:      map[*websocket.Conn]bool{},
		queue:            make([][]byte, 0),
		broadcast:        make(chan []byte),
		flush:            make(chan chan struct{}),
		register:         make(chan connAndDone),
		unregister:       make(chan connAndDone),
		queueLength:      make(chan chan int),
		connectionAmount: make(chan chan int),
		shutdown:         make(chan struct{}),
		logger:           logger,
	}
	h.running.Store(true)
	go h.run()
	return h
}

func (h *Hub) Emit(event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return eris.Wrap(err, "must use a json serializable payload for events")
	}
	if !h.running.Load() {
		return nil
	}
	h.broadcast <- data
	return nil
}

// Flush writes every queued event to every connection and blocks until the writes are done.
func (h *Hub) Flush() {
	if !h.running.Load() {
		return
	}
	done := make(chan struct{})
	h.flush <- done
	<-done
}

func (h *Hub) QueueLength() int {
	res := make(chan int)
	h.queueLength <- res
	return <-res
}

func (h *Hub) ConnectionAmount() int {
	res := make(chan int)
	h.connectionAmount <- res
	return <-res
}

func (h *Hub) Register(conn *websocket.Conn) {
	done := make(chan struct{})
	h.register <- connAndDone{conn: conn, done: done}
	<-done
}

func (h *Hub) Unregister(conn *websocket.Conn) {
	done := make(chan struct{})
	h.unregister <- connAndDone{conn: conn, done: done}
	<-done
}

// Shutdown closes every connection and stops the hub. It blocks until the loop has exited.
func (h *Hub) Shutdown() {
	if !h.running.Load() {
		return
	}
	h.shutdown <- struct{}{}
	for h.running.Load() {
		time.Sleep(shutdownPollInterval)
	}
}

//nolint:gocognit
func (h *Hub) run() {
	drop := func(conn *websocket.Conn) {
		if _, ok := h.connections[conn]; !ok {
			return
		}
		delete(h.connections, conn)
		if err := conn.Close(); err != nil {
			h.logger.Debug().Err(err).Msg("failed to close websocket connection")
		}
	}

	for {
		select {
		case res := <-h.connectionAmount:
			res <- len(h.connections)
		case res := <-h.queueLength:
			res <- len(h.queue)
		case r := <-h.register:
			h.connections[r.conn] = true
			close(r.done)
		case r := <-h.unregister:
			drop(r.conn)
			close(r.done)
		case event := <-h.broadcast:
			h.queue = append(h.queue, event)
		case done := <-h.flush:
			var failed sync.Map
			var wg sync.WaitGroup
			for conn := range h.connections {
				wg.Add(1)
				go func(conn *websocket.Conn) {
					defer wg.Done()
					for _, event := range h.queue {
						if err := h.write(conn, event); err != nil {
							h.logger.Error().Err(err).Msg(eris.ToString(err, true))
							failed.Store(conn, true)
							return
						}
					}
				}(conn)
			}
			wg.Wait()
			failed.Range(func(key, _ any) bool {
				drop(key.(*websocket.Conn))
				return true
			})
			h.queue = h.queue[:0]
			close(done)
		case <-h.shutdown:
			h.running.Store(false)
			for conn := range h.connections {
				drop(conn)
			}
			h.drain()
			return
		}
	}
}

// drain answers callers that raced with shutdown so none of them blocks forever.
func (h *Hub) drain() {
	go func() {
		for {
			select {
			case <-h.broadcast:
			case done := <-h.flush:
				close(done)
			case r := <-h.register:
				_ = r.conn.Close()
				close(r.done)
			case r := <-h.unregister:
				close(r.done)
			case res := <-h.queueLength:
				res <- 0
			case res := <-h.connectionAmount:
				res <- 0
			case <-h.shutdown:
			}
		}
	}()
}

func (h *Hub) write(conn *websocket.Conn, event []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		return eris.Wrap(err, "failed to set write deadline")
	}
	if err := conn.WriteMessage(websocket.TextMessage, event); err != nil {
		return eris.Wrap(err, "failed to write event")
	}
	return nil
}

// Handler returns the websocket handler that subscribes a connection to the hub. Subscribers only listen;
// anything they send is discarded.
func (h *Hub) Handler() func(conn *websocket.Conn) {
	return func(conn *websocket.Conn) {
		h.Register(conn)
		defer h.Unregister(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.logger.Debug().Err(err).Msg("websocket subscriber left")
				return
			}
		}
	}
}
