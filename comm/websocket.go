package comm

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const frameHeader = 12 // source, dest, tag as int32

// WebSocketConfig describes one rank of a star shaped websocket network.
// The hub rank listens on Address; every other rank dials it. Only
// hub <-> worker traffic is routed, which is all the gather rounds need.
type WebSocketConfig struct {
	Address string
	Path    string
	RunID   uuid.UUID
	Rank    int
	Size    int
	Hub     int

	// DialRetry is the pause between attempts while the hub is not up yet
	DialRetry time.Duration
}

func (cfg WebSocketConfig) path() string {
	if cfg.Path == "" {
		return "/comm"
	}
	return cfg.Path
}

func (cfg WebSocketConfig) validate() error {
	if cfg.Size < 1 {
		return fmt.Errorf("websocket: size must be positive, got %d", cfg.Size)
	}
	if err := checkRank(cfg.Rank, cfg.Size); err != nil {
		return fmt.Errorf("websocket: %w", err)
	}
	if err := checkRank(cfg.Hub, cfg.Size); err != nil {
		return fmt.Errorf("websocket hub: %w", err)
	}
	if cfg.RunID == uuid.Nil {
		return errors.New("websocket: run id not set")
	}
	return nil
}

type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
	rank int
}

func (w *wsConn) write(ctx context.Context, source, dest int, tag Tag, payload []byte) error {
	frame := make([]byte, frameHeader, frameHeader+len(payload))
	binary.LittleEndian.PutUint32(frame[0:], uint32(int32(source)))
	binary.LittleEndian.PutUint32(frame[4:], uint32(int32(dest)))
	binary.LittleEndian.PutUint32(frame[8:], uint32(int32(tag)))
	frame = append(frame, payload...)

	w.mu.Lock()
	defer w.mu.Unlock()
	if dl, ok := ctx.Deadline(); ok {
		_ = w.conn.SetWriteDeadline(dl)
		defer func() { _ = w.conn.SetWriteDeadline(time.Time{}) }()
	}
	return w.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (w *wsConn) close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return w.conn.Close()
}

// readLoop delivers frames from one peer into box until the connection ends.
// An abnormal close shuts the mailbox so blocked receives fail instead of
// hanging.
func readLoop(w *wsConn, box *mailbox, self int) {
	log := logrus.WithFields(logrus.Fields{"rank": self, "peer": w.rank})
	for {
		typ, msg, err := w.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) || errors.Is(err, net.ErrClosed) {
				log.Debug("peer closed connection")
				return
			}
			log.Warnf("connection lost: %v", err)
			box.close()
			return
		}
		if typ != websocket.BinaryMessage || len(msg) < frameHeader {
			log.Warnf("dropping malformed frame (type %d, %d bytes)", typ, len(msg))
			continue
		}
		source := int(int32(binary.LittleEndian.Uint32(msg[0:])))
		dest := int(int32(binary.LittleEndian.Uint32(msg[4:])))
		tag := Tag(int32(binary.LittleEndian.Uint32(msg[8:])))
		if source != w.rank || dest != self {
			log.Warnf("dropping frame %d->%d on connection of rank %d", source, dest, w.rank)
			continue
		}
		if err := box.deliver(context.Background(), source, tag, msg[frameHeader:]); err != nil {
			return
		}
	}
}

// WebSocketHub accepts the worker connections of one run
type WebSocketHub struct {
	cfg      WebSocketConfig
	listener net.Listener
	server   *http.Server
	upgrader websocket.Upgrader
	box      *mailbox

	mu     sync.Mutex
	conns  map[int]*wsConn
	joined chan int
}

// ListenWebSocket starts the hub listener. Call Accept to wait for workers.
func ListenWebSocket(cfg WebSocketConfig) (*WebSocketHub, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Rank != cfg.Hub {
		return nil, fmt.Errorf("websocket: rank %d is not the hub %d", cfg.Rank, cfg.Hub)
	}
	ln, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("websocket listen %s: %w", cfg.Address, err)
	}
	h := &WebSocketHub{
		cfg:      cfg,
		listener: ln,
		box:      newMailbox(),
		conns:    make(map[int]*wsConn),
		joined:   make(chan int, cfg.Size),
	}
	mux := http.NewServeMux()
	mux.HandleFunc(cfg.path(), h.serve)
	h.server = &http.Server{Handler: mux}
	go func() {
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Errorf("websocket hub: %v", err)
		}
	}()
	logrus.WithField("rank", cfg.Rank).Infof("waiting for %d workers on %s", cfg.Size-1, ln.Addr())
	return h, nil
}

// Addr returns the address the hub listens on
func (h *WebSocketHub) Addr() net.Addr {
	return h.listener.Addr()
}

func (h *WebSocketHub) serve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	run, err := uuid.Parse(q.Get("run"))
	if err != nil || run != h.cfg.RunID {
		http.Error(w, "run id mismatch", http.StatusForbidden)
		return
	}
	rank, err := strconv.Atoi(q.Get("rank"))
	if err != nil || checkRank(rank, h.cfg.Size) != nil || rank == h.cfg.Hub {
		http.Error(w, "invalid rank", http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, dup := h.conns[rank]; dup {
		http.Error(w, "rank already joined", http.StatusConflict)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.Warnf("websocket upgrade for rank %d: %v", rank, err)
		return
	}
	wc := &wsConn{conn: conn, rank: rank}
	h.conns[rank] = wc
	go readLoop(wc, h.box, h.cfg.Rank)
	h.joined <- rank
}

// Accept blocks until every worker rank has connected
func (h *WebSocketHub) Accept(ctx context.Context) (*WebSocketComm, error) {
	for n := 0; n < h.cfg.Size-1; n++ {
		select {
		case rank := <-h.joined:
			logrus.WithField("rank", h.cfg.Rank).Debugf("rank %d joined", rank)
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for workers: %w", ctx.Err())
		}
	}
	h.mu.Lock()
	conns := make(map[int]*wsConn, len(h.conns))
	for r, c := range h.conns {
		conns[r] = c
	}
	h.mu.Unlock()
	return &WebSocketComm{
		cfg:   h.cfg,
		box:   h.box,
		conns: conns,
		shutdown: func() error {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			return h.server.Shutdown(ctx)
		},
	}, nil
}

// DialWebSocket connects a worker rank to the hub, retrying until the hub
// answers or ctx ends.
func DialWebSocket(ctx context.Context, cfg WebSocketConfig) (*WebSocketComm, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Rank == cfg.Hub {
		return nil, fmt.Errorf("websocket: hub rank %d cannot dial", cfg.Rank)
	}
	retry := cfg.DialRetry
	if retry <= 0 {
		retry = 200 * time.Millisecond
	}
	u := url.URL{
		Scheme: "ws",
		Host:   cfg.Address,
		Path:   cfg.path(),
		RawQuery: url.Values{
			"rank": {strconv.Itoa(cfg.Rank)},
			"run":  {cfg.RunID.String()},
		}.Encode(),
	}
	for {
		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
		if err == nil {
			wc := &wsConn{conn: conn, rank: cfg.Hub}
			c := &WebSocketComm{
				cfg:   cfg,
				box:   newMailbox(),
				conns: map[int]*wsConn{cfg.Hub: wc},
			}
			go readLoop(wc, c.box, cfg.Rank)
			return c, nil
		}
		if resp != nil && resp.StatusCode >= 400 {
			return nil, fmt.Errorf("websocket dial %s: hub refused with %s", u.Host, resp.Status)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("websocket dial %s: %w (last error: %v)", u.Host, ctx.Err(), err)
		case <-time.After(retry):
		}
	}
}

// WebSocketComm is a Communicator over websocket connections
type WebSocketComm struct {
	cfg      WebSocketConfig
	box      *mailbox
	conns    map[int]*wsConn
	shutdown func() error
	once     sync.Once
}

func (c *WebSocketComm) Rank() int { return c.cfg.Rank }
func (c *WebSocketComm) Size() int { return c.cfg.Size }

func (c *WebSocketComm) Send(ctx context.Context, dest int, tag Tag, payload []byte) error {
	if err := checkRank(dest, c.cfg.Size); err != nil {
		return err
	}
	if dest == c.cfg.Rank {
		return c.box.deliver(ctx, dest, tag, append([]byte(nil), payload...))
	}
	wc, ok := c.conns[dest]
	if !ok {
		return fmt.Errorf("send %d->%d: %w", c.cfg.Rank, dest, ErrNoRoute)
	}
	if err := wc.write(ctx, c.cfg.Rank, dest, tag, payload); err != nil {
		return fmt.Errorf("send %d->%d: %w", c.cfg.Rank, dest, err)
	}
	return nil
}

func (c *WebSocketComm) Recv(ctx context.Context, source int, tag Tag) ([]byte, error) {
	if err := checkRank(source, c.cfg.Size); err != nil {
		return nil, err
	}
	return c.box.take(ctx, source, tag)
}

func (c *WebSocketComm) Barrier(ctx context.Context) error {
	return barrierVia(ctx, c, c.cfg.Hub)
}

func (c *WebSocketComm) Close() error {
	var err error
	c.once.Do(func() {
		for _, wc := range c.conns {
			if cerr := wc.close(); cerr != nil && err == nil {
				err = cerr
			}
		}
		if c.shutdown != nil {
			if serr := c.shutdown(); serr != nil && err == nil {
				err = serr
			}
		}
		c.box.close()
	})
	return err
}
