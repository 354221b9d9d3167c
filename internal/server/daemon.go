package server

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/csvquery/matchcache/internal/query"
)

// DefaultSocketPath is used when neither the config nor MATCHCACHE_SOCKET
// names a socket.
const DefaultSocketPath = "/tmp/matchcache.sock"

// DaemonConfig holds configuration for the Unix socket daemon.
type DaemonConfig struct {
	SocketPath     string
	MaxConcurrency int
	IdleTimeout    time.Duration
	Watch          bool // reload the dataset when its file changes
}

// UDSDaemon serves JSON-lines requests over a Unix domain socket.
type UDSDaemon struct {
	config   DaemonConfig
	store    *Store
	listener net.Listener
	sem      chan struct{}
	shutdown chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
}

// NewUDSDaemon creates a daemon serving store.
func NewUDSDaemon(cfg DaemonConfig, store *Store) *UDSDaemon {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 50
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Second
	}
	if cfg.SocketPath == "" {
		cfg.SocketPath = os.Getenv("MATCHCACHE_SOCKET")
		if cfg.SocketPath == "" {
			cfg.SocketPath = DefaultSocketPath
		}
	}

	return &UDSDaemon{
		config:   cfg,
		store:    store,
		sem:      make(chan struct{}, cfg.MaxConcurrency),
		shutdown: make(chan struct{}),
	}
}

// SocketPath returns the socket the daemon listens on.
func (d *UDSDaemon) SocketPath() string {
	return d.config.SocketPath
}

// Listen binds the socket, replacing a stale socket file.
func (d *UDSDaemon) Listen() error {
	if _, err := os.Stat(d.config.SocketPath); err == nil {
		if err := os.Remove(d.config.SocketPath); err != nil {
			return fmt.Errorf("failed to remove stale socket: %w", err)
		}
	}

	listener, err := net.Listen("unix", d.config.SocketPath)
	if err != nil {
		return fmt.Errorf("failed to bind socket %s: %w", d.config.SocketPath, err)
	}
	d.listener = listener

	if d.config.Watch {
		if err := d.store.Watch(d.shutdown); err != nil {
			_ = listener.Close()
			return err
		}
	}
	return nil
}

// Serve accepts connections until Shutdown is called.
func (d *UDSDaemon) Serve() error {
	if d.listener == nil {
		return errors.New("daemon is not listening")
	}
	for {
		conn, err := d.listener.Accept()
		if err != nil {
			select {
			case <-d.shutdown:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Printf("accept error: %v", err)
			continue
		}

		d.wg.Add(1)
		go d.handleConnection(conn)
	}
}

// Start listens and serves.
func (d *UDSDaemon) Start() error {
	if err := d.Listen(); err != nil {
		return err
	}
	st := d.store.Status()
	fmt.Printf("matchcache daemon started on %s\n", d.config.SocketPath)
	fmt.Printf("  CSV: %s (%d rows, value column %q)\n", st.Csv, st.Rows, st.ValueColumn)
	return d.Serve()
}

// Shutdown stops accepting, waits for open connections and removes the
// socket file. It is safe to call more than once.
func (d *UDSDaemon) Shutdown() {
	d.once.Do(func() {
		close(d.shutdown)
		if d.listener != nil {
			_ = d.listener.Close()
		}
		d.wg.Wait()
		_ = os.Remove(d.config.SocketPath)
	})
}

func (d *UDSDaemon) handleConnection(conn net.Conn) {
	defer d.wg.Done()
	defer func() { _ = conn.Close() }()

	select {
	case d.sem <- struct{}{}:
		defer func() { <-d.sem }()
	case <-d.shutdown:
		return
	}

	// Unblock the read below when shutting down.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-d.shutdown:
			_ = conn.SetReadDeadline(time.Now())
		case <-done:
		}
	}()

	reader := bufio.NewReader(conn)
	for {
		select {
		case <-d.shutdown:
			return
		default:
		}
		_ = conn.SetReadDeadline(time.Now().Add(d.config.IdleTimeout))

		line, err := reader.ReadBytes('\n')
		if err != nil {
			return
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		response := d.processRequest(line)

		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if _, err := conn.Write(append(response, '\n')); err != nil {
			return
		}
	}
}

// DaemonRequest is one line of the socket protocol.
type DaemonRequest struct {
	Action  string        `json:"action"`
	Query   query.Query   `json:"query,omitempty"`
	Queries []query.Query `json:"queries,omitempty"`
}

func (d *UDSDaemon) processRequest(data []byte) []byte {
	var req DaemonRequest
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		return errorResponse(errors.New("invalid JSON: " + err.Error()))
	}

	switch req.Action {
	case "ping":
		return successResponse(map[string]any{"pong": true})

	case "lookup":
		res, err := d.store.Lookup(req.Query)
		if err != nil {
			return errorResponse(err)
		}
		return successResponse(map[string]any{"result": res, "found": res != query.NotFound})

	case "average":
		avg, err := d.store.Average(req.Queries)
		if err != nil {
			return errorResponse(err)
		}
		return successResponse(map[string]any{"average": avg})

	case "status":
		return successResponse(map[string]any{
			"status":     "running",
			"socketPath": d.config.SocketPath,
			"dataset":    d.store.Status(),
		})

	case "stats":
		s := d.store.Stats()
		return successResponse(map[string]any{"stats": s, "hitRatio": s.HitRatio()})

	case "reload":
		if err := d.store.Reload(); err != nil {
			return errorResponse(err)
		}
		return successResponse(map[string]any{"reloaded": true, "dataset": d.store.Status()})

	default:
		return errorResponse(errors.New("unknown action: " + req.Action))
	}
}

func errorResponse(err error) []byte {
	resp := map[string]any{"error": err.Error()}
	if errors.Is(err, query.ErrSchema) {
		resp["kind"] = "schema"
	}
	b, _ := json.Marshal(resp)
	return b
}

func successResponse(data map[string]any) []byte {
	data["error"] = nil
	b, _ := json.Marshal(data)
	return b
}
