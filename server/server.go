// server serves a live view of a training run: the greedy values and policy,
// where the latest episode ended, a rendered frame of the track and the
// recorded episode history.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"net/http"
	"strconv"
	"sync"
	"time"

	"trackworld/episode_store"
	"trackworld/grid_world"
	"trackworld/server/fastview"
	"trackworld/server/root_view"
	"trackworld/server/track_views"

	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"
)

var logger = log.WithPrefix("server")

const shutdownGracePeriod = 5 * time.Second

// EpisodeHistory is the read side of the episode store.
type EpisodeHistory interface {
	Summarize(runID string) (*episode_store.Summary, error)
	Recent(runID string, limit int) ([]episode_store.EpisodeRecord, error)
}

// Server serves the page, its websocket, the frame and the history of a
// single run. The element updates of the views are consumed by whichever
// websocket client reads them, so it is meant for one page at a time.
type Server struct {
	addr      string
	ctx       context.Context
	world     *grid_world.World
	rootView  *root_view.RootView
	snapshots chan track_views.Snapshot
	history   EpisodeHistory
	runID     string

	mu     sync.RWMutex
	latest track_views.Snapshot
}

// Option configures optional collaborators of a Server.
type Option func(*Server)

// WithHistory serves the episodes recorded for runID at /episodes.
func WithHistory(history EpisodeHistory, runID string) Option {
	return func(server *Server) {
		server.history = history
		server.runID = runID
	}
}

// NewServer builds the views for world, starting from initial. The views are
// torn down when ctx is done.
func NewServer(
	ctx context.Context,
	addr string,
	world *grid_world.World,
	initial track_views.Snapshot,
	opts ...Option,
) (*Server, error) {
	snapshots := make(chan track_views.Snapshot, 1)
	rootView, err := root_view.NewRootView(ctx, snapshots)
	if err != nil {
		return nil, fmt.Errorf("build views: %w", err)
	}

	server := &Server{
		addr:      addr,
		ctx:       ctx,
		world:     world,
		rootView:  rootView,
		snapshots: snapshots,
		latest:    initial,
	}
	for _, opt := range opts {
		opt(server)
	}
	return server, nil
}

// Publish records s as the latest snapshot and passes it on to the views. It
// never blocks: if the views are still busy with a previous snapshot, s only
// replaces the latest one.
func (server *Server) Publish(s track_views.Snapshot) {
	server.mu.Lock()
	server.latest = s
	server.mu.Unlock()

	select {
	case server.snapshots <- s:
	default:
	}
}

// Latest returns the most recently published snapshot.
func (server *Server) Latest() track_views.Snapshot {
	server.mu.RLock()
	defer server.mu.RUnlock()
	return server.latest
}

// Handler returns the routes of the server.
func (server *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/", server.serveIndex).Methods(http.MethodGet)
	router.HandleFunc("/ws", server.serveWebsocket)
	router.HandleFunc("/frame.png", server.serveFrame).Methods(http.MethodGet)
	router.HandleFunc("/episodes", server.serveEpisodes).Methods(http.MethodGet)
	return router
}

// Serve listens on the server's address until ctx is done, then shuts down.
func (server *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              server.addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("serving", "addr", server.addr)
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errs; !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// serveWebsocket pushes the views' element updates to the client.
func (server *Server) serveWebsocket(w http.ResponseWriter, r *http.Request) {
	cli, err := fastview.NewClient(server.ctx, server.rootView.Updates(), w, r)
	if err != nil {
		logger.Error("websocket", "err", err)
		return
	}
	// Push the current state so the page is fresh before training publishes again.
	server.Publish(server.Latest())

	if err = cli.Sync(); err != nil {
		logger.Warn("websocket client stopped", "remote", r.RemoteAddr, "err", err)
	}
}

func (server *Server) serveIndex(w http.ResponseWriter, r *http.Request) {
	var page bytes.Buffer
	if err := server.rootView.Render(&page, track_views.Convert(server.Latest())); err != nil {
		logger.Error("render index", "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = page.WriteTo(w)
}

// serveFrame renders the track with the agent where the latest episode ended.
func (server *Server) serveFrame(w http.ResponseWriter, r *http.Request) {
	latest := server.Latest()
	frame := server.world.Frame(latest.Agent, latest.Target)

	var buf bytes.Buffer
	if err := png.Encode(&buf, frame); err != nil {
		logger.Error("encode frame", "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = buf.WriteTo(w)
}

// Episodes is the /episodes response.
type Episodes struct {
	Summary *episode_store.Summary        `json:"summary"`
	Recent  []episode_store.EpisodeRecord `json:"recent"`
}

// serveEpisodes returns the run summary and its latest episodes; the limit
// query parameter bounds the number of episodes.
func (server *Server) serveEpisodes(w http.ResponseWriter, r *http.Request) {
	if server.history == nil {
		http.Error(w, "episode history is not recorded", http.StatusNotFound)
		return
	}

	limit := 20
	if val := r.URL.Query().Get("limit"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil || n <= 0 {
			http.Error(w, fmt.Sprintf("invalid limit %q", val), http.StatusBadRequest)
			return
		}
		limit = n
	}

	summary, err := server.history.Summarize(server.runID)
	if err != nil {
		logger.Error("summarize run", "run", server.runID, "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	recent, err := server.history.Recent(server.runID, limit)
	if err != nil {
		logger.Error("recent episodes", "run", server.runID, "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err = json.NewEncoder(w).Encode(Episodes{Summary: summary, Recent: recent}); err != nil {
		logger.Error("encode episodes", "err", err)
	}
}
