package fastview

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	channerics "github.com/niceyeti/channerics/channels"
	"golang.org/x/sync/errgroup"
)

var logger = log.WithPrefix("fastview")

const (
	// Time allowed to write a message to the peer.
	writeWait = 1 * time.Second
	// Maximum message size allowed from peer.
	maxMessageSize = 8192

	// Updates arriving faster than this are dropped; they are idempotent.
	pubResolution  = 100 * time.Millisecond
	pingResolution = 200 * time.Millisecond
	// The number of pings to tolerate losing before concluding the peer is gone.
	pongWait = pingResolution * 4

	closeGracePeriod = time.Second
)

var upgrader = websocket.Upgrader{}

// Client publishes idempotent updates to a single web page over a websocket.
// Only the latest update matters, so updates received faster than the
// publication rate are discarded.
type Client[T any] struct {
	updates <-chan T
	ws      *websock
	ctx     context.Context
}

// NewClient upgrades the request to a websocket. The client stops when ctx is
// done, the peer disconnects or updates closes.
func NewClient[T any](
	ctx context.Context,
	updates <-chan T,
	w http.ResponseWriter,
	r *http.Request,
) (*Client[T], error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the peer.
		return nil, fmt.Errorf("websocket upgrade: %w", err)
	}
	ws.SetReadLimit(maxMessageSize)

	return &Client[T]{
		updates: updates,
		ws:      newWebSocket(ws),
		ctx:     ctx,
	}, nil
}

// Sync publishes updates until the client stops and closes the websocket.
// A peer disconnect is not an error.
func (cli *Client[T]) Sync() error {
	group, groupCtx := errgroup.WithContext(cli.ctx)

	group.Go(func() error {
		return cli.readMessages(groupCtx)
	})
	group.Go(func() error {
		return cli.pingPong(groupCtx)
	})
	group.Go(func() error {
		return cli.publish(groupCtx)
	})
	group.Go(func() error {
		// Reads only return on error, so unblock them by closing the socket.
		<-groupCtx.Done()
		cli.ws.Close()
		return nil
	})

	err := group.Wait()
	if isClosure(err) || errors.Is(err, errPeerClosed) || errors.Is(err, errUpdatesClosed) {
		logger.Debug("client disconnected", "err", err)
		return nil
	}
	return err
}

var (
	// ErrPongDeadlineExceeded is returned when the peer stops answering pings.
	ErrPongDeadlineExceeded = errors.New("client disconnect, pong deadline exceeded")
	errPeerClosed           = errors.New("peer closed")
	errUpdatesClosed        = errors.New("updates closed")
)

// pingPong runs the liveness check. It relies on readMessages to dispatch pongs.
func (cli *Client[T]) pingPong(ctx context.Context) error {
	pong := make(chan struct{})
	cli.ws.Conn().SetPongHandler(func(_ string) error {
		select {
		case pong <- struct{}{}:
		case <-ctx.Done():
		}
		return nil
	})

	pinger := channerics.NewTicker(ctx.Done(), pingResolution)
	lastPong := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-pinger:
			if time.Since(lastPong) > pongWait {
				return ErrPongDeadlineExceeded
			}
			if err := cli.ping(ctx); err != nil {
				return err
			}
		case <-pong:
			lastPong = time.Now()
		}
	}
}

func (cli *Client[T]) ping(ctx context.Context) error {
	return cli.ws.Write(
		ctx,
		func(ws *websocket.Conn) (err error) {
			if err = ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				if isError(err) {
					err = fmt.Errorf("ping failed: %T %w", err, err)
				}
			}
			return
		})
}

// readMessages discards peer messages; any read error is permanent.
func (cli *Client[T]) readMessages(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		err := cli.ws.Read(
			ctx,
			func(ws *websocket.Conn) (readErr error) {
				_, _, readErr = ws.ReadMessage()
				return
			})
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return nil
		case isClosure(err):
			return errPeerClosed
		default:
			return err
		}
	}
}

func (cli *Client[T]) publish(ctx context.Context) error {
	lastSync := time.Time{}

	for {
		select {
		case <-ctx.Done():
			return nil
		case updates, ok := <-cli.updates:
			if !ok {
				return errUpdatesClosed
			}
			if time.Since(lastSync) < pubResolution {
				continue
			}

			lastSync = time.Now()
			err := cli.ws.Write(
				ctx,
				func(ws *websocket.Conn) (writeErr error) {
					if writeErr = ws.SetWriteDeadline(time.Now().Add(writeWait)); writeErr != nil {
						return fmt.Errorf("failed to set deadline: %w", writeErr)
					}
					if writeErr = ws.WriteJSON(updates); writeErr != nil && isError(writeErr) {
						writeErr = fmt.Errorf("publish failed: %T %w", writeErr, writeErr)
					}
					return
				})
			if err != nil {
				return err
			}
		}
	}
}

func isError(err error) bool {
	return err != nil && websocket.IsUnexpectedCloseError(
		err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway)
}

func isClosure(err error) bool {
	return err != nil && websocket.IsCloseError(
		err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived)
}

// ErrSockCongestion indicates there are too many waiters on the socket for a given op.
var ErrSockCongestion = errors.New("sock op failed due to congestion")

const sockOpDeadline = time.Second

// websock serializes reads and writes, since a websocket allows only one
// concurrent reader and one concurrent writer.
type websock struct {
	readSem  chan struct{}
	writeSem chan struct{}
	ws       *websocket.Conn
}

func newWebSocket(ws *websocket.Conn) *websock {
	return &websock{
		readSem:  make(chan struct{}, 1),
		writeSem: make(chan struct{}, 1),
		ws:       ws,
	}
}

// Conn returns the underlying websocket, for setup such as adding handlers.
func (sock *websock) Conn() *websocket.Conn {
	return sock.ws
}

// Close sends a close message and closes the socket. Pending reads fail.
func (sock *websock) Close() {
	sock.writeSem <- struct{}{}
	_ = sock.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	<-sock.writeSem

	// Give the peer a moment to answer the close before dropping the connection.
	time.AfterFunc(closeGracePeriod, func() { _ = sock.ws.Close() })
	_ = sock.ws.SetReadDeadline(time.Now().Add(closeGracePeriod))
}

// Read serializes read operations on the web socket.
func (sock *websock) Read(
	ctx context.Context,
	readFn func(*websocket.Conn) error,
) error {
	select {
	case <-ctx.Done():
		return nil
	case sock.readSem <- struct{}{}:
		defer func() { <-sock.readSem }()
		return readFn(sock.ws)
	}
}

// Write serializes write operations on the web socket.
func (sock *websock) Write(
	ctx context.Context,
	writeFn func(*websocket.Conn) error,
) error {
	select {
	case <-ctx.Done():
		return nil
	case sock.writeSem <- struct{}{}:
		defer func() { <-sock.writeSem }()
		return writeFn(sock.ws)
	case <-time.After(sockOpDeadline):
		return ErrSockCongestion
	}
}
