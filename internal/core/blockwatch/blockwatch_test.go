package blockwatch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oxen-io/session-push-notification-server/internal/oxend"
)

// fakeRefresher is a hand-written Refresher stand-in counting invocations.
type fakeRefresher struct {
	mu    sync.Mutex
	calls int
	ch    chan struct{}
}

func newFakeRefresher() *fakeRefresher {
	return &fakeRefresher{ch: make(chan struct{}, 16)}
}

func (r *fakeRefresher) Refresh(context.Context) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	select {
	case r.ch <- struct{}{}:
	default:
	}
}

type rpcRequest struct {
	Method string `json:"method"`
}

type blockNotice struct {
	Hash   string `json:"hash"`
	Height int64  `json:"height"`
}

// startFakeDaemon mirrors internal/oxend's own wire format without importing
// its unexported types, so the daemon side is independent of the client's
// internals and only the JSON contract is shared.
func startFakeDaemon(t *testing.T, handle func(ws *websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer ws.Close()
		handle(ws)
	}))
	t.Cleanup(srv.Close)
	return "ws" + srv.URL[len("http"):]
}

func TestRun_BlockNotificationTriggersRefresh(t *testing.T) {
	addr := startFakeDaemon(t, func(ws *websocket.Conn) {
		var req rpcRequest
		require.NoError(t, ws.ReadJSON(&req))
		assert.Equal(t, "sub.block", req.Method)
		require.NoError(t, ws.WriteJSON(blockNotice{Hash: "h1", Height: 1}))
		// keep the connection open so drainBlocks doesn't redial immediately.
		time.Sleep(200 * time.Millisecond)
	})

	client := oxend.New(addr, time.Second)
	refresher := newFakeRefresher()
	w := New(client, refresher, time.Hour, clock.NewMock())

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	defer func() {
		cancel()
		w.Stop()
	}()

	select {
	case <-refresher.ch:
	case <-time.After(time.Second):
		t.Fatal("expected a refresh triggered by the block notification")
	}
}

func TestRun_PeriodicRefreshFiresOnSubsInterval(t *testing.T) {
	addr := startFakeDaemon(t, func(ws *websocket.Conn) {
		var req rpcRequest
		_ = ws.ReadJSON(&req)
		<-make(chan struct{}) // block forever; this test only cares about the ticker path
	})

	client := oxend.New(addr, time.Second)
	refresher := newFakeRefresher()
	mockClock := clock.NewMock()
	w := New(client, refresher, time.Minute, mockClock)

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	defer func() {
		cancel()
		w.Stop()
	}()

	// give the ticker goroutine a moment to actually register with the mock
	// clock before advancing it past the subs_interval.
	time.Sleep(50 * time.Millisecond)
	mockClock.Add(time.Minute)

	select {
	case <-refresher.ch:
	case <-time.After(time.Second):
		t.Fatal("expected the subs_interval ticker to trigger a refresh")
	}
}

func TestRun_DialFailureRetriesAfterBackoff(t *testing.T) {
	var attempts int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n == 1 {
			// reject the first dial outright to force the redial path.
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer ws.Close()
		<-make(chan struct{})
	}))
	t.Cleanup(srv.Close)
	addr := "ws" + srv.URL[len("http"):]

	client := oxend.New(addr, time.Second)
	refresher := newFakeRefresher()
	mockClock := clock.NewMock()
	w := New(client, refresher, time.Hour, mockClock)

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	defer func() {
		cancel()
		w.Stop()
	}()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&attempts) >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	mockClock.Add(redialBackoff)

	require.Eventually(t, func() bool { return atomic.LoadInt32(&attempts) >= 2 }, time.Second, time.Millisecond,
		"a failed dial must be retried after redialBackoff elapses")
}

func TestStop_ShutsDownBothLoopsAndReturnsFromRun(t *testing.T) {
	addr := startFakeDaemon(t, func(ws *websocket.Conn) {
		var req rpcRequest
		_ = ws.ReadJSON(&req)
		<-make(chan struct{})
	})

	client := oxend.New(addr, time.Second)
	refresher := newFakeRefresher()
	w := New(client, refresher, time.Hour, clock.NewMock())

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	w.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
}
