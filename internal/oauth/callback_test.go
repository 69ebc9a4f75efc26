package oauth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingListener struct {
	net.Listener
	closes *atomic.Int32
}

func (l countingListener) Close() error {
	l.closes.Add(1)
	return l.Listener.Close()
}

func newTestListener(t *testing.T, opts ...CallbackOption) (*CallbackListener, int) {
	t.Helper()
	opts = append([]CallbackOption{WithCallbackLogger(slog.New(slog.DiscardHandler))}, opts...)
	l := NewCallbackListener(opts...)
	port, err := l.Start()
	require.NoError(t, err)
	require.NotZero(t, port)
	t.Cleanup(l.Close)
	return l, port
}

type awaitResult struct {
	code string
	err  error
}

func awaitAsync(l *CallbackListener, ctx context.Context, state string, timeout time.Duration) <-chan awaitResult {
	ch := make(chan awaitResult, 1)
	go func() {
		code, err := l.Await(ctx, state, timeout)
		ch <- awaitResult{code: code, err: err}
	}()
	return ch
}

func get(t *testing.T, port int, path string, query url.Values) (int, string) {
	t.Helper()
	u := fmt.Sprintf("http://127.0.0.1:%d%s", port, path)
	if query != nil {
		u += "?" + query.Encode()
	}
	resp, err := http.Get(u)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func waitResult(t *testing.T, ch <-chan awaitResult) awaitResult {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("Await did not return")
		return awaitResult{}
	}
}

func TestCallbackListener_Success(t *testing.T) {
	l, port := newTestListener(t)
	assert.Equal(t, StateListening, l.State())
	assert.Equal(t, fmt.Sprintf("http://localhost:%d/callback", port), l.RedirectURI())

	ch := awaitAsync(l, context.Background(), "xyz", 5*time.Second)

	status, body := get(t, port, "/callback", url.Values{"code": {"abc"}, "state": {"xyz"}})
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Authorization successful")

	res := waitResult(t, ch)
	require.NoError(t, res.err)
	assert.Equal(t, "abc", res.code)
	assert.Equal(t, StateResolved, l.State())

	// socket is closed after resolution
	_, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), time.Second)
	assert.Error(t, err)
}

func TestCallbackListener_StateMismatch(t *testing.T) {
	tests := []struct {
		name  string
		query url.Values
	}{
		{name: "wrong state", query: url.Values{"code": {"abc"}, "state": {"evil"}}},
		{name: "missing state", query: url.Values{"code": {"abc"}}},
		{name: "missing code", query: url.Values{"state": {"xyz"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, port := newTestListener(t)
			ch := awaitAsync(l, context.Background(), "xyz", 5*time.Second)

			status, body := get(t, port, "/callback", tt.query)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Contains(t, body, "Authorization failed")

			res := waitResult(t, ch)
			assert.ErrorIs(t, res.err, ErrCallbackStateMismatch)
			assert.Empty(t, res.code)
			assert.Equal(t, StateMismatched, l.State())
		})
	}
}

func TestCallbackListener_ConsentDenied(t *testing.T) {
	l, port := newTestListener(t)
	ch := awaitAsync(l, context.Background(), "xyz", 5*time.Second)

	status, body := get(t, port, "/callback", url.Values{
		"error":             {"access_denied"},
		"error_description": {"<script>alert(1)</script>"},
		"state":             {"xyz"},
	})
	assert.Equal(t, http.StatusOK, status)
	assert.NotContains(t, body, "<script>")
	assert.Contains(t, body, "&lt;script&gt;")

	res := waitResult(t, ch)
	require.Error(t, res.err)
	assert.True(t, errors.Is(res.err, ErrProviderDeniedConsent))

	var denied *ConsentDeniedError
	require.ErrorAs(t, res.err, &denied)
	assert.Equal(t, "access_denied", denied.Code)
	assert.Equal(t, StateDenied, l.State())
}

func TestCallbackListener_NotFoundDoesNotResolve(t *testing.T) {
	l, port := newTestListener(t)
	ch := awaitAsync(l, context.Background(), "xyz", 5*time.Second)

	status, _ := get(t, port, "/favicon.ico", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, StateListening, l.State())

	status, _ = get(t, port, "/callback", url.Values{"code": {"abc"}, "state": {"xyz"}})
	assert.Equal(t, http.StatusOK, status)

	res := waitResult(t, ch)
	require.NoError(t, res.err)
	assert.Equal(t, "abc", res.code)
}

func TestCallbackListener_Timeout(t *testing.T) {
	l, _ := newTestListener(t)

	start := time.Now()
	_, err := l.Await(context.Background(), "xyz", 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrCallbackTimeout)
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Equal(t, StateTimedOut, l.State())
}

func TestCallbackListener_ContextCanceled(t *testing.T) {
	l, _ := newTestListener(t)

	ctx, cancel := context.WithCancel(context.Background())
	ch := awaitAsync(l, ctx, "xyz", time.Minute)
	cancel()

	res := waitResult(t, ch)
	assert.ErrorIs(t, res.err, context.Canceled)
	assert.Equal(t, StateCanceled, l.State())
}

func TestCallbackListener_ClosesSocketOnce(t *testing.T) {
	tests := []struct {
		name string
		run  func(t *testing.T, l *CallbackListener, port int)
	}{
		{
			name: "resolved",
			run: func(t *testing.T, l *CallbackListener, port int) {
				ch := awaitAsync(l, context.Background(), "s", 5*time.Second)
				get(t, port, "/callback", url.Values{"code": {"c"}, "state": {"s"}})
				waitResult(t, ch)
			},
		},
		{
			name: "timed out",
			run: func(t *testing.T, l *CallbackListener, _ int) {
				_, _ = l.Await(context.Background(), "s", 10*time.Millisecond)
			},
		},
		{
			name: "closed before await",
			run:  func(t *testing.T, l *CallbackListener, _ int) {},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var closes atomic.Int32
			listen := func(network, address string) (net.Listener, error) {
				ln, err := net.Listen(network, address)
				if err != nil {
					return nil, err
				}
				return countingListener{Listener: ln, closes: &closes}, nil
			}

			l, port := newTestListener(t, WithListenFunc(listen))
			tt.run(t, l, port)

			l.Close()
			l.Close()

			assert.Equal(t, int32(1), closes.Load())
			assert.True(t, l.State().Terminal())
		})
	}
}

func TestCallbackListener_SingleResolution(t *testing.T) {
	var outcomes atomic.Int32
	l, port := newTestListener(t, WithOutcomeHook(func(ListenerState) { outcomes.Add(1) }))
	ch := awaitAsync(l, context.Background(), "xyz", 5*time.Second)

	get(t, port, "/callback", url.Values{"code": {"first"}, "state": {"xyz"}})
	res := waitResult(t, ch)
	require.NoError(t, res.err)
	assert.Equal(t, "first", res.code)

	_, err := l.Await(context.Background(), "xyz", time.Second)
	assert.ErrorIs(t, err, ErrListenerNotReady)
	assert.Equal(t, int32(1), outcomes.Load())
}

func TestCallbackListener_PortAllocationFailed(t *testing.T) {
	l := NewCallbackListener(
		WithCallbackLogger(slog.New(slog.DiscardHandler)),
		WithListenFunc(func(string, string) (net.Listener, error) {
			return nil, errors.New("address already in use")
		}),
	)

	_, err := l.Start()
	assert.ErrorIs(t, err, ErrPortAllocationFailed)
	assert.Equal(t, StateIdle, l.State())

	l.Close()
	assert.Equal(t, StateCanceled, l.State())
}

func TestCallbackListener_AwaitBeforeStart(t *testing.T) {
	l := NewCallbackListener()
	_, err := l.Await(context.Background(), "xyz", time.Second)
	assert.ErrorIs(t, err, ErrListenerNotReady)
}

func TestListenerState_String(t *testing.T) {
	assert.Equal(t, "listening", StateListening.String())
	assert.Equal(t, "timed_out", StateTimedOut.String())
	assert.False(t, StateIdle.Terminal())
	assert.True(t, StateDenied.Terminal())
}
