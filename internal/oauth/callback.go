package oauth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/teemow/mailauth/internal/logging"
)

// ListenerState is the lifecycle state of a CallbackListener.
type ListenerState int

const (
	StateIdle ListenerState = iota
	StateListening
	StateResolved
	StateDenied
	StateMismatched
	StateTimedOut
	StateCanceled
	StateFailed
)

func (s ListenerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateResolved:
		return "resolved"
	case StateDenied:
		return "denied"
	case StateMismatched:
		return "mismatched"
	case StateTimedOut:
		return "timed_out"
	case StateCanceled:
		return "canceled"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// Terminal reports whether no further transition is possible.
func (s ListenerState) Terminal() bool {
	return s != StateIdle && s != StateListening
}

// ListenFunc binds the loopback socket. Tests replace it to simulate
// allocation failures or to observe closes.
type ListenFunc func(network, address string) (net.Listener, error)

// CallbackOption configures a CallbackListener.
type CallbackOption func(*CallbackListener)

// WithListenFunc overrides how the loopback socket is bound.
func WithListenFunc(fn ListenFunc) CallbackOption {
	return func(l *CallbackListener) { l.listen = fn }
}

// WithCallbackLogger sets the logger used for lifecycle events.
func WithCallbackLogger(logger *slog.Logger) CallbackOption {
	return func(l *CallbackListener) { l.logger = logger }
}

// WithOutcomeHook registers a function called once with the terminal state.
func WithOutcomeHook(fn func(ListenerState)) CallbackOption {
	return func(l *CallbackListener) { l.onOutcome = fn }
}

type callbackResult struct {
	code string
	err  error
}

// CallbackListener is a single-use loopback HTTP server that receives one
// OAuth redirect. It moves Idle -> Listening -> one terminal state and the
// socket is closed exactly once on leaving Listening.
type CallbackListener struct {
	listen    ListenFunc
	logger    *slog.Logger
	onOutcome func(ListenerState)

	mu            sync.Mutex
	state         ListenerState
	expectedState string
	serving       bool
	listener      net.Listener
	server        *http.Server
	port          int

	result    chan callbackResult
	closeOnce sync.Once
}

// NewCallbackListener creates an idle listener.
func NewCallbackListener(opts ...CallbackOption) *CallbackListener {
	l := &CallbackListener{
		listen: net.Listen,
		logger: slog.Default(),
		result: make(chan callbackResult, 1),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start binds 127.0.0.1 on an ephemeral port and returns it. Requests are
// accepted once Await is called; until then they queue in the backlog.
func (l *CallbackListener) Start() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StateIdle {
		return 0, fmt.Errorf("callback listener already started (state %s)", l.state)
	}

	ln, err := l.listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPortAllocationFailed, err)
	}
	tcpAddr, ok := ln.Addr().(*net.TCPAddr)
	if !ok || tcpAddr.Port == 0 {
		_ = ln.Close()
		return 0, fmt.Errorf("%w: unexpected listener address %s", ErrPortAllocationFailed, ln.Addr())
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+CallbackPath, l.handleCallback)
	mux.HandleFunc("/", handleNotFound)

	l.listener = &onceCloseListener{Listener: ln}
	l.port = tcpAddr.Port
	l.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
	l.state = StateListening

	l.logger.Debug("callback listener started", logging.Port(l.port))
	return l.port, nil
}

// Port returns the bound port, or 0 before Start.
func (l *CallbackListener) Port() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.port
}

// RedirectURI is the redirect_uri registered with the provider for this run.
func (l *CallbackListener) RedirectURI() string {
	return fmt.Sprintf("http://localhost:%d%s", l.Port(), CallbackPath)
}

// State returns the current lifecycle state.
func (l *CallbackListener) State() ListenerState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Await serves the callback until it resolves, the timeout elapses or ctx is
// done. It returns the authorization code on success. Await may be called
// once per listener.
func (l *CallbackListener) Await(ctx context.Context, expectedState string, timeout time.Duration) (string, error) {
	l.mu.Lock()
	if l.state != StateListening || l.serving {
		l.mu.Unlock()
		return "", ErrListenerNotReady
	}
	l.expectedState = expectedState
	l.serving = true
	srv, ln := l.server, l.listener
	l.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.resolve(StateFailed, callbackResult{err: fmt.Errorf("callback server failed: %w", err)})
		}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var forced bool
	select {
	case res := <-l.result:
		l.finish(false)
		return res.code, res.err
	case <-timer.C:
		forced = l.resolve(StateTimedOut, callbackResult{err: ErrCallbackTimeout})
	case <-ctx.Done():
		forced = l.resolve(StateCanceled, callbackResult{err: fmt.Errorf("waiting for OAuth callback: %w", ctx.Err())})
	}

	// Either our own resolution or a callback that won the race.
	res := <-l.result
	l.finish(forced)
	return res.code, res.err
}

// Close releases the socket. It is safe to call from any state and more
// than once; a listener still waiting moves to Canceled.
func (l *CallbackListener) Close() {
	l.resolve(StateCanceled, callbackResult{err: context.Canceled})
	l.finish(true)
}

// resolve performs the single transition out of Listening (or Idle) and
// queues the result. It returns false when another outcome already won.
func (l *CallbackListener) resolve(to ListenerState, res callbackResult) bool {
	l.mu.Lock()
	if l.state.Terminal() {
		l.mu.Unlock()
		return false
	}
	l.state = to
	l.mu.Unlock()

	l.result <- res
	l.logger.Debug("callback listener resolved", logging.Status(to.String()))
	if l.onOutcome != nil {
		l.onOutcome(to)
	}
	return true
}

// finish closes the socket exactly once. A graceful finish lets the
// response that resolved the listener drain first.
func (l *CallbackListener) finish(force bool) {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		srv, ln, serving := l.server, l.listener, l.serving
		l.mu.Unlock()

		if ln == nil {
			return
		}
		// Refuse new connections right away even if Serve has not begun.
		_ = ln.Close()
		if !serving {
			return
		}
		if force {
			_ = srv.Close()
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			_ = srv.Close()
		}
	})
}

func (l *CallbackListener) handleCallback(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Connection", "close")

	l.mu.Lock()
	expected := l.expectedState
	l.mu.Unlock()

	q := r.URL.Query()
	if errCode := q.Get("error"); errCode != "" {
		denied := &ConsentDeniedError{Code: errCode, Description: q.Get("error_description")}
		if !l.resolve(StateDenied, callbackResult{err: denied}) {
			writeGone(w)
			return
		}
		writePage(w, http.StatusOK, failurePage("Authorization was not granted", denied.Error()))
		return
	}

	code := q.Get("code")
	state := q.Get("state")
	if code == "" || expected == "" || subtle.ConstantTimeCompare([]byte(state), []byte(expected)) != 1 {
		if !l.resolve(StateMismatched, callbackResult{err: ErrCallbackStateMismatch}) {
			writeGone(w)
			return
		}
		writePage(w, http.StatusBadRequest, failurePage("Authorization failed", "The response did not match this login attempt. Please start again."))
		return
	}

	if !l.resolve(StateResolved, callbackResult{code: code}) {
		writeGone(w)
		return
	}
	writePage(w, http.StatusOK, successPage())
}

func handleNotFound(w http.ResponseWriter, _ *http.Request) {
	http.Error(w, "not found", http.StatusNotFound)
}

func writeGone(w http.ResponseWriter) {
	http.Error(w, "authorization already completed", http.StatusGone)
}

func writePage(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = fmt.Fprint(w, body)
}

// onceCloseListener lets finish close the socket directly while the
// http.Server also closes it on shutdown.
type onceCloseListener struct {
	net.Listener
	once sync.Once
	err  error
}

func (l *onceCloseListener) Close() error {
	l.once.Do(func() { l.err = l.Listener.Close() })
	return l.err
}
