package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu       sync.Mutex
	accounts []string
	listErr  error
	failFor  map[string]bool
	calls    []string
}

func (f *fakeSource) ListStoredAccounts() ([]string, error) {
	return f.accounts, f.listErr
}

func (f *fakeSource) EnsureFreshToken(_ context.Context, email string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, email)
	if f.failFor[email] {
		return "", errors.New("refresh failed")
	}
	return "token", nil
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestKeeper_RunOnce(t *testing.T) {
	source := &fakeSource{
		accounts: []string{"a@gmail.com", "b@outlook.com", "c@gmail.com"},
		failFor:  map[string]bool{"b@outlook.com": true},
	}
	var hooked []CycleReport
	k := NewKeeper(source,
		WithKeeperLogger(discardLogger()),
		WithCycleHook(func(r CycleReport) { hooked = append(hooked, r) }))

	_, ok := k.LastCycle()
	assert.False(t, ok)

	report := k.RunOnce(context.Background())
	assert.Equal(t, 3, report.Accounts)
	assert.Equal(t, 1, report.Failed)
	assert.NoError(t, report.Err)
	assert.Equal(t, source.accounts, source.calls)

	last, ok := k.LastCycle()
	require.True(t, ok)
	assert.Equal(t, report, last)
	require.Len(t, hooked, 1)
	assert.Equal(t, report, hooked[0])
}

func TestKeeper_ListError(t *testing.T) {
	source := &fakeSource{listErr: errors.New("disk gone")}
	k := NewKeeper(source, WithKeeperLogger(discardLogger()))

	report := k.RunOnce(context.Background())
	assert.Error(t, report.Err)
	assert.Zero(t, report.Accounts)
	assert.Zero(t, source.callCount())
}

func TestKeeper_RunStopsOnCancel(t *testing.T) {
	source := &fakeSource{accounts: []string{"a@gmail.com"}}
	cycles := make(chan CycleReport, 16)
	k := NewKeeper(source,
		WithKeeperLogger(discardLogger()),
		WithKeeperInterval(10*time.Millisecond),
		WithCycleHook(func(r CycleReport) {
			select {
			case cycles <- r:
			default:
			}
		}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		k.Run(ctx)
		close(done)
	}()

	// The first pass runs immediately, the second on the ticker.
	for range 2 {
		select {
		case <-cycles:
		case <-time.After(2 * time.Second):
			t.Fatal("keeper did not run a pass")
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("keeper did not stop after cancel")
	}
	assert.GreaterOrEqual(t, source.callCount(), 2)
}

func TestKeeper_RefreshesThroughService(t *testing.T) {
	env := newTestEnv(t).withGoogleClient(t)
	env.saveRecord(t, googleRecord("stale@gmail.com", testNow.Add(30*time.Second)))
	env.saveRecord(t, googleRecord("fresh@gmail.com", testNow.Add(time.Hour)))
	ex := &fakeExchanger{refreshResult: &fakeRefreshResult}
	svc := newTestService(t, env, ex)

	report := NewKeeper(svc, WithKeeperLogger(discardLogger())).RunOnce(context.Background())
	assert.Equal(t, 2, report.Accounts)
	assert.Zero(t, report.Failed)
	assert.Equal(t, int32(1), ex.refreshCalls.Load())

	stored, err := env.tokens.Load("stale@gmail.com")
	require.NoError(t, err)
	assert.Equal(t, fakeRefreshResult.AccessToken, stored.AccessToken)
}
