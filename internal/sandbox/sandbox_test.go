package sandbox

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeValueStore struct {
	mu     sync.Mutex
	values map[string]string
}

func newFakeValueStore() *fakeValueStore {
	return &fakeValueStore{values: make(map[string]string)}
}

func (s *fakeValueStore) GetRaw(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.values[key]
	return raw, ok, nil
}

func (s *fakeValueStore) SetRaw(ctx context.Context, key, raw string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = raw
	return nil
}

func (s *fakeValueStore) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	sent  []string
	title []string
}

func (n *fakeNotifier) Send(ctx context.Context, title, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.title = append(n.title, title)
	n.sent = append(n.sent, body)
	return nil
}

func newTestSandbox() (*Sandbox, *fakeValueStore, *fakeNotifier) {
	values := newFakeValueStore()
	notifier := &fakeNotifier{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(values, notifier, logger), values, notifier
}

func TestExecuteReturnsValue(t *testing.T) {
	s, _, _ := newTestSandbox()
	result, err := s.Execute(context.Background(), `return 1 + 2;`)
	require.NoError(t, err)
	assert.EqualValues(t, 3, result)
}

func TestExecuteEmptyCode(t *testing.T) {
	s, _, _ := newTestSandbox()
	result, err := s.Execute(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestExecuteNoReturnValue(t *testing.T) {
	s, _, _ := newTestSandbox()
	result, err := s.Execute(context.Background(), `const x = 1;`)
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestExecuteTopLevelAwait(t *testing.T) {
	s, _, _ := newTestSandbox()
	start := time.Now()
	result, err := s.Execute(context.Background(), `
		await sleep(20);
		return "done";
	`)
	require.NoError(t, err)
	assert.Equal(t, "done", result)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestExecuteThrownErrorPropagates(t *testing.T) {
	s, _, _ := newTestSandbox()
	_, err := s.Execute(context.Background(), `throw new Error("kaboom");`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestExecuteRejectedPromisePropagates(t *testing.T) {
	s, _, _ := newTestSandbox()
	_, err := s.Execute(context.Background(), `await Promise.reject(new Error("nope"));`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
}

func TestExecuteCompileError(t *testing.T) {
	s, _, _ := newTestSandbox()
	_, err := s.Execute(context.Background(), `this is not javascript`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compile command")
}

func TestKVHelpers(t *testing.T) {
	s, values, _ := newTestSandbox()
	ctx := context.Background()

	result, err := s.Execute(ctx, `
		kvSet("counter", {count: 41});
		const v = kvGet("counter");
		v.count += 1;
		kvSet("counter", v);
		return kvGet("counter").count;
	`)
	require.NoError(t, err)
	assert.EqualValues(t, 42, result)

	raw, ok, err := values.GetRaw(ctx, "counter")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"count":42}`, raw)

	t.Run("fallback for missing keys", func(t *testing.T) {
		result, err := s.Execute(ctx, `return kvGet("absent", "default");`)
		require.NoError(t, err)
		assert.Equal(t, "default", result)
	})

	t.Run("remove", func(t *testing.T) {
		_, err := s.Execute(ctx, `kvRemove("counter");`)
		require.NoError(t, err)
		_, ok, _ := values.GetRaw(ctx, "counter")
		assert.False(t, ok)
	})
}

func TestNotifyHelpers(t *testing.T) {
	s, _, notifier := newTestSandbox()

	_, err := s.Execute(context.Background(), `
		notify("Backup", "finished");
		toast("quick message");
	`)
	require.NoError(t, err)

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	require.Len(t, notifier.sent, 2)
	assert.Equal(t, "Backup", notifier.title[0])
	assert.Equal(t, "finished", notifier.sent[0])
	assert.Equal(t, "toast", notifier.title[1])
	assert.Equal(t, "quick message", notifier.sent[1])
}

func TestFetchTextHelper(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hello from server"))
	}))
	defer server.Close()

	s, _, _ := newTestSandbox()
	result, err := s.Execute(context.Background(), `return fetchText("`+server.URL+`");`)
	require.NoError(t, err)
	assert.Equal(t, "hello from server", result)
}

func TestConsoleOutputDoesNotFail(t *testing.T) {
	s, _, _ := newTestSandbox()
	_, err := s.Execute(context.Background(), `
		console.log("visible in logs", {a: 1});
		console.warn("careful");
		return true;
	`)
	require.NoError(t, err)
}

func TestExecuteCancellation(t *testing.T) {
	s, _, _ := newTestSandbox()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := s.Execute(ctx, `for (;;) {}`)
		assert.Error(t, err)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("execution was not interrupted")
	}
}
