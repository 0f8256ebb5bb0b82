package notify

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type received struct {
	event     WebhookEvent
	signature string
	eventType string
}

func newReceiver(t *testing.T, status func(attempt int64) int) (*httptest.Server, *[]received, *sync.Mutex) {
	t.Helper()
	var (
		mu       sync.Mutex
		got      []received
		attempts int64
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&attempts, 1)
		if code := status(n); code != http.StatusOK {
			w.WriteHeader(code)
			return
		}
		body, _ := io.ReadAll(r.Body)
		var ev WebhookEvent
		_ = json.Unmarshal(body, &ev)

		mu.Lock()
		got = append(got, received{
			event:     ev,
			signature: r.Header.Get("X-Webhook-Signature"),
			eventType: r.Header.Get("X-Event-Type"),
		})
		mu.Unlock()

		assert.Equal(t, Sign(body, "s3cret"), r.Header.Get("X-Webhook-Signature"))
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, &got, &mu
}

func TestWebhookSender_DeliversSubscribedEvents(t *testing.T) {
	srv, got, mu := newReceiver(t, func(int64) int { return http.StatusOK })

	s, err := NewWebhookSender([]WebhookConfig{{
		Name:   "ops",
		URL:    srv.URL,
		Secret: "s3cret",
		Events: []string{"migration.completed"},
	}}, "node-1")
	require.NoError(t, err)

	s.SendEvent("migration.completed", map[string]string{"run_id": "r1"})
	s.SendEvent("migration.failed", map[string]string{"run_id": "r2"})
	s.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, *got, 1)
	assert.Equal(t, "migration.completed", (*got)[0].eventType)
	assert.Equal(t, "node-1", (*got)[0].event.NodeID)
	assert.NotEmpty(t, (*got)[0].signature)
	assert.Equal(t, int64(1), s.GetMetrics()["sent"])
}

func TestWebhookSender_RetriesServerErrors(t *testing.T) {
	srv, got, mu := newReceiver(t, func(n int64) int {
		if n < 3 {
			return http.StatusServiceUnavailable
		}
		return http.StatusOK
	})

	s, err := NewWebhookSender([]WebhookConfig{{
		URL:        srv.URL,
		Secret:     "s3cret",
		Events:     []string{"*"},
		RetryCount: 3,
		Timeout:    time.Second,
	}}, "node-1")
	require.NoError(t, err)

	s.SendEvent("migration.rolled_back", nil)
	s.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, *got, 1)
	assert.Zero(t, s.GetMetrics()["failed"])
}

func TestWebhookSender_ClientErrorIsNotRetried(t *testing.T) {
	var attempts int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	s, err := NewWebhookSender([]WebhookConfig{{URL: srv.URL, Events: []string{"*"}, RetryCount: 5}}, "n")
	require.NoError(t, err)
	s.SendEvent("migration.failed", nil)
	s.Close()

	assert.Equal(t, int64(1), atomic.LoadInt64(&attempts))
	assert.Equal(t, int64(1), s.GetMetrics()["failed"])

	// После Close события игнорируются
	s.SendEvent("migration.failed", nil)
	s.Close()
}

func TestNewWebhookSender_RequiresURL(t *testing.T) {
	_, err := NewWebhookSender([]WebhookConfig{{Name: "broken"}}, "n")
	assert.Error(t, err)
}
