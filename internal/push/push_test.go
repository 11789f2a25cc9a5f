package push

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/campus/internal/bus"
	"github.com/matheus3301/campus/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type gatewayMock struct {
	mock.Mock
}

func (m *gatewayMock) Send(ctx context.Context, msg Message) error {
	return m.Called(ctx, msg).Error(0)
}

func (m *gatewayMock) Name() string { return "mock" }

func (m *gatewayMock) Close() error { return nil }

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "campus.db"))
	require.NoError(t, err)
	_, err = db.Migrate()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func waitFor(t *testing.T, ch <-chan bus.Event) bus.Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for push event")
		return bus.Event{}
	}
}

func TestDispatcherDelivers(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	gw := &gatewayMock{}
	data := map[string]string{"chatId": "c1"}
	gw.On("Send", mock.Anything, Message{To: "tok-1", Title: "Alice Smith", Body: "hi", Data: data}).Return(nil).Once()
	gw.On("Send", mock.Anything, Message{To: "tok-2", Title: "Alice Smith", Body: "hi", Data: data}).Return(nil).Once()

	events, unsub := b.Subscribe("push.", 16)
	defer unsub()

	d := NewDispatcher(db, gw, b, nil, 10)
	d.Start(context.Background())
	defer d.Stop()

	require.NoError(t, d.Notify(context.Background(), []string{"tok-1", "tok-2"}, "Alice Smith", "hi", data))

	for i := 0; i < 2; i++ {
		evt := waitFor(t, events)
		assert.Equal(t, bus.KindPushSent, evt.Kind)
	}
	gw.AssertExpectations(t)

	recent, err := db.RecentPushes(context.Background(), 10)
	require.NoError(t, err)
	for _, e := range recent {
		assert.Equal(t, "sent", e.Status)
	}
}

func TestDispatcherSwallowsGatewayErrors(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	gw := &gatewayMock{}
	gw.On("Send", mock.Anything, mock.Anything).Return(errors.New("device not registered"))

	events, unsub := b.Subscribe(bus.KindPushFailed, 16)
	defer unsub()

	d := NewDispatcher(db, gw, b, nil, 10)
	d.Start(context.Background())
	defer d.Stop()

	require.NoError(t, d.Notify(context.Background(), []string{"tok"}, "t", "b", nil))

	evt := waitFor(t, events)
	res, ok := evt.Payload.(Result)
	require.True(t, ok)
	assert.Contains(t, res.Error, "device not registered")

	recent, err := db.RecentPushes(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "failed", recent[0].Status)
	assert.Equal(t, "device not registered", recent[0].ErrorMessage)
}

func TestNotifyDropsBeyondQueueSize(t *testing.T) {
	db := testDB(t)
	gw := &gatewayMock{}
	d := NewDispatcher(db, gw, bus.New(), nil, 2)

	// Not started: everything stays queued.
	require.NoError(t, d.Notify(context.Background(), []string{"a", "b", "c"}, "t", "b", nil))
	n, err := db.CountQueuedPushes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, d.Notify(context.Background(), []string{"d"}, "t", "b", nil))
	n, err = db.CountQueuedPushes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	gw.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestHTTPGatewayPostsJSON(t *testing.T) {
	var got Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	gw := NewHTTPGateway(srv.URL)
	msg := Message{To: "ExponentPushToken[x]", Title: "Bob", Body: "Bob sent an image", Data: map[string]string{"chatId": "c9"}}
	require.NoError(t, gw.Send(context.Background(), msg))
	assert.Equal(t, msg, got)
}

func TestHTTPGatewayReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewHTTPGateway(srv.URL).Send(context.Background(), Message{To: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestDialAMQPRejectsEmptyURL(t *testing.T) {
	_, err := DialAMQP("", "", time.Millisecond, nil)
	require.Error(t, err)
}
