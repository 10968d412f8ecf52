package notify

import (
	"bufio"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soulprint/soulprint-sync/internal/logger"
	"github.com/soulprint/soulprint-sync/internal/model"
)

func testEvent(userID string) model.UpdateEvent {
	return model.UpdateEvent{
		Type:      model.EventNewData,
		UserID:    userID,
		Platform:  "spotify",
		Data:      map[string]interface{}{"dataPoints": 3},
		Timestamp: time.Now().UTC(),
	}
}

func TestHubDeliversToSubscriber(t *testing.T) {
	hub := NewHub(logger.New("notify-test"))

	events, cancel := hub.Subscribe("user-1")
	defer cancel()

	hub.Publish(testEvent("user-1"))

	select {
	case got := <-events:
		assert.Equal(t, model.EventNewData, got.Type)
		assert.Equal(t, "spotify", got.Platform)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestHubIsolatesUsers(t *testing.T) {
	hub := NewHub(logger.New("notify-test"))

	mine, cancelMine := hub.Subscribe("user-1")
	defer cancelMine()
	theirs, cancelTheirs := hub.Subscribe("user-2")
	defer cancelTheirs()

	hub.Publish(testEvent("user-1"))

	select {
	case <-mine:
	case <-time.After(time.Second):
		t.Fatal("event not delivered to owner")
	}

	select {
	case e := <-theirs:
		t.Fatalf("event leaked across users: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubDropsWhenNoSubscribers(t *testing.T) {
	hub := NewHub(logger.New("notify-test"))

	// Must not block or panic.
	hub.Publish(testEvent("nobody-home"))
	assert.Zero(t, hub.SubscriberCount("nobody-home"))
}

func TestHubCancelIsIdempotent(t *testing.T) {
	hub := NewHub(logger.New("notify-test"))

	_, cancel := hub.Subscribe("user-1")
	require.Equal(t, 1, hub.SubscriberCount("user-1"))
	cancel()
	cancel()
	assert.Zero(t, hub.SubscriberCount("user-1"))

	// Publishing after cancel must not panic on a closed channel.
	hub.Publish(testEvent("user-1"))
}

func TestHubSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	hub := NewHub(logger.New("notify-test"))

	_, cancel := hub.Subscribe("user-1")
	defer cancel()

	done := make(chan struct{})
	go func() {
		// Overflow the buffer; nobody is draining.
		for i := 0; i < subscriberBuffer*3; i++ {
			hub.Publish(testEvent("user-1"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestWebSocketStreamsEvents(t *testing.T) {
	hub := NewHub(logger.New("notify-test"))
	handler := NewWSHandler(hub, 30*time.Second, logger.New("notify-test"))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.Serve(w, r, "user-1")
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Wait for the subscription to land before publishing.
	require.Eventually(t, func() bool {
		return hub.SubscriberCount("user-1") == 1
	}, time.Second, 10*time.Millisecond)

	hub.Publish(testEvent("user-1"))

	var got model.UpdateEvent
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, model.EventNewData, got.Type)
	assert.Equal(t, "user-1", got.UserID)
}

func TestSSEStreamsEvents(t *testing.T) {
	hub := NewHub(logger.New("notify-test"))
	handler := NewSSEHandler(hub, 30*time.Second, logger.New("notify-test"))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.Serve(w, r, "user-1")
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool {
		return hub.SubscriberCount("user-1") == 1
	}, time.Second, 10*time.Millisecond)

	hub.Publish(testEvent("user-1"))

	reader := bufio.NewReader(resp.Body)
	deadline := time.After(2 * time.Second)
	lines := make(chan string, 8)
	go func() {
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				close(lines)
				return
			}
			lines <- line
		}
	}()

	var sawEvent, sawData bool
	for !(sawEvent && sawData) {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatal("stream closed before event arrived")
			}
			if strings.HasPrefix(line, "event: ") {
				assert.Equal(t, "event: "+model.EventNewData, strings.TrimSpace(line))
				sawEvent = true
			}
			if strings.HasPrefix(line, "data: ") {
				assert.Contains(t, line, `"userId":"user-1"`)
				sawData = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for SSE event")
		}
	}
}
