package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/AlfredBerg/rod-maps-scraper/internal/listing"
	"github.com/AlfredBerg/rod-maps-scraper/internal/outputHandlers/csv"
	"github.com/AlfredBerg/rod-maps-scraper/internal/session"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// untilStopped runs until its session is asked to stop.
func untilStopped(ctx context.Context, sess *session.Session) (string, error) {
	for !sess.Stopped() {
		time.Sleep(5 * time.Millisecond)
	}
	return csv.Filename(sess.Query), nil
}

func newTestServer(t *testing.T, run Runner, maxSessions int) (*Server, *httptest.Server) {
	logger := zaptest.NewLogger(t)
	hub := NewHub(logger)
	s := &Server{
		Manager: NewManager(run, maxSessions, hub, logger),
		Hub:     hub,
		Sink:    csv.Sink{Fs: afero.NewMemMapFs(), Dir: "Results"},
		Logger:  logger,
	}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Manager.Stop("")
		s.Manager.Wait()
		ts.Close()
	})
	return s, ts
}

func decode(t *testing.T, res *http.Response) map[string]any {
	t.Helper()
	defer res.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	return body
}

func TestStartRequiresQuery(t *testing.T) {
	_, ts := newTestServer(t, untilStopped, 2)

	res, err := http.PostForm(ts.URL+"/start_scraping", url.Values{"query": {"   "}})
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	require.Equal(t, "query is required", decode(t, res)["error"])
}

func TestStartStopAndStatus(t *testing.T) {
	s, ts := newTestServer(t, untilStopped, 2)

	res, err := http.PostForm(ts.URL+"/start_scraping", url.Values{"query": {"coffee shops"}})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	body := decode(t, res)
	require.Equal(t, "Scraping started!", body["message"])
	id, _ := body["session_id"].(string)
	require.NotEmpty(t, id)

	res, err = http.PostForm(ts.URL+"/start_scraping?query=tea", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	res.Body.Close()

	res, err = http.PostForm(ts.URL+"/start_scraping", url.Values{"query": {"bars"}})
	require.NoError(t, err)
	require.Equal(t, http.StatusTooManyRequests, res.StatusCode)
	res.Body.Close()

	res, err = http.Get(ts.URL + "/status")
	require.NoError(t, err)
	var status struct {
		Active  []ActiveSession  `json:"active"`
		History []map[string]any `json:"history"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&status))
	res.Body.Close()
	require.Len(t, status.Active, 2)
	require.Equal(t, "coffee shops", status.Active[0].Query)
	require.Equal(t, "tea", status.Active[1].Query)
	require.Empty(t, status.History)

	res, err = http.PostForm(ts.URL+"/stop_scraping", url.Values{"session_id": {id}})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "Scraping stopping in progress...", decode(t, res)["message"])

	require.Eventually(t, func() bool { return len(s.Manager.Active()) == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, "tea", s.Manager.Active()[0].Query)

	res, err = http.PostForm(ts.URL+"/stop_scraping", nil)
	require.NoError(t, err)
	require.Equal(t, float64(1), decode(t, res)["stopping"])
	require.Eventually(t, func() bool { return len(s.Manager.Active()) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestDownload(t *testing.T) {
	s, ts := newTestServer(t, untilStopped, 2)
	_, err := s.Sink.Write("coffee shops", []listing.Record{{BusinessName: listing.Value("Café Nero")}})
	require.NoError(t, err)

	res, err := http.Get(ts.URL + "/download/coffee_shops.csv")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, `attachment; filename="coffee_shops.csv"`, res.Header.Get("Content-Disposition"))
	b, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(b), "\ufeffbusiness_name,"))
	require.Contains(t, string(b), "Café Nero")
}

func TestDownloadMissing(t *testing.T) {
	_, ts := newTestServer(t, untilStopped, 2)

	res, err := http.Get(ts.URL + "/download/nothing.csv")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, res.StatusCode)
	require.Equal(t, map[string]any{"error": "File not found"}, decode(t, res))
}

func TestEventsStream(t *testing.T) {
	s, ts := newTestServer(t, untilStopped, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/events", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return s.Hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	s.Hub.Notify(session.Event{Name: session.EventUpdateCount, SessionID: "abc", Count: 3})
	s.Hub.Notify(session.Event{Name: session.EventScrapingDone, SessionID: "abc", Count: 3, Filename: "coffee_shops.csv"})

	var msg message
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	require.Equal(t, message{Event: "update_count", SessionID: "abc", Data: map[string]any{"count": float64(3)}}, msg)

	msg = message{}
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	require.Equal(t, "scraping_done", msg.Event)
	require.Equal(t, "coffee_shops.csv", msg.Data["filename"])

	conn.Close(websocket.StatusNormalClosure, "")
	require.Eventually(t, func() bool { return s.Hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHubDropsEventsForSlowClients(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t))
	slow := make(chan []byte, 1)
	h.clients[slow] = struct{}{}

	h.Notify(session.Event{Name: session.EventUpdateCount, Count: 1})
	h.Notify(session.Event{Name: session.EventUpdateCount, Count: 2})

	require.Len(t, slow, 1)
	require.JSONEq(t, `{"event":"update_count","session_id":"","data":{"count":1}}`, string(<-slow))
}

func TestManagerRecoversRunnerPanic(t *testing.T) {
	m := NewManager(func(context.Context, *session.Session) (string, error) {
		panic("engine exploded")
	}, 1, nil, zaptest.NewLogger(t))

	_, err := m.Start("coffee shops")
	require.NoError(t, err)
	m.Wait()
	require.Empty(t, m.Active())

	_, err = m.Start("tea")
	require.NoError(t, err)
	m.Wait()
}

func TestManagerStopUnknownSession(t *testing.T) {
	m := NewManager(untilStopped, 1, nil, nil)
	require.Equal(t, 0, m.Stop("missing"))
	require.Equal(t, 0, m.Stop(""))
}

func TestHubCloseDisconnectsClients(t *testing.T) {
	s, ts := newTestServer(t, untilStopped, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/events", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")
	require.Eventually(t, func() bool { return s.Hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	s.Hub.Close()
	s.Hub.Close()
	_, _, err = conn.Read(ctx)
	require.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
}
