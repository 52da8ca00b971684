package httpx

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type observation struct {
	method string
	route  string
	status int
}

type recorder struct {
	mu  sync.Mutex
	obs []observation
}

func (r *recorder) ObserveRequest(method, route string, status int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.obs = append(r.obs, observation{method, route, status})
}

func (r *recorder) all() []observation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]observation(nil), r.obs...)
}

func newTestRouter(rec *recorder) *mux.Router {
	router := mux.NewRouter()
	router.Use(Middleware(rec))
	router.HandleFunc("/v1/installations/{id}", func(w http.ResponseWriter, r *http.Request) {
		RespondStatus(w, http.StatusAccepted, "accepted", "")
	}).Methods(http.MethodGet)
	router.HandleFunc("/v1/plain", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	return router
}

func TestMiddleware_RecordsRouteTemplate(t *testing.T) {
	rec := &recorder{}
	router := newTestRouter(rec)

	for _, id := range []string{"1", "2"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/installations/"+id, nil))
		assert.Equal(t, http.StatusAccepted, w.Code)
	}

	obs := rec.all()
	require.Len(t, obs, 2)
	for _, o := range obs {
		assert.Equal(t, observation{http.MethodGet, "/v1/installations/{id}", http.StatusAccepted}, o)
	}
}

func TestMiddleware_DefaultStatus(t *testing.T) {
	rec := &recorder{}
	w := httptest.NewRecorder()
	newTestRouter(rec).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/plain", nil))

	require.Len(t, rec.all(), 1)
	assert.Equal(t, http.StatusOK, rec.all()[0].status)
}

func TestMiddleware_WebSocketUpgrade(t *testing.T) {
	rec := &recorder{}
	router := mux.NewRouter()
	router.Use(Middleware(rec))
	upgrader := websocket.Upgrader{}
	router.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte("hello"))
		conn.Close()
	})

	srv := httptest.NewServer(router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(msg))

	require.Eventually(t, func() bool { return len(rec.all()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, http.StatusSwitchingProtocols, rec.all()[0].status)
}
