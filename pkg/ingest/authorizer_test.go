package ingest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gorilla/mux"
	"github.com/nicktill/tixcondenser/pkg/report"
	"github.com/nicktill/tixcondenser/pkg/report/reporttest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI serves users and installations the way the TIX API does
type fakeAPI struct {
	users         map[int64]APIUser
	installations map[int64]APIInstallation
	status        int
	calls         int
}

func (f *fakeAPI) router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/user/{uid}", func(w http.ResponseWriter, req *http.Request) {
		f.calls++
		if f.status != 0 {
			w.WriteHeader(f.status)
			return
		}
		uid, _ := strconv.ParseInt(mux.Vars(req)["uid"], 10, 64)
		u, ok := f.users[uid]
		if !ok {
			http.NotFound(w, req)
			return
		}
		json.NewEncoder(w).Encode(u)
	})
	r.HandleFunc("/api/user/{uid}/installation/{iid}", func(w http.ResponseWriter, req *http.Request) {
		f.calls++
		iid, _ := strconv.ParseInt(mux.Vars(req)["iid"], 10, 64)
		inst, ok := f.installations[iid]
		if !ok {
			http.NotFound(w, req)
			return
		}
		json.NewEncoder(w).Encode(inst)
	})
	return r
}

func newFakeAPI(r report.Report) *fakeAPI {
	return &fakeAPI{
		users: map[int64]APIUser{
			r.UserID: {ID: r.UserID, Username: "tix", Enabled: true},
		},
		installations: map[int64]APIInstallation{
			r.InstallationID: {ID: r.InstallationID, Name: "home", PublicKey: base64.StdEncoding.EncodeToString(r.PublicKey)},
		},
	}
}

func serve(t *testing.T, api *fakeAPI) *APIAuthorizer {
	t.Helper()
	srv := httptest.NewServer(api.router())
	t.Cleanup(srv.Close)

	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return NewAPIAuthorizer(srv.Client(), false, host, port)
}

func TestNewAPIAuthorizer_Path(t *testing.T) {
	assert.Equal(t, "https://api.tix.example:443/api", NewAPIAuthorizer(nil, true, "api.tix.example", 443).APIPath())
	assert.Equal(t, "http://localhost:3001/api", NewAPIAuthorizer(nil, false, "localhost", 3001).APIPath())
}

func TestAPIAuthorizer_Valid(t *testing.T) {
	r := reporttest.Defaults().Build()
	api := newFakeAPI(r)

	ok, err := serve(t, api).ValidUserAndInstallation(context.Background(), r)

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, api.calls)
}

func TestAPIAuthorizer_DisabledUser(t *testing.T) {
	r := reporttest.Defaults().Build()
	api := newFakeAPI(r)
	api.users[r.UserID] = APIUser{ID: r.UserID, Username: "tix", Enabled: false}

	ok, err := serve(t, api).ValidUserAndInstallation(context.Background(), r)

	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, api.calls, "installation is not queried for a disabled user")
}

func TestAPIAuthorizer_UnknownUserIs404(t *testing.T) {
	r := reporttest.Defaults().WithUserID(99).Build()
	api := newFakeAPI(reporttest.Defaults().Build())

	ok, err := serve(t, api).ValidUserAndInstallation(context.Background(), r)

	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAPIAuthorizer_UnknownInstallationIs404(t *testing.T) {
	r := reporttest.Defaults().WithInstallationID(99).Build()
	api := newFakeAPI(reporttest.Defaults().Build())

	ok, err := serve(t, api).ValidUserAndInstallation(context.Background(), r)

	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAPIAuthorizer_PublicKeyMismatch(t *testing.T) {
	r := reporttest.Defaults().Build()
	api := newFakeAPI(r)
	api.installations[r.InstallationID] = APIInstallation{ID: r.InstallationID, Name: "home", PublicKey: "c29tZXRoaW5nIGVsc2U="}

	ok, err := serve(t, api).ValidUserAndInstallation(context.Background(), r)

	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAPIAuthorizer_EmptyPublicKey(t *testing.T) {
	r := reporttest.Defaults().Build()
	api := newFakeAPI(r)
	api.installations[r.InstallationID] = APIInstallation{ID: r.InstallationID, Name: "home"}

	ok, err := serve(t, api).ValidUserAndInstallation(context.Background(), r)

	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAPIAuthorizer_ServerErrorPropagates(t *testing.T) {
	r := reporttest.Defaults().Build()
	api := newFakeAPI(r)
	api.status = http.StatusInternalServerError

	ok, err := serve(t, api).ValidUserAndInstallation(context.Background(), r)

	require.ErrorIs(t, err, ErrAPIResponse)
	assert.False(t, ok)
}

func TestAPIAuthorizer_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	host, portStr, _ := net.SplitHostPort(srv.Listener.Addr().String())
	port, _ := strconv.Atoi(portStr)
	srv.Close()

	_, err := NewAPIAuthorizer(nil, false, host, port).ValidUserAndInstallation(context.Background(), reporttest.Defaults().Build())

	require.Error(t, err)
}
