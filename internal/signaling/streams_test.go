package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanikai/rtsprelay/internal/hub"
	"github.com/lanikai/rtsprelay/internal/store"
)

func setupCatalog(t *testing.T) (*httptest.Server, *fakeController, *store.Store) {
	st, err := store.Open(filepath.Join(t.TempDir(), "streams.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	h := hub.New()
	ctrl := &fakeController{hub: h, started: map[string]string{}}
	srv := NewServer(Config{}, ctrl, store.BySessionID{Store: st}, h)
	srv.ServeCatalog(st)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, ctrl, st
}

func call(t *testing.T, method, url string, body interface{}) (int, map[string]interface{}) {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp.StatusCode, out
}

func TestCatalogCreateAndList(t *testing.T) {
	ts, _, _ := setupCatalog(t)

	code, out := call(t, "POST", ts.URL+"/api/streams/", map[string]interface{}{
		"name": "porch", "url": "rtsp://cam/porch", "is_active": true,
	})
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "porch", out["name"])
	assert.Equal(t, true, out["is_active"])

	code, out = call(t, "POST", ts.URL+"/api/streams/", map[string]interface{}{
		"name": "web", "url": "http://cam/web",
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, out["error"], "RTSP")

	resp, err := http.Get(ts.URL + "/api/streams/")
	require.NoError(t, err)
	defer resp.Body.Close()
	var list []store.Stream
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, "rtsp://cam/porch", list[0].URL)
}

// Deactivating a stream stops its session and rejects later starts.
func TestCatalogDeactivateStopsSession(t *testing.T) {
	ts, ctrl, st := setupCatalog(t)
	s := &store.Stream{Name: "yard", URL: "rtsp://cam/yard", IsActive: true}
	require.NoError(t, st.Create(s))
	id := store.SessionID(s.ID)

	ws := dial(t, ts, id)
	require.NoError(t, ws.WriteJSON(map[string]string{"command": "start"}))
	assert.Equal(t, hub.TypeFrame, readMessage(t, ws).Type)

	code, out := call(t, "POST", fmt.Sprintf("%s/api/streams/%s/deactivate/", ts.URL, id), nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "stream deactivated", out["status"])
	assert.Equal(t, []string{id}, ctrl.Stopped())

	require.NoError(t, ws.WriteJSON(map[string]string{"command": "start"}))
	m := readMessage(t, ws)
	assert.Equal(t, hub.TypeError, m.Type)
	assert.Equal(t, msgNotFound, m.Message)

	code, _ = call(t, "POST", fmt.Sprintf("%s/api/streams/%s/activate/", ts.URL, id), nil)
	require.Equal(t, http.StatusOK, code)
	_, active, err := st.Lookup(s.ID)
	require.NoError(t, err)
	assert.True(t, active)
}

func TestCatalogUpdateAndDelete(t *testing.T) {
	ts, ctrl, st := setupCatalog(t)
	s := &store.Stream{Name: "attic", URL: "rtsp://cam/attic"}
	require.NoError(t, st.Create(s))
	url := fmt.Sprintf("%s/api/streams/%d/", ts.URL, s.ID)

	code, out := call(t, "PUT", url, map[string]interface{}{
		"name": "loft", "url": "rtsp://cam/loft", "is_active": true,
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "loft", out["name"])
	assert.Equal(t, "rtsp://cam/loft", out["url"])
	assert.Equal(t, true, out["is_active"])

	code, _ = call(t, "DELETE", url, nil)
	assert.Equal(t, http.StatusNoContent, code)
	assert.Equal(t, []string{store.SessionID(s.ID)}, ctrl.Stopped())

	code, _ = call(t, "GET", url, nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = call(t, "DELETE", url, nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = call(t, "GET", ts.URL+"/api/streams/abc/", nil)
	assert.Equal(t, http.StatusNotFound, code)
}
