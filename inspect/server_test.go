package inspect

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	metasync "github.com/Jfr3ds90/MetaAvatarsVR-sub002"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/classes"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/utils"
)

func newTestServer(t *testing.T) (*metasync.Replica, *httptest.Server) {
	r, err := metasync.Open(metasync.Options{Src: 0x1a, Logger: utils.NopLogger()})
	require.NoError(t, err)
	reg, err := Registry(r.Collector())
	require.NoError(t, err)
	srv := httptest.NewServer(NewServer(r, reg, utils.NopLogger()))
	t.Cleanup(func() {
		srv.Close()
		_ = r.Close()
	})
	return r, srv
}

func get(t *testing.T, url string) (int, []byte) {
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func TestServer_Objects(t *testing.T) {
	r, srv := newTestServer(t)
	ctx := context.Background()
	oid, err := r.Spawn(ctx, classes.Fields{
		{Name: "hp", Kind: classes.Int},
		{Name: "pose", Kind: classes.Buffer, Capacity: 8},
	}, metasync.Fixed)
	require.NoError(t, err)
	require.NoError(t, r.Write(oid, "hp", metasync.IntValue(12)))

	status, body := get(t, srv.URL+"/objects")
	assert.Equal(t, http.StatusOK, status)
	var list []ObjectView
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 1)
	assert.Equal(t, oid.String(), list[0].ID)
	assert.Equal(t, "1a", list[0].Authority)
	assert.True(t, list[0].Owned)
	assert.Equal(t, "fixed", list[0].Policy)

	status, body = get(t, srv.URL+"/objects/"+oid.String())
	assert.Equal(t, http.StatusOK, status)
	var one ObjectView
	require.NoError(t, json.Unmarshal(body, &one))
	require.Len(t, one.Fields, 2)
	assert.Equal(t, FieldView{Name: "hp", Kind: "int", Value: "12"}, one.Fields[0])
	assert.Equal(t, 8, one.Fields[1].Capacity)

	status, _ = get(t, srv.URL+"/objects/1a-99")
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = get(t, srv.URL+"/objects/nonsense")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestServer_Metrics(t *testing.T) {
	r, srv := newTestServer(t)
	_, err := r.Spawn(context.Background(), classes.Fields{{Name: "hp", Kind: classes.Int}}, 0)
	require.NoError(t, err)

	status, body := get(t, srv.URL+"/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, strings.Contains(string(body), "metasync_replica_objects_spawned"))
	assert.True(t, strings.Contains(string(body), "pebble_memtable_size"))

	status, body = get(t, srv.URL+"/health")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}
