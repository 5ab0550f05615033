package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"schemaregistry/internal/cache"
	"schemaregistry/internal/forward"
	"schemaregistry/internal/idgen"
	"schemaregistry/internal/providers"
	"schemaregistry/internal/providers/avro"
	"schemaregistry/internal/providers/jsonschema"
	"schemaregistry/internal/providers/parsecache"
	"schemaregistry/internal/providers/protobuf"
	"schemaregistry/internal/registry"
	"schemaregistry/internal/store"

	natsd "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type alwaysLeader struct{}

func (alwaysLeader) IsLeader() bool                { return true }
func (alwaysLeader) LeaderBaseURL() (string, bool) { return "", false }

func setupTestServer(t *testing.T) (*httptest.Server, func()) {
	t.Helper()
	opts := &natsd.Options{Port: -1, JetStream: true, StoreDir: t.TempDir()}
	ns, err := natsd.NewServer(opts)
	require.NoError(t, err)
	go ns.Start()
	require.True(t, ns.ReadyForConnections(10*time.Second))

	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	js, err := nc.JetStream()
	require.NoError(t, err)
	kv, err := js.CreateKeyValue(&nats.KeyValueConfig{Bucket: "REGISTRY_LOG"})
	require.NoError(t, err)

	lookupCache := cache.New()
	natsStore, err := store.New(context.Background(), kv, lookupCache, 5*time.Second, 0)
	require.NoError(t, err)
	natsStore.SetLeader(true, "epoch-1")

	idGenerator := idgen.New(lookupCache)
	idGenerator.Init()

	reg := registry.New(registry.Config{
		Store:                natsStore,
		Cache:                lookupCache,
		IDGen:                idGenerator,
		Providers:            providers.NewRegistry(avro.New(), jsonschema.New(), protobuf.New()),
		ParseCache:           parsecache.New(100),
		Forwarder:            forward.New(5 * time.Second),
		Leader:               alwaysLeader{},
		Timeout:              5 * time.Second,
		WriteMaxRetries:      5,
		ModeMutability:       true,
		DefaultCompatibility: providers.Backward,
	})

	Init(reg)
	srv := httptest.NewServer(SetupRouter())

	cleanup := func() {
		srv.Close()
		natsStore.Close()
		nc.Close()
		ns.Shutdown()
	}
	return srv, cleanup
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	return resp
}

func putJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPut, url, bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestRegisterAndGetSchema(t *testing.T) {
	srv, cleanup := setupTestServer(t)
	defer cleanup()

	resp := postJSON(t, srv.URL+"/subjects/orders-value/versions", SchemaRequest{
		Schema: `{"type":"record","name":"Order","fields":[{"name":"id","type":"string"}]}`,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var registerResp RegisterResponse
	decodeBody(t, resp, &registerResp)
	assert.Equal(t, 1, registerResp.Version)

	resp = postJSON(t, srv.URL+"/subjects/orders-value/versions", SchemaRequest{
		Schema: `{"type":"record","name":"Order","fields":[{"name":"id","type":"string"}]}`,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var dupResp RegisterResponse
	decodeBody(t, resp, &dupResp)
	assert.Equal(t, registerResp.ID, dupResp.ID, "re-registering identical content must dedup")

	getResp, err := http.Get(srv.URL + "/subjects/orders-value/versions/1")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, getResp.StatusCode)
	var rec SchemaRecord
	decodeBody(t, getResp, &rec)
	assert.Equal(t, "orders-value", rec.Subject)
	assert.Equal(t, registerResp.ID, rec.ID)
}

func TestGetSchema_NotFound(t *testing.T) {
	srv, cleanup := setupTestServer(t)
	defer cleanup()

	resp, err := http.Get(srv.URL + "/subjects/missing-value/versions/1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRegisterSchema_InvalidJSONBody(t *testing.T) {
	srv, cleanup := setupTestServer(t)
	defer cleanup()

	resp, err := http.Post(srv.URL+"/subjects/orders-value/versions", "application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCheckCompatibility(t *testing.T) {
	srv, cleanup := setupTestServer(t)
	defer cleanup()

	resp := postJSON(t, srv.URL+"/subjects/orders-value/versions", SchemaRequest{
		Schema: `{"type":"record","name":"Order","fields":[{"name":"id","type":"string"}]}`,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/compatibility/subjects/orders-value/versions/1", SchemaRequest{
		Schema: `{"type":"record","name":"Order","fields":[{"name":"id","type":"int"}]}`,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var compat CompatibilityResponse
	decodeBody(t, resp, &compat)
	assert.False(t, compat.IsCompatible)
	assert.NotEmpty(t, compat.Messages)
}

func TestConfigEndpoints(t *testing.T) {
	srv, cleanup := setupTestServer(t)
	defer cleanup()

	resp := putJSON(t, srv.URL+"/config/orders-value", ConfigRequest{Compatibility: "FULL"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err := http.Get(srv.URL + "/config/orders-value")
	require.NoError(t, err)
	var cfg ConfigResponse
	decodeBody(t, resp, &cfg)
	assert.Equal(t, "FULL", cfg.CompatibilityLevel)
}

func TestModeEndpoints(t *testing.T) {
	srv, cleanup := setupTestServer(t)
	defer cleanup()

	resp := putJSON(t, srv.URL+"/mode/orders-value", ModeRequest{Mode: "READONLY"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err := http.Get(srv.URL + "/mode/orders-value")
	require.NoError(t, err)
	var mode ModeResponse
	decodeBody(t, resp, &mode)
	assert.Equal(t, "READONLY", mode.Mode)

	registerResp := postJSON(t, srv.URL+"/subjects/orders-value/versions", SchemaRequest{
		Schema: `{"type":"record","name":"Order","fields":[{"name":"id","type":"string"}]}`,
	})
	assert.NotEqual(t, http.StatusOK, registerResp.StatusCode)
}

func TestDeleteSchemaVersionAndSubject(t *testing.T) {
	srv, cleanup := setupTestServer(t)
	defer cleanup()

	postJSON(t, srv.URL+"/subjects/orders-value/versions", SchemaRequest{
		Schema: `{"type":"record","name":"Order","fields":[{"name":"id","type":"string"}]}`,
	})

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/subjects/orders-value/versions/1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, err = http.NewRequest(http.MethodDelete, srv.URL+"/subjects/orders-value", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestListSubjectsAndVersions(t *testing.T) {
	srv, cleanup := setupTestServer(t)
	defer cleanup()

	postJSON(t, srv.URL+"/subjects/orders-value/versions", SchemaRequest{
		Schema: `{"type":"record","name":"Order","fields":[{"name":"id","type":"string"}]}`,
	})

	resp, err := http.Get(srv.URL + "/subjects")
	require.NoError(t, err)
	var subjects []string
	decodeBody(t, resp, &subjects)
	assert.Contains(t, subjects, "orders-value")

	resp, err = http.Get(srv.URL + "/subjects/orders-value/versions")
	require.NoError(t, err)
	var versions []int
	decodeBody(t, resp, &versions)
	assert.Equal(t, []int{1}, versions)
}
