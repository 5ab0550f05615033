package forward

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"schemaregistry/internal/rerrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_RegisterSchema_SendsExpectedRequest(t *testing.T) {
	var gotMethod, gotPath, gotBody string
	var gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.RequestURI()
		gotHeader = r.Header.Get("X-Forwarded-For")
		buf, _ := io.ReadAll(r.Body)
		gotBody = string(buf)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"id":7,"version":1}`))
	}))
	defer srv.Close()

	c := New(5 * time.Second)
	headers := http.Header{"X-Forwarded-For": []string{"1.2.3.4"}}
	resp, body, err := c.RegisterSchema(context.Background(), srv.URL, "orders-value", true, []byte(`{"schema":"x"}`), headers)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/subjects/orders-value/versions?normalize=true", gotPath)
	assert.Equal(t, "1.2.3.4", gotHeader)
	assert.Equal(t, `{"schema":"x"}`, gotBody)
	assert.Contains(t, string(body), `"id":7`)
}

func TestClient_DeleteSchemaVersion_PermanentQueryParam(t *testing.T) {
	var gotPath, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.RequestURI()
		gotMethod = r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(5 * time.Second)
	_, _, err := c.DeleteSchemaVersion(context.Background(), srv.URL, "orders-value", 3, true, nil)
	require.NoError(t, err)
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/subjects/orders-value/versions/3?permanent=true", gotPath)
}

func TestClient_UpdateConfig_GlobalWhenSubjectEmpty(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.RequestURI()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(5 * time.Second)
	_, _, err := c.UpdateConfig(context.Background(), srv.URL, "", []byte(`{}`), nil)
	require.NoError(t, err)
	assert.Equal(t, "/config", gotPath)
}

func TestClient_Do_ConnectionFailureReturnsRequestForwardingError(t *testing.T) {
	c := New(100 * time.Millisecond)
	_, _, err := c.RegisterSchema(context.Background(), "http://127.0.0.1:1", "orders-value", false, []byte(`{}`), nil)
	require.Error(t, err)
	assert.True(t, rerrors.Is(err, rerrors.RequestForwarding))
}

func TestDecodeError_ParsesStructuredBody(t *testing.T) {
	err := DecodeError(409, []byte(`{"error_code":40901,"message":"conflict"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conflict")
}

func TestDecodeError_FallsBackOnUnparsableBody(t *testing.T) {
	err := DecodeError(500, []byte(`not json`))
	require.Error(t, err)
	assert.True(t, rerrors.Is(err, rerrors.RequestForwarding))
}
