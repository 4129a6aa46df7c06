package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestClient(t *testing.T, handler http.Handler) *storage.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := storage.NewClient(context.Background(), option.WithEndpoint(srv.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestPutObjectUploadsUnderPrefix(t *testing.T) {
	t.Parallel()

	payload := []byte(`[{"name": "Dr. A"}]`)
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/exports/o")
		assert.Equal(t, "doctors/run-1/doctors_data.json", r.URL.Query().Get("name"))
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.True(t, bytes.Contains(body, payload))
		_, _ = fmt.Fprintln(w, `{"name": "doctors/run-1/doctors_data.json", "bucket": "exports"}`)
	}))

	s, err := New(client, Config{Bucket: "exports", Prefix: "/doctors/"})
	require.NoError(t, err)
	uri, err := s.PutObject(context.Background(), "run-1/doctors_data.json", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "gs://exports/doctors/run-1/doctors_data.json", uri)
	require.NoError(t, s.Close())
}

func TestPutObjectServerError(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	s, err := New(client, Config{Bucket: "exports"})
	require.NoError(t, err)
	_, err = s.PutObject(context.Background(), "doctors.json", "", bytes.NewReader([]byte("[]")))
	require.Error(t, err)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client := newTestClient(t, http.NotFoundHandler())
	_, err = New(client, Config{})
	require.Error(t, err)

	s, err := New(client, Config{Bucket: "b"})
	require.NoError(t, err)
	_, err = s.PutObject(context.Background(), "", "", bytes.NewReader(nil))
	require.Error(t, err)
}

func TestDialChecksBucket(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/b/missing" || r.URL.Path == "/storage/v1/b/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = fmt.Fprintln(w, `{"name": "exports"}`)
	}))
	defer srv.Close()

	opts := []option.ClientOption{option.WithEndpoint(srv.URL), option.WithoutAuthentication()}
	s, err := Dial(context.Background(), Config{Bucket: "exports"}, opts...)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Dial(context.Background(), Config{Bucket: "missing"}, opts...)
	require.Error(t, err)
}
