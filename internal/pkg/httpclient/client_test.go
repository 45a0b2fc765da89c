package httpclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestStaticResolver(t *testing.T) {
	r := StaticResolver{"user-service": "http://users:8080"}
	ctx := context.Background()

	base, err := r.Resolve(ctx, "user-service")
	require.NoError(t, err)
	assert.Equal(t, "http://users:8080", base)

	base, err = r.Resolve(ctx, "https://pay.example.com")
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example.com", base)

	_, err = r.Resolve(ctx, "catalog-service")
	assert.Error(t, err)
}

type fakeDiscoverer struct {
	ip   string
	port int
	err  error
}

func (d fakeDiscoverer) DiscoverServiceInstance(string) (string, int, error) {
	return d.ip, d.port, d.err
}

func TestDiscoveryResolver(t *testing.T) {
	ctx := context.Background()
	r := DiscoveryResolver{
		Discoverer: fakeDiscoverer{ip: "10.0.0.8", port: 9000},
		Fallback:   StaticResolver{"user-service": "http://pinned:1"},
	}
	base, err := r.Resolve(ctx, "payment-service")
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.8:9000", base)

	base, err = r.Resolve(ctx, "user-service")
	require.NoError(t, err)
	assert.Equal(t, "http://pinned:1", base, "static entries win over discovery")

	r.Discoverer = fakeDiscoverer{err: errors.New("no healthy instance")}
	_, err = r.Resolve(ctx, "payment-service")
	assert.Error(t, err)
}

func TestClientJSONRoundTrip(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /items", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"name":"` + r.URL.Query().Get("q") + `"}`))
	})
	mux.HandleFunc("POST /items", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte("already exists"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(otel.Tracer("test"), StaticResolver{"items": srv.URL + "/"})
	var out struct {
		Name string `json:"name"`
	}
	require.NoError(t, c.GetJSON(context.Background(), "items", "/items", url.Values{"q": {"mug"}}, &out))
	assert.Equal(t, "mug", out.Name)

	err := c.PostJSON(context.Background(), "items", "/items", map[string]string{"name": "mug"}, nil)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusConflict, se.StatusCode)
	assert.Equal(t, "already exists", se.Body)

	err = c.GetJSON(context.Background(), "unknown", "/items", nil, &out)
	assert.Error(t, err)
}
