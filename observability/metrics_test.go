package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	m := API()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/roots/{root}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	reqBefore := testutil.ToFloat64(m.requests.WithLabelValues("/roots/{root}", http.MethodGet, "error"))
	errBefore := testutil.ToFloat64(m.errors.WithLabelValues("/roots/{root}", http.MethodGet, "404"))

	for _, path := range []string{"/roots/0x01", "/roots/0x02"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusNotFound, rec.Code)
	}

	require.Equal(t, reqBefore+2, testutil.ToFloat64(m.requests.WithLabelValues("/roots/{root}", http.MethodGet, "error")))
	require.Equal(t, errBefore+2, testutil.ToFloat64(m.errors.WithLabelValues("/roots/{root}", http.MethodGet, "404")))
}
