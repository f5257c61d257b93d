package bbr

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(&testLogWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

type testLogWriter struct {
	t *testing.T
}

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))

	return len(p), nil
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(srv.URL, "svc-user", "svc-secret", "shelter-updater-test", srv.Client(), testLogger(t))
}

// --- List ---

func TestClient_List_DecodesPage(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "3", q.Get("page"))
		assert.Equal(t, "500", q.Get("pagesize"))
		assert.Equal(t, "svc-user", q.Get("username"))
		assert.Equal(t, "svc-secret", q.Get("password"))
		assert.Equal(t, "json", q.Get("format"))
		assert.Equal(t, "shelter-updater-test", r.Header.Get("User-Agent"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"id_lokalId":"b1","status":"6","byg069Sikringsrumpladser":50,
			 "byg021BygningensAnvendelse":"320","kommunekode":"0751",
			 "husnummer":"0a3f5089-0000-32b8-e044-0003ba298018"},
			{"id_lokalId":"b2","status":6,"byg069Sikringsrumpladser":"25",
			 "byg021BygningensAnvendelse":320,"kommunekode":751,"husnummer":""}
		]`))
	})

	pg, err := client.List(context.Background(), 3, 500)
	require.NoError(t, err)
	require.Len(t, pg.Buildings, 2)
	assert.Zero(t, pg.Malformed)

	assert.Equal(t, Building{
		ID:          "b1",
		Status:      "6",
		Capacity:    50,
		Anvendelse:  "320",
		Kommunekode: "0751",
		Husnummer:   "0a3f5089-0000-32b8-e044-0003ba298018",
	}, pg.Buildings[0])

	// The second record uses the feed's numeric spellings.
	assert.Equal(t, Building{
		ID:          "b2",
		Status:      "6",
		Capacity:    25,
		Anvendelse:  "320",
		Kommunekode: "751",
	}, pg.Buildings[1])
}

func TestClient_List_SkipsAndCountsMalformedRecords(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`[
			{"id_lokalId":"good","status":"6","byg069Sikringsrumpladser":10},
			{"id_lokalId":"bad","byg069Sikringsrumpladser":"not-a-number"},
			42
		]`))
	})

	pg, err := client.List(context.Background(), 1, 500)
	require.NoError(t, err, "bad records must not fail the page")
	require.Len(t, pg.Buildings, 1)
	assert.Equal(t, "good", pg.Buildings[0].ID)
	assert.Equal(t, 2, pg.Malformed)
}

func TestClient_List_EmptyArrayMeansEndOfData(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`[]`))
	})

	pg, err := client.List(context.Background(), 9999, 500)
	require.NoError(t, err)
	assert.Empty(t, pg.Buildings)
	assert.Zero(t, pg.Malformed)
}

func TestClient_List_NonArrayBodyIsAnError(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"message":"unexpected shape"}`))
	})

	_, err := client.List(context.Background(), 1, 500)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding response array")
}

func TestClient_List_ClassifiesHTTPStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status    int
		sentinel  error
		retryable bool
	}{
		{http.StatusBadRequest, ErrBadRequest, false},
		{http.StatusUnauthorized, ErrUnauthorized, false},
		{http.StatusForbidden, ErrForbidden, false},
		{http.StatusNotFound, ErrNotFound, false},
		{http.StatusRequestTimeout, ErrTimeout, true},
		{http.StatusTooManyRequests, ErrThrottled, true},
		{http.StatusInternalServerError, ErrServerError, true},
		{http.StatusServiceUnavailable, ErrServerError, true},
	}

	for _, tc := range tests {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			t.Parallel()

			client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(`{"error":"nej"}`))
			})

			_, err := client.List(context.Background(), 1, 500)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.sentinel)
			assert.Equal(t, tc.retryable, IsRetryable(err))

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tc.status, apiErr.StatusCode)
			assert.Contains(t, apiErr.Message, "nej")
		})
	}
}

func TestClient_List_TruncatesHugeErrorBody(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(strings.Repeat("x", 2000)))
	})

	_, err := client.List(context.Background(), 1, 500)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Len(t, apiErr.Message, maxErrorBody+3)
	assert.True(t, strings.HasSuffix(apiErr.Message, "..."))
}

func TestClient_List_ConnectionFailureIsRetryable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	client := NewClient(srv.URL, "u", "p", "ua", srv.Client(), testLogger(t))
	srv.Close() // nothing is listening anymore

	_, err := client.List(context.Background(), 1, 500)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnection)
	assert.True(t, IsRetryable(err))
}

func TestClient_List_CancelledContextIsNotARegistryFailure(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`[]`))
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.List(ctx, 1, 500)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsRetryable(err))
}

// --- Get ---

func TestClient_Get_ReturnsSingleBuilding(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "b42", r.URL.Query().Get("Id"))
		w.Write([]byte(`[{"id_lokalId":"b42","status":"6","byg069Sikringsrumpladser":30,"kommunekode":"0101"}]`))
	})

	b, err := client.Get(context.Background(), "b42")
	require.NoError(t, err)
	assert.Equal(t, "b42", b.ID)
	assert.Equal(t, 30, b.Capacity)
	assert.Equal(t, "0101", b.Kommunekode)
	assert.True(t, b.IsShelter())
}

func TestClient_Get_EmptyResultIsNotFound(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`[]`))
	})

	_, err := client.Get(context.Background(), "vanished")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

// --- Ping ---

func TestClient_Ping(t *testing.T) {
	t.Parallel()

	var gotPageSize string

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPageSize = r.URL.Query().Get("pagesize")
		w.Write([]byte(`[]`))
	})

	require.NoError(t, client.Ping(context.Background()))
	assert.Equal(t, "1", gotPageSize, "the probe must stay cheap")
}

func TestClient_Ping_SurfacesAuthFailure(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	err := client.Ping(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)
}

// --- Error helpers ---

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	assert.True(t, IsRetryable(ErrTimeout))
	assert.True(t, IsRetryable(ErrConnection))
	assert.True(t, IsRetryable(ErrThrottled))
	assert.True(t, IsRetryable(ErrServerError))

	assert.False(t, IsRetryable(ErrBadRequest))
	assert.False(t, IsRetryable(ErrUnauthorized))
	assert.False(t, IsRetryable(ErrForbidden))
	assert.False(t, IsRetryable(ErrNotFound))
	assert.False(t, IsRetryable(errors.New("something else")))
	assert.False(t, IsRetryable(nil))
}

func TestAPIError_UnwrapsToSentinel(t *testing.T) {
	t.Parallel()

	err := &APIError{StatusCode: 429, Message: "slow down", Err: ErrThrottled}
	assert.ErrorIs(t, err, ErrThrottled)
	assert.Equal(t, "bbr: HTTP 429: slow down", err.Error())
}
