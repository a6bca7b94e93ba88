// internal/clients/dashboard_client_test.go
package clients

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"familymiles/internal/config"
	"familymiles/internal/editsession"
	"familymiles/internal/loyalty"
	"familymiles/internal/server"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func newClient(url string, opts ...Option) *DashboardClient {
	opts = append([]Option{WithRetry(3, time.Millisecond), WithLogger(quiet)}, opts...)
	return NewDashboardClient(url, opts...)
}

func TestGetRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`[{"id":"latam","name":"LATAM Pass"}]`))
	}))
	defer srv.Close()

	companies, err := newClient(srv.URL).ListCompanies(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, "LATAM Pass", companies[0].Name)
}

func TestGetGivesUpAfterMaxTries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).ListMembers(context.Background())
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.Code)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGetDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"detail":"member not found"}`))
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).MemberLog(context.Background(), "x")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "member not found", se.Detail)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSaveIsNeverRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	key := loyalty.Key{MemberID: "m1", CompanyID: "latam"}
	_, err := newClient(srv.URL).SaveProgram(context.Background(), key, loyalty.NewPatch("notes", "x"), 0)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSaveSendsIfMatchAndMapsConflict(t *testing.T) {
	var ifMatch atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ifMatch.Store(r.Header.Get("If-Match"))
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"detail":"program record changed since it was read"}`))
	}))
	defer srv.Close()

	key := loyalty.Key{MemberID: "m1", CompanyID: "latam"}
	_, err := newClient(srv.URL).SaveProgram(context.Background(), key, loyalty.NewPatch("notes", "x"), 7)
	assert.ErrorIs(t, err, editsession.ErrVersionConflict)
	assert.Equal(t, `"7"`, ifMatch.Load())
}

func TestBreakerOpensAndFailsFast(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newClient(srv.URL, WithRetry(1, time.Millisecond), WithBreaker(gobreaker.Settings{
		Name:        "test",
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool { return counts.ConsecutiveFailures >= 2 },
	}))
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := c.Stats(ctx)
		require.Error(t, err)
	}

	_, err := c.Stats(ctx)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClientErrorsDoNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newClient(srv.URL, WithBreaker(gobreaker.Settings{
		ReadyToTrip: func(counts gobreaker.Counts) bool { return counts.ConsecutiveFailures >= 1 },
	}))
	for i := 0; i < 3; i++ {
		_, err := c.CreateMember(context.Background(), "")
		var se *StatusError
		require.ErrorAs(t, err, &se)
	}
}

func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	app, err := server.Build(context.Background(), config.Server{
		AccessCode:     "familia",
		TokenTTL:       time.Hour,
		LoginPerMinute: 100,
	}, "test", quiet)
	require.NoError(t, err)
	srv := httptest.NewServer(app.Handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestDashboardOverHTTP(t *testing.T) {
	ctx := context.Background()
	srv := newBackend(t)
	c := newClient(srv.URL)

	_, err := c.ListMembers(ctx)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.Code)

	_, err = c.Login(ctx, "familia")
	require.NoError(t, err)

	d := editsession.NewDashboard(c, c, nil, editsession.WithLogger(quiet))
	require.NoError(t, d.Refresh(ctx))
	members := d.Records.Members()
	require.Len(t, members, 4)
	key := loyalty.Key{MemberID: members[0].ID, CompanyID: "azul"}

	require.NoError(t, d.StartEdit(key))
	require.NoError(t, d.UpdateField(key, loyalty.FieldCurrentBalance, "25000"))
	result, err := d.SaveEdit(ctx, key)
	require.NoError(t, err)
	assert.Len(t, result.Entries, 1)
	assert.Equal(t, 1, result.Record.Version)

	require.NoError(t, d.Refresh(ctx))
	rec, ok := d.Records.Get(key)
	require.True(t, ok)
	assert.Equal(t, int64(25000), rec.CurrentBalance)

	log := d.MemberLog(key.MemberID)
	require.NotEmpty(t, log)
	assert.Equal(t, "current_balance", log[len(log)-1].FieldChanged)
	assert.Equal(t, "25000", log[len(log)-1].NewValue)

	summary, err := c.Summary(ctx)
	require.NoError(t, err)
	assert.Contains(t, summary, "TudoAzul: 25.000 pontos")
}

func TestDashboardConflictOverHTTP(t *testing.T) {
	ctx := context.Background()
	srv := newBackend(t)
	a := newClient(srv.URL)
	_, err := a.Login(ctx, "familia")
	require.NoError(t, err)
	b := newClient(srv.URL, WithToken(a.Token()))

	da := editsession.NewDashboard(a, a, nil, editsession.WithLogger(quiet))
	db := editsession.NewDashboard(b, b, nil, editsession.WithLogger(quiet))
	require.NoError(t, da.Refresh(ctx))
	require.NoError(t, db.Refresh(ctx))
	key := loyalty.Key{MemberID: da.Records.Members()[0].ID, CompanyID: "smiles"}

	require.NoError(t, da.StartEdit(key))
	require.NoError(t, db.StartEdit(key))
	require.NoError(t, da.UpdateField(key, loyalty.FieldNotes, "from a"))
	require.NoError(t, db.UpdateField(key, loyalty.FieldNotes, "from b"))

	_, err = da.SaveEdit(ctx, key)
	require.NoError(t, err)
	_, err = db.SaveEdit(ctx, key)
	assert.ErrorIs(t, err, editsession.ErrConflict)
	assert.Equal(t, editsession.StateOpen, db.Sessions.State(key))
}
