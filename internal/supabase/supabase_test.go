package supabase

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/supabase-community/supabase-go"
	"milestage-backend/internal/ledger"
)

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(&pq.Error{Code: "23505"}))
	assert.False(t, isUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("boom")))
	assert.False(t, isUniqueViolation(nil))
}

func TestToMinor(t *testing.T) {
	assert.Equal(t, int64(120000), toMinor(1200))
	assert.Equal(t, int64(1999), toMinor(19.99))
	assert.Equal(t, int64(10), toMinor(0.1))
}

func TestPortalClient_ProjectAndStages(t *testing.T) {
	projectID := uuid.New()
	userID := uuid.New()
	stageID := uuid.New()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/rest/v1/projects":
			assert.Equal(t, "eq.share-abc", r.URL.Query().Get("share_code"))
			io.WriteString(w, `[{"id":"`+projectID.String()+`","user_id":"`+userID.String()+`",
				"name":"Brand refresh","client_name":"Acme","client_email":"client@example.com",
				"currency":"usd","share_code":"share-abc","stripe_account_id":"acct_1",
				"charges_enabled":true,"payouts_enabled":false,
				"created_at":"2026-03-01T10:00:00+00:00","updated_at":"2026-03-01T10:00:00+00:00"}]`)
		case "/rest/v1/stages":
			assert.Equal(t, "eq."+projectID.String(), r.URL.Query().Get("project_id"))
			assert.Equal(t, "stage_number.asc.nullslast", r.URL.Query().Get("order"))
			io.WriteString(w, `[{"id":"`+stageID.String()+`","project_id":"`+projectID.String()+`",
				"stage_number":1,"name":"Discovery","amount":1200.5,"currency":"usd",
				"status":"active","payment_status":"pending","extension_price":150,
				"additional_revisions":0,"payment_received_at":null,
				"created_at":"2026-03-01T10:00:00+00:00","updated_at":"2026-03-01T10:00:00+00:00"}]`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client, err := supabase.NewClient(srv.URL, "service-key", nil)
	require.NoError(t, err)
	portal := NewPortalClient(client)
	ctx := context.Background()

	project, err := portal.ProjectByShareCode(ctx, "share-abc")
	require.NoError(t, err)
	assert.Equal(t, projectID, project.ID)
	assert.Equal(t, userID, project.UserID)
	assert.Equal(t, "acct_1", project.StripeAccountID.String)
	assert.True(t, project.ChargesEnabled)

	stages, err := portal.StagesByProject(ctx, projectID)
	require.NoError(t, err)
	require.Len(t, stages, 1)
	assert.Equal(t, int64(120050), stages[0].Amount)
	assert.Equal(t, int64(15000), stages[0].ExtensionPrice.Int64)
	assert.False(t, stages[0].PaymentReceivedAt.Valid)
}

func TestPortalClient_UnknownShareCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `[]`)
	}))
	defer srv.Close()

	client, err := supabase.NewClient(srv.URL, "service-key", nil)
	require.NoError(t, err)

	_, err = NewPortalClient(client).ProjectByShareCode(context.Background(), "missing")
	assert.True(t, errors.Is(err, ledger.ErrNotFound))
}

func TestStorageClient_ArchiveAndFetch(t *testing.T) {
	var mu sync.Mutex
	objects := make(map[string][]byte)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.URL.Path, "/storage/v1/object/")
		mu.Lock()
		defer mu.Unlock()
		switch r.Method {
		case http.MethodPost, http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			objects[key] = body
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, `{"Key":"`+key+`"}`)
		case http.MethodGet:
			data, ok := objects[key]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				io.WriteString(w, `{"statusCode":"404","error":"not_found","message":"Object not found"}`)
				return
			}
			w.Write(data)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	defer srv.Close()

	archive, err := NewStorageClient(srv.URL+"/", "service-key", "webhook-events")
	require.NoError(t, err)

	payload := []byte(`{"id":"evt_1","type":"payment_intent.succeeded"}`)
	path, err := archive.ArchiveEvent("evt_1", payload)
	require.NoError(t, err)
	assert.Equal(t, "events/evt_1.json", path)

	mu.Lock()
	assert.Equal(t, payload, objects["webhook-events/events/evt_1.json"])
	mu.Unlock()

	got, err := archive.FetchEvent("evt_1")
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	_, err = archive.FetchEvent("evt_missing")
	assert.Error(t, err)
}

func TestNewStorageClient_RequiresBucket(t *testing.T) {
	_, err := NewStorageClient("http://localhost", "key", "")
	assert.Error(t, err)
}
