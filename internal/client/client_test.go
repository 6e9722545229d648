package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linear/api/internal/model"
)

func TestClientSendsIdentityAndDecodes(t *testing.T) {
	var gotUser, gotMethod, gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = r.Header.Get("X-User-ID")
		gotMethod, gotPath = r.Method, r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "ENG-1", "status": "DONE", "team": map[string]string{"_id": "team-eng"}, "version": 3,
		})
	}))
	defer srv.Close()

	c := New(srv.URL+"/", "usr-ada")
	ticket, err := c.UpdateTicketStatus(context.Background(), "ENG-1", model.StatusDone)
	require.NoError(t, err)

	assert.Equal(t, "usr-ada", gotUser)
	assert.Equal(t, http.MethodPatch, gotMethod)
	assert.Equal(t, "/api/tickets/ENG-1", gotPath)
	assert.Equal(t, "DONE", gotBody["status"])
	assert.Equal(t, model.StatusDone, ticket.Status)
	assert.Equal(t, model.Ref("team-eng"), ticket.Team)
	assert.EqualValues(t, 3, ticket.Version)
}

func TestClientStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"code":"FORBIDDEN","error":"Forbidden"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "usr-guest").CreateTicket(context.Background(), NewTicket{Title: "x", Team: "team-eng"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStatus)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusForbidden, statusErr.Status)
	assert.Equal(t, "FORBIDDEN", statusErr.Code)
}

func TestClientStatusErrorWithoutJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(srv.URL, "").ListUsers(context.Background())
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadGateway, statusErr.Status)
	assert.Equal(t, "Bad Gateway", statusErr.Message)
}

func TestClientEventsURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:8787/api/teams/team-eng/events?user=usr-ada",
		New("http://localhost:8787", "usr-ada").EventsURL("team-eng"))
	assert.Equal(t, "wss://linear.example/api/teams/team%20x/events",
		New("https://linear.example/", "").EventsURL("team x"))
}

func TestClientExportUsesDispositionName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "pdf", r.URL.Query().Get("format"))
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", `attachment; filename="ENG-1 Fix login.pdf"`)
		_, _ = w.Write([]byte("%PDF-1.4"))
	}))
	defer srv.Close()

	data, name, err := New(srv.URL, "").Export(context.Background(), "ENG-1", "pdf")
	require.NoError(t, err)
	assert.Equal(t, "ENG-1 Fix login.pdf", name)
	assert.Equal(t, "%PDF-1.4", string(data))
}
