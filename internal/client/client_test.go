package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/matthewbaird/canalworks/internal/errors"
	"github.com/matthewbaird/canalworks/internal/types"
)

func TestCreateWork_SendsAuditHeaders(t *testing.T) {
	var got *http.Request
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"id":42}`)
	}))
	defer srv.Close()

	c := New(srv.URL+"/", "alice", time.Second).WithCorrelation("sub-1")
	id, err := c.CreateWork(context.Background(), types.Work{Name: "Canal A"})
	require.NoError(t, err)
	assert.EqualValues(t, 42, id)

	assert.Equal(t, "/v1/works", got.URL.Path)
	assert.Equal(t, "alice", got.Header.Get("X-Actor"))
	assert.Equal(t, "user", got.Header.Get("X-Source"))
	assert.Equal(t, "sub-1", got.Header.Get("X-Correlation-ID"))
	assert.Equal(t, "Canal A", body["name"])
}

func TestTypedErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"code":"VALIDATION_FAILED","error":"Cost is required","fields":{"work.cost":"Cost is required"}}`)
	}))
	defer srv.Close()

	err := New(srv.URL, "alice", time.Second).CreateBeneficiary(context.Background(), 7, types.Beneficiary{})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeValidationFailed, apperrors.CodeOf(err))

	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "Cost is required", appErr.Metadata["work.cost"])
}

func TestLegacyErrorResponse(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   apperrors.Code
	}{
		{"duplicate text", http.StatusInternalServerError, "SQLSTATE[23000]: Duplicate entry 'Canal A' for key 'work_name'", apperrors.CodeConstraintDuplicate},
		{"foreign key json", http.StatusInternalServerError, `{"error":"Foreign key constraint fails"}`, apperrors.CodeConstraintForeignKey},
		{"bare 500", http.StatusInternalServerError, "", apperrors.CodeInternal},
		{"bare 400", http.StatusBadRequest, "nope", apperrors.CodeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			err := New(srv.URL, "alice", time.Second).DeleteWork(context.Background(), 1)
			assert.Equal(t, tt.want, apperrors.CodeOf(err))
		})
	}
}

func TestTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	_, err := New(srv.URL, "alice", 20*time.Millisecond).WorkNames(context.Background())
	assert.Equal(t, apperrors.CodeTransport, apperrors.CodeOf(err))

	srv.Close()
	_, err = New(srv.URL, "alice", time.Second).WorkNames(context.Background())
	assert.Equal(t, apperrors.CodeTransport, apperrors.CodeOf(err))
}

func TestOptions_ParentQuery(t *testing.T) {
	var gotURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURL = r.URL.String()
		io.WriteString(w, `{"level":"circle","options":[{"id":10,"name":"North circle","parent_id":1}]}`)
	}))
	defer srv.Close()

	parent := int64(1)
	opts, err := New(srv.URL, "alice", time.Second).Options(context.Background(), types.LevelCircle, &parent)
	require.NoError(t, err)
	assert.Equal(t, "/v1/options/circle?parent_id=1", gotURL)
	require.Len(t, opts, 1)
	assert.EqualValues(t, 10, opts[0].ID)
}
