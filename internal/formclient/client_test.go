package formclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campushq/apply-api/pkg/config"
)

type recordingInvalidator struct {
	forms []int64
}

func (r *recordingInvalidator) InvalidateForm(_ context.Context, formID int64) {
	r.forms = append(r.forms, formID)
}

func newTestClient(t *testing.T, handler http.Handler, invalidator Invalidator) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := New(config.FormProviderConfig{BaseURL: server.URL, PageSize: 2}, invalidator, nil)
	return client, server
}

func TestClientSubmissionsFlattensPages(t *testing.T) {
	pagesServed := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/form/55/submission", r.URL.Path)
		require.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		pagesServed++

		payload := submissionListPayload{Pages: 2}
		switch page {
		case 1:
			payload.Submissions = []submissionPayload{
				{ID: "101", Data: map[string]valuePayload{"7": {Field: "7", Value: "alice"}}},
				{ID: "102", Data: map[string]valuePayload{"7": {Field: "7", Value: "bob"}}},
			}
		case 2:
			payload.Submissions = []submissionPayload{
				{ID: "103", Data: map[string]valuePayload{"7": {Field: "7", Value: "carol"}}},
			}
		}
		_ = json.NewEncoder(w).Encode(payload)
	})
	client, _ := newTestClient(t, handler, nil)

	submissions, err := client.Submissions(context.Background(), "key-1", 55)
	require.NoError(t, err)
	require.Len(t, submissions, 3)
	assert.Equal(t, 2, pagesServed)
	assert.Equal(t, int64(101), submissions[0].ID)
	assert.Equal(t, int64(103), submissions[2].ID)
	assert.Equal(t, []FieldValue{{FieldID: 7, Value: "alice"}}, submissions[0].Data)
}

func TestClientSubmissionDataSortedByField(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/submission/101", r.URL.Path)
		_ = json.NewEncoder(w).Encode(submissionPayload{
			ID: "101",
			Data: map[string]valuePayload{
				"30": {Field: "30", Value: "Geometry"},
				"7":  {Field: "7", Value: "alice"},
			},
		})
	})
	client, _ := newTestClient(t, handler, nil)

	data, err := client.SubmissionData(context.Background(), "key-1", 101)
	require.NoError(t, err)
	require.Len(t, data, 2)
	assert.Equal(t, int64(7), data[0].FieldID)
	assert.Equal(t, int64(30), data[1].FieldID)
}

func TestClientFieldInfo(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/form/55", r.URL.Path)
		_ = json.NewEncoder(w).Encode(formFieldsPayload{Fields: []fieldPayload{
			{ID: "7", Label: "Username"},
			{ID: "30", Label: "First choice"},
		}})
	})
	client, _ := newTestClient(t, handler, nil)

	fields, err := client.FieldInfo(context.Background(), "key-1", 55)
	require.NoError(t, err)
	require.Len(t, fields, 2)
	assert.Equal(t, Field{ID: 7, Label: "Username"}, fields[0])
}

func TestClientCreateFieldInvalidatesForm(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/form/55/field", r.URL.Path)
		var spec FieldSpec
		require.NoError(t, json.NewDecoder(r.Body).Decode(&spec))
		assert.Equal(t, "Essay", spec.Label)
		_ = json.NewEncoder(w).Encode(fieldPayload{ID: "99", Label: spec.Label})
	})
	invalidator := &recordingInvalidator{}
	client, _ := newTestClient(t, handler, invalidator)

	field, err := client.CreateField(context.Background(), "key-1", 55, FieldSpec{Label: "Essay", Type: "textarea"})
	require.NoError(t, err)
	assert.Equal(t, int64(99), field.ID)
	assert.Equal(t, []int64{55}, invalidator.forms)
}

func TestClientPropagatesProviderErrors(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	})
	client, _ := newTestClient(t, handler, nil)

	_, err := client.Submissions(context.Background(), "key-1", 55)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestClientNotifyChangedWithoutInvalidator(t *testing.T) {
	client := New(config.FormProviderConfig{BaseURL: "http://localhost"}, nil, nil)
	client.NotifyChanged(context.Background(), 55)
}
