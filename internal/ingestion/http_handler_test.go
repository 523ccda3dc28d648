package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rpattn/beneficiary/internal/auth"
	"github.com/rpattn/beneficiary/internal/domain"
	"github.com/rpattn/beneficiary/internal/repository/memory"
	"github.com/rpattn/beneficiary/internal/workflow"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type handlerFixture struct {
	store *memory.Store
	queue *workflow.MemoryQueue
	mux   http.Handler
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	store := memory.NewStore()
	queue := workflow.NewMemoryQueue(4)
	registry := workflow.NewRegistry(queue, nil)
	registry.Register(workflow.UploadWorkflowName, workflow.ProcessorFunc(func(ctx context.Context, payload workflow.TriggerPayload) error {
		return nil
	}))

	service := NewService(store, store.ValidationLog(), domain.DefaultIndividualSchema, nil)
	mux := http.NewServeMux()
	NewHTTPHandler(service, registry, workflow.UploadWorkflowName).Register(mux)
	return &handlerFixture{store: store, queue: queue, mux: auth.Middleware(mux)}
}

func multipartUpload(t *testing.T, fields map[string]string, fileName, content string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	if fileName != "" {
		part, err := writer.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func (f *handlerFixture) do(req *http.Request, userID uuid.UUID) *httptest.ResponseRecorder {
	if userID != uuid.Nil {
		req.Header.Set(auth.UserHeader, userID.String())
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func TestHandlerUploadAndStatus(t *testing.T) {
	f := newHandlerFixture(t)
	userID := uuid.New()

	body, contentType := multipartUpload(t,
		map[string]string{"groupAggregationColumn": "household"},
		"people.csv", "first_name,last_name,dob,household\nJohn,Doe,1980-01-01,H1\n",
	)
	req := httptest.NewRequest(http.MethodPost, "/api/individual/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := f.do(req, userID)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var result ImportResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.Equal(t, 1, f.queue.Len())

	statusReq := httptest.NewRequest(http.MethodGet, "/api/individual/upload/"+result.Data.UploadUUID.String(), nil)
	statusRec := f.do(statusReq, userID)
	require.Equal(t, http.StatusOK, statusRec.Code)

	var status struct {
		ID     uuid.UUID           `json:"id"`
		Status domain.UploadStatus `json:"status"`
	}
	require.NoError(t, json.Unmarshal(statusRec.Body.Bytes(), &status))
	assert.Equal(t, result.Data.UploadUUID, status.ID)
	assert.Equal(t, domain.UploadStatusTriggered, status.Status)

	logReq := httptest.NewRequest(http.MethodGet, "/api/individual/upload/"+result.Data.UploadUUID.String()+"/validation-log?limit=5", nil)
	logRec := f.do(logReq, userID)
	require.Equal(t, http.StatusOK, logRec.Code)
	assert.JSONEq(t, "[]", logRec.Body.String())
}

func TestHandlerUploadRequiresUser(t *testing.T) {
	f := newHandlerFixture(t)
	body, contentType := multipartUpload(t, nil, "people.csv", "first_name\nJohn\n")
	req := httptest.NewRequest(http.MethodPost, "/api/individual/upload", body)
	req.Header.Set("Content-Type", contentType)

	rec := f.do(req, uuid.Nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, f.queue.Len())
}

func TestHandlerUploadRejectsUnknownWorkflow(t *testing.T) {
	f := newHandlerFixture(t)
	body, contentType := multipartUpload(t, map[string]string{"workflow": "nope"}, "people.csv", "first_name\nJohn\n")
	req := httptest.NewRequest(http.MethodPost, "/api/individual/upload", body)
	req.Header.Set("Content-Type", contentType)

	rec := f.do(req, uuid.New())

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerUploadRejectsEmptyFile(t *testing.T) {
	f := newHandlerFixture(t)
	body, contentType := multipartUpload(t, nil, "people.csv", "")
	req := httptest.NewRequest(http.MethodPost, "/api/individual/upload", body)
	req.Header.Set("Content-Type", contentType)

	rec := f.do(req, uuid.New())

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "could not be parsed")
}

func TestHandlerStatusNotFound(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/individual/upload/"+uuid.NewString(), nil), uuid.New())
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/individual/upload/not-a-uuid", nil), uuid.New())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerValidationLogRejectsBadPaging(t *testing.T) {
	f := newHandlerFixture(t)
	base := "/api/individual/upload/" + uuid.NewString() + "/validation-log"

	for _, query := range []string{"?limit=abc", "?offset=1.5", "?limit=-1", "?limit=10&offset=-3"} {
		rec := f.do(httptest.NewRequest(http.MethodGet, base+query, nil), uuid.New())
		assert.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
}
