package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/mentor-trust-api/internal/dto"
	"github.com/noah-isme/mentor-trust-api/internal/middleware"
	"github.com/noah-isme/mentor-trust-api/internal/models"
	appErrors "github.com/noah-isme/mentor-trust-api/pkg/errors"
)

type approvalServiceMock struct {
	createdWith dto.CreatePendingActionRequest
	actor       models.Actor
	query       dto.PendingActionQuery
	rejectWith  string
	err         error
	list        *models.PendingActionList
}

func (m *approvalServiceMock) Create(ctx context.Context, actor models.Actor, req dto.CreatePendingActionRequest) (*models.PendingAction, error) {
	m.actor, m.createdWith = actor, req
	if m.err != nil {
		return nil, m.err
	}
	return &models.PendingAction{ID: "pa-1", Action: req.Action, Status: models.PendingStatusPending, RiskLevel: models.RiskCritical}, nil
}

func (m *approvalServiceMock) List(ctx context.Context, actor models.Actor, query dto.PendingActionQuery) (*models.PendingActionList, error) {
	m.actor, m.query = actor, query
	return m.list, m.err
}

func (m *approvalServiceMock) Get(ctx context.Context, id string) (*models.PendingAction, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &models.PendingAction{ID: id}, nil
}

func (m *approvalServiceMock) Approve(ctx context.Context, actor models.Actor, id string) (*models.PendingAction, error) {
	m.actor = actor
	if m.err != nil {
		return nil, m.err
	}
	return &models.PendingAction{ID: id, Status: models.PendingStatusApproved}, nil
}

func (m *approvalServiceMock) Reject(ctx context.Context, actor models.Actor, id, reason string) (*models.PendingAction, error) {
	m.actor, m.rejectWith = actor, reason
	if m.err != nil {
		return nil, m.err
	}
	return &models.PendingAction{ID: id, Status: models.PendingStatusRejected, RejectionReason: &reason}, nil
}

func (m *approvalServiceMock) Execute(ctx context.Context, actor models.Actor, id string) (*models.ExecutionOutcome, error) {
	m.actor = actor
	if m.err != nil {
		return nil, m.err
	}
	return &models.ExecutionOutcome{PendingActionID: id, Action: "user.delete", Result: map[string]interface{}{"deleted": true}}, nil
}

func (m *approvalServiceMock) Cancel(ctx context.Context, actor models.Actor, id string) (*models.PendingAction, error) {
	m.actor = actor
	if m.err != nil {
		return nil, m.err
	}
	return &models.PendingAction{ID: id, Status: models.PendingStatusCancelled}, nil
}

type envelopeBody struct {
	Data       json.RawMessage        `json:"data"`
	Error      *appErrors.Error       `json:"error"`
	Pagination *models.Pagination     `json:"pagination"`
	Meta       map[string]interface{} `json:"meta"`
}

func newAdminContext(method, target string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "admin-console")
	req.RemoteAddr = "192.0.2.10:5000"
	c.Request = req
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "admin-a", FullName: "Ayu", Role: models.RoleAdmin})
	return c, w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelopeBody {
	t.Helper()
	var body envelopeBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestPendingActionHandlerCreate(t *testing.T) {
	svc := &approvalServiceMock{}
	handler := NewPendingActionHandler(svc)
	payload, _ := json.Marshal(dto.CreatePendingActionRequest{
		Action:     "user.delete",
		TargetType: "user",
		TargetID:   "user-x",
		Reason:     "policy violation",
	})
	c, w := newAdminContext(http.MethodPost, "/api/v1/pending-actions", payload)

	handler.Create(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "user-x", svc.createdWith.TargetID)
	assert.Equal(t, "admin-a", svc.actor.ID)
	assert.Equal(t, "Ayu", svc.actor.Name)
	assert.Equal(t, "192.0.2.10", svc.actor.IPAddress)
	assert.Equal(t, "admin-console", svc.actor.UserAgent)

	var created models.PendingAction
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &created))
	assert.Equal(t, models.RiskCritical, created.RiskLevel)
}

func TestPendingActionHandlerCreateRequiresClaims(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewPendingActionHandler(&approvalServiceMock{})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodPost, "/api/v1/pending-actions", bytes.NewReader([]byte(`{}`)))

	handler.Create(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPendingActionHandlerCreateInvalidBody(t *testing.T) {
	handler := NewPendingActionHandler(&approvalServiceMock{})
	c, w := newAdminContext(http.MethodPost, "/api/v1/pending-actions", []byte(`not-json`))

	handler.Create(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPendingActionHandlerListIncludesApprovalCount(t *testing.T) {
	svc := &approvalServiceMock{list: &models.PendingActionList{
		Items:              []models.PendingAction{{ID: "pa-1"}, {ID: "pa-2"}},
		Total:              45,
		PendingForApproval: 3,
	}}
	handler := NewPendingActionHandler(svc)
	c, w := newAdminContext(http.MethodGet, "/api/v1/pending-actions?status=all&page=2&limit=20", nil)

	handler.List(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "all", svc.query.Status)
	body := decodeEnvelope(t, w)
	require.NotNil(t, body.Pagination)
	assert.Equal(t, 2, body.Pagination.Page)
	assert.Equal(t, 45, body.Pagination.TotalCount)
	assert.Equal(t, 3, body.Pagination.TotalPages)
	assert.Equal(t, float64(3), body.Meta["pendingForApproval"])
}

func TestPendingActionHandlerApproveMapsForbidden(t *testing.T) {
	svc := &approvalServiceMock{err: appErrors.Clone(appErrors.ErrForbidden, "cannot approve your own request")}
	handler := NewPendingActionHandler(svc)
	c, w := newAdminContext(http.MethodPost, "/api/v1/pending-actions/pa-1/approve", nil)
	c.Params = gin.Params{{Key: "id", Value: "pa-1"}}

	handler.Approve(c)

	require.Equal(t, http.StatusForbidden, w.Code)
	body := decodeEnvelope(t, w)
	require.NotNil(t, body.Error)
	assert.Equal(t, "cannot approve your own request", body.Error.Message)
}

func TestPendingActionHandlerReject(t *testing.T) {
	svc := &approvalServiceMock{}
	handler := NewPendingActionHandler(svc)
	c, w := newAdminContext(http.MethodPost, "/api/v1/pending-actions/pa-1/reject", []byte(`{"reason":"duplicate"}`))
	c.Params = gin.Params{{Key: "id", Value: "pa-1"}}

	handler.Reject(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "duplicate", svc.rejectWith)

	c, w = newAdminContext(http.MethodPost, "/api/v1/pending-actions/pa-1/reject", nil)
	c.Params = gin.Params{{Key: "id", Value: "pa-1"}}
	handler.Reject(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPendingActionHandlerExecuteStatuses(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{name: "success", status: http.StatusOK},
		{name: "already executed", err: appErrors.Clone(appErrors.ErrInvalidState, "action has already been executed"), status: http.StatusConflict},
		{name: "not requester", err: appErrors.Clone(appErrors.ErrForbidden, "only the requester can execute this action"), status: http.StatusForbidden},
		{name: "no executor", err: appErrors.ErrPreconditionFailed, status: http.StatusPreconditionFailed},
		{name: "missing", err: appErrors.ErrNotFound, status: http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := NewPendingActionHandler(&approvalServiceMock{err: tc.err})
			c, w := newAdminContext(http.MethodPost, "/api/v1/pending-actions/pa-1/execute", nil)
			c.Params = gin.Params{{Key: "id", Value: "pa-1"}}

			handler.Execute(c)
			assert.Equal(t, tc.status, w.Code)
		})
	}
}

func TestPendingActionHandlerCancelAndGet(t *testing.T) {
	handler := NewPendingActionHandler(&approvalServiceMock{})
	c, w := newAdminContext(http.MethodPost, "/api/v1/pending-actions/pa-9/cancel", nil)
	c.Params = gin.Params{{Key: "id", Value: "pa-9"}}
	handler.Cancel(c)
	assert.Equal(t, http.StatusOK, w.Code)

	c, w = newAdminContext(http.MethodGet, "/api/v1/pending-actions/pa-9", nil)
	c.Params = gin.Params{{Key: "id", Value: "pa-9"}}
	handler.Get(c)
	require.Equal(t, http.StatusOK, w.Code)
	var action models.PendingAction
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &action))
	assert.Equal(t, "pa-9", action.ID)
}
