package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/runnerz/internal/model"
)

// --- モック定義 ---

// mockRunService はRunServiceInterfaceのモック実装。
type mockRunService struct {
	listFn           func(ctx context.Context) ([]*model.Run, error)
	getFn            func(ctx context.Context, id int) (*model.Run, error)
	listByLocationFn func(ctx context.Context, rawLocation string) ([]*model.Run, error)
	createFn         func(ctx context.Context, in *model.Run) (*model.Run, error)
	updateFn         func(ctx context.Context, id int, in *model.Run) (*model.Run, error)
	deleteFn         func(ctx context.Context, id int) error
}

func (m *mockRunService) List(ctx context.Context) ([]*model.Run, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return nil, nil
}

func (m *mockRunService) Get(ctx context.Context, id int) (*model.Run, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, nil
}

func (m *mockRunService) ListByLocation(ctx context.Context, rawLocation string) ([]*model.Run, error) {
	if m.listByLocationFn != nil {
		return m.listByLocationFn(ctx, rawLocation)
	}
	return nil, nil
}

func (m *mockRunService) Create(ctx context.Context, in *model.Run) (*model.Run, error) {
	if m.createFn != nil {
		return m.createFn(ctx, in)
	}
	return in, nil
}

func (m *mockRunService) Update(ctx context.Context, id int, in *model.Run) (*model.Run, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, id, in)
	}
	return in, nil
}

func (m *mockRunService) Delete(ctx context.Context, id int) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
}

func noonRun() *model.Run {
	return &model.Run{
		ID:          1,
		Title:       "Noon Run",
		StartedOn:   time.Date(2024, 2, 20, 6, 5, 0, 0, time.UTC),
		CompletedOn: time.Date(2024, 2, 20, 10, 27, 0, 0, time.UTC),
		Kilometers:  24,
		Location:    model.LocationIndoor,
	}
}

const noonRunBody = `{"id":1,"title":"Noon Run","startedOn":"2024-02-20T06:05:00","completedOn":"2024-02-20T10:27:00","kilometers":24,"location":"INDOOR"}`

// --- GET /api/runs テスト ---

func TestRunHandler_ListRuns_Success(t *testing.T) {
	svc := &mockRunService{
		listFn: func(ctx context.Context) ([]*model.Run, error) {
			return []*model.Run{noonRun()}, nil
		},
	}
	h := NewRunHandler(svc)

	w := httptest.NewRecorder()
	h.ListRuns(w, httptest.NewRequest(http.MethodGet, "/api/runs", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var body []map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(body) != 1 {
		t.Fatalf("len = %d, want 1", len(body))
	}
	want := map[string]interface{}{
		"id":          float64(1),
		"title":       "Noon Run",
		"startedOn":   "2024-02-20T06:05:00",
		"completedOn": "2024-02-20T10:27:00",
		"kilometers":  float64(24),
		"location":    "INDOOR",
		"version":     float64(0),
	}
	for k, v := range want {
		if body[0][k] != v {
			t.Errorf("%s = %v, want %v", k, body[0][k], v)
		}
	}
}

func TestRunHandler_ListRuns_EmptyIsArray(t *testing.T) {
	h := NewRunHandler(&mockRunService{})

	w := httptest.NewRecorder()
	h.ListRuns(w, httptest.NewRequest(http.MethodGet, "/api/runs", nil))

	if got := bytes.TrimSpace(w.Body.Bytes()); string(got) != "[]" {
		t.Errorf("body = %s, want []", got)
	}
}

// --- GET /api/runs/{id} テスト ---

func TestRunHandler_GetRun_Success(t *testing.T) {
	svc := &mockRunService{
		getFn: func(ctx context.Context, id int) (*model.Run, error) {
			if id != 1 {
				t.Errorf("id = %d, want 1", id)
			}
			return noonRun(), nil
		},
	}
	h := NewRunHandler(svc)

	req := withChiURLParam(httptest.NewRequest(http.MethodGet, "/api/runs/1", nil), "id", "1")
	w := httptest.NewRecorder()
	h.GetRun(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestRunHandler_GetRun_InvalidID(t *testing.T) {
	for _, raw := range []string{"abc", "0", "-3", "1.5"} {
		t.Run(raw, func(t *testing.T) {
			svc := &mockRunService{
				getFn: func(ctx context.Context, id int) (*model.Run, error) {
					t.Fatal("service should not be called")
					return nil, nil
				},
			}
			h := NewRunHandler(svc)

			req := withChiURLParam(httptest.NewRequest(http.MethodGet, "/api/runs/"+raw, nil), "id", raw)
			w := httptest.NewRecorder()
			h.GetRun(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
			if body := parseAPIErrorResponse(t, w); body["code"] != model.ErrCodeInvalidRunID {
				t.Errorf("code = %q, want %q", body["code"], model.ErrCodeInvalidRunID)
			}
		})
	}
}

func TestRunHandler_GetRun_NotFound(t *testing.T) {
	svc := &mockRunService{
		getFn: func(ctx context.Context, id int) (*model.Run, error) {
			return nil, model.NewRunNotFoundError(id)
		},
	}
	h := NewRunHandler(svc)

	req := withChiURLParam(httptest.NewRequest(http.MethodGet, "/api/runs/99", nil), "id", "99")
	w := httptest.NewRecorder()
	h.GetRun(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	body := parseAPIErrorResponse(t, w)
	if body["code"] != model.ErrCodeRunNotFound || body["category"] != "run" {
		t.Errorf("body = %v", body)
	}
}

// --- POST /api/runs テスト ---

func TestRunHandler_CreateRun_Success(t *testing.T) {
	svc := &mockRunService{
		createFn: func(ctx context.Context, in *model.Run) (*model.Run, error) {
			if in.ID != 1 || in.Title != "Noon Run" || in.Kilometers != 24 || in.Location != model.LocationIndoor {
				t.Errorf("入力の変換が不正: %+v", in)
			}
			if !in.StartedOn.Equal(time.Date(2024, 2, 20, 6, 5, 0, 0, time.UTC)) {
				t.Errorf("StartedOn = %v", in.StartedOn)
			}
			return in, nil
		},
	}
	h := NewRunHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/runs", bytes.NewBufferString(noonRunBody))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.CreateRun(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	if loc := w.Header().Get("Location"); loc != "/api/runs/1" {
		t.Errorf("Location = %q, want %q", loc, "/api/runs/1")
	}
}

func TestRunHandler_CreateRun_AcceptsRFC3339AndMinutePrecision(t *testing.T) {
	var got *model.Run
	svc := &mockRunService{
		createFn: func(ctx context.Context, in *model.Run) (*model.Run, error) {
			got = in
			return in, nil
		},
	}
	h := NewRunHandler(svc)

	body := `{"id":2,"title":"Trail","startedOn":"2024-02-20T15:05:00+09:00","completedOn":"2024-02-20T07:30","kilometers":5,"location":"outdoor"}`
	w := httptest.NewRecorder()
	h.CreateRun(w, httptest.NewRequest(http.MethodPost, "/api/runs", bytes.NewBufferString(body)))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusCreated, w.Body.String())
	}
	if !got.StartedOn.Equal(time.Date(2024, 2, 20, 6, 5, 0, 0, time.UTC)) {
		t.Errorf("StartedOn = %v", got.StartedOn)
	}
	if got.Location != model.LocationOutdoor {
		t.Errorf("Location = %q, want OUTDOOR", got.Location)
	}
}

func TestRunHandler_CreateRun_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
		code string
	}{
		{"JSONではない", `not json`, model.ErrCodeInvalidRequest},
		{"開始日時が不正", `{"id":1,"title":"x","startedOn":"yesterday","completedOn":"2024-02-20T10:27:00","kilometers":1,"location":"INDOOR"}`, model.ErrCodeInvalidRun},
		{"終了日時がない", `{"id":1,"title":"x","startedOn":"2024-02-20T06:05:00","kilometers":1,"location":"INDOOR"}`, model.ErrCodeInvalidRun},
		{"場所が不正", `{"id":1,"title":"x","startedOn":"2024-02-20T06:05:00","completedOn":"2024-02-20T10:27:00","kilometers":1,"location":"MOON"}`, model.ErrCodeInvalidRun},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockRunService{
				createFn: func(ctx context.Context, in *model.Run) (*model.Run, error) {
					t.Fatal("service should not be called")
					return nil, nil
				},
			}
			h := NewRunHandler(svc)

			w := httptest.NewRecorder()
			h.CreateRun(w, httptest.NewRequest(http.MethodPost, "/api/runs", bytes.NewBufferString(tt.body)))

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
			if body := parseAPIErrorResponse(t, w); body["code"] != tt.code {
				t.Errorf("code = %q, want %q", body["code"], tt.code)
			}
		})
	}
}

func TestRunHandler_CreateRun_ServiceErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"検証エラー", model.NewInvalidRunError("kilometers must be positive"), http.StatusBadRequest, model.ErrCodeInvalidRun},
		{"ID重複", model.NewRunAlreadyExistsError(1), http.StatusConflict, model.ErrCodeRunAlreadyExists},
		{"ストア不整合", &model.StorageInvariantError{Op: "create", ID: 1, Affected: 2}, http.StatusInternalServerError, model.ErrCodeInternal},
		{"DBエラー", errors.New("connection refused"), http.StatusInternalServerError, model.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockRunService{
				createFn: func(ctx context.Context, in *model.Run) (*model.Run, error) {
					return nil, tt.err
				},
			}
			h := NewRunHandler(svc)

			w := httptest.NewRecorder()
			h.CreateRun(w, httptest.NewRequest(http.MethodPost, "/api/runs", bytes.NewBufferString(noonRunBody)))

			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			body := parseAPIErrorResponse(t, w)
			if body["code"] != tt.code {
				t.Errorf("code = %q, want %q", body["code"], tt.code)
			}
			if tt.status == http.StatusInternalServerError && body["message"] != "内部エラーが発生しました。" {
				t.Errorf("内部エラーの詳細が漏れている: %q", body["message"])
			}
		})
	}
}

// --- PUT /api/runs/{id} テスト ---

func TestRunHandler_UpdateRun_Success(t *testing.T) {
	svc := &mockRunService{
		updateFn: func(ctx context.Context, id int, in *model.Run) (*model.Run, error) {
			if id != 1 {
				t.Errorf("id = %d, want 1", id)
			}
			if in.Version != 3 {
				t.Errorf("Version = %d, want 3", in.Version)
			}
			in.Version++
			return in, nil
		},
	}
	h := NewRunHandler(svc)

	body := `{"title":"Noon Run","startedOn":"2024-02-20T06:05:00","completedOn":"2024-02-20T10:27:00","kilometers":24,"location":"INDOOR","version":3}`
	req := withChiURLParam(httptest.NewRequest(http.MethodPut, "/api/runs/1", bytes.NewBufferString(body)), "id", "1")
	w := httptest.NewRecorder()
	h.UpdateRun(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if w.Body.Len() != 0 {
		t.Errorf("204のボディは空であるべき: %q", w.Body.String())
	}
}

func TestRunHandler_UpdateRun_Errors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"楽観ロック競合", model.NewOptimisticLockConflictError(1, 0), http.StatusConflict, model.ErrCodeOptimisticLockConflict},
		{"存在しない", model.NewRunNotFoundError(1), http.StatusNotFound, model.ErrCodeRunNotFound},
		{"IDの不一致", model.NewInvalidRunError("id 2 does not match path id 1"), http.StatusBadRequest, model.ErrCodeInvalidRun},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockRunService{
				updateFn: func(ctx context.Context, id int, in *model.Run) (*model.Run, error) {
					return nil, tt.err
				},
			}
			h := NewRunHandler(svc)

			req := withChiURLParam(httptest.NewRequest(http.MethodPut, "/api/runs/1", bytes.NewBufferString(noonRunBody)), "id", "1")
			w := httptest.NewRecorder()
			h.UpdateRun(w, req)

			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			if body := parseAPIErrorResponse(t, w); body["code"] != tt.code {
				t.Errorf("code = %q, want %q", body["code"], tt.code)
			}
		})
	}
}

// --- DELETE /api/runs/{id} テスト ---

func TestRunHandler_DeleteRun(t *testing.T) {
	deleted := 0
	svc := &mockRunService{
		deleteFn: func(ctx context.Context, id int) error {
			if id == 1 {
				deleted++
				return nil
			}
			return model.NewRunNotFoundError(id)
		},
	}
	h := NewRunHandler(svc)

	req := withChiURLParam(httptest.NewRequest(http.MethodDelete, "/api/runs/1", nil), "id", "1")
	w := httptest.NewRecorder()
	h.DeleteRun(w, req)
	if w.Code != http.StatusNoContent || deleted != 1 {
		t.Errorf("status = %d, deleted = %d", w.Code, deleted)
	}

	req = withChiURLParam(httptest.NewRequest(http.MethodDelete, "/api/runs/2", nil), "id", "2")
	w = httptest.NewRecorder()
	h.DeleteRun(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// --- GET /api/runs/location/{location} テスト ---

func TestRunHandler_ListRunsByLocation(t *testing.T) {
	svc := &mockRunService{
		listByLocationFn: func(ctx context.Context, raw string) ([]*model.Run, error) {
			if raw == "indoor" {
				return []*model.Run{noonRun()}, nil
			}
			return nil, model.NewInvalidLocationError(raw)
		},
	}
	h := NewRunHandler(svc)

	req := withChiURLParam(httptest.NewRequest(http.MethodGet, "/api/runs/location/indoor", nil), "location", "indoor")
	w := httptest.NewRecorder()
	h.ListRunsByLocation(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}

	req = withChiURLParam(httptest.NewRequest(http.MethodGet, "/api/runs/location/moon", nil), "location", "moon")
	w = httptest.NewRecorder()
	h.ListRunsByLocation(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if body := parseAPIErrorResponse(t, w); body["code"] != model.ErrCodeInvalidLocation {
		t.Errorf("code = %q, want %q", body["code"], model.ErrCodeInvalidLocation)
	}
}

func TestMapAPIErrorToHTTPStatus(t *testing.T) {
	tests := []struct {
		code   string
		status int
	}{
		{model.ErrCodeInvalidRequest, http.StatusBadRequest},
		{model.ErrCodeInvalidUserID, http.StatusBadRequest},
		{model.ErrCodeUserNotFound, http.StatusNotFound},
		{model.ErrCodeRunAlreadyExists, http.StatusConflict},
		{model.ErrCodeUserServiceUnavailable, http.StatusBadGateway},
		{model.ErrCodeUserServiceTimeout, http.StatusGatewayTimeout},
		{model.ErrCodeRateLimitExceeded, http.StatusTooManyRequests},
		{"UNKNOWN", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := mapAPIErrorToHTTPStatus(&model.APIError{Code: tt.code}); got != tt.status {
			t.Errorf("mapAPIErrorToHTTPStatus(%s) = %d, want %d", tt.code, got, tt.status)
		}
	}
}
