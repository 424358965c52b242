package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/runnerz/internal/model"
)

// maxRequestBodyBytes はリクエストボディの上限。
const maxRequestBodyBytes = 1 << 20

// RunServiceInterface はランハンドラーが必要とするサービスインターフェース。
type RunServiceInterface interface {
	List(ctx context.Context) ([]*model.Run, error)
	Get(ctx context.Context, id int) (*model.Run, error)
	ListByLocation(ctx context.Context, rawLocation string) ([]*model.Run, error)
	Create(ctx context.Context, in *model.Run) (*model.Run, error)
	Update(ctx context.Context, id int, in *model.Run) (*model.Run, error)
	Delete(ctx context.Context, id int) error
}

// RunHandler はランのHTTPハンドラー。
type RunHandler struct {
	service RunServiceInterface
}

// NewRunHandler はRunHandlerを生成する。
func NewRunHandler(service RunServiceInterface) *RunHandler {
	return &RunHandler{service: service}
}

// runRequest はラン作成・更新リクエストのボディ。
// 更新時のidは省略でき、省略した場合はパスのIDを使用する。
type runRequest struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	StartedOn   string `json:"startedOn"`
	CompletedOn string `json:"completedOn"`
	Kilometers  int    `json:"kilometers"`
	Location    string `json:"location"`
	Version     int    `json:"version"`
}

// runResponse はランのAPIレスポンス。
type runResponse struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	StartedOn   string `json:"startedOn"`
	CompletedOn string `json:"completedOn"`
	Kilometers  int    `json:"kilometers"`
	Location    string `json:"location"`
	Version     int    `json:"version"`
}

// ListRuns は全ランを返す。
// GET /api/runs
func (h *RunHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.service.List(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRunResponses(runs))
}

// GetRun は指定IDのランを返す。
// GET /api/runs/{id}
func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, apiErr := parseRunID(chi.URLParam(r, "id"))
	if apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	found, err := h.service.Get(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRunResponse(found))
}

// ListRunsByLocation は指定場所のランを返す。
// GET /api/runs/location/{location}
func (h *RunHandler) ListRunsByLocation(w http.ResponseWriter, r *http.Request) {
	runs, err := h.service.ListByLocation(r.Context(), chi.URLParam(r, "location"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRunResponses(runs))
}

// CreateRun はランを作成する。
// POST /api/runs
func (h *RunHandler) CreateRun(w http.ResponseWriter, r *http.Request) {
	in, apiErr := decodeRunRequest(w, r)
	if apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	created, err := h.service.Create(r.Context(), in)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/runs/%d", created.ID))
	writeJSON(w, http.StatusCreated, toRunResponse(created))
}

// UpdateRun はパスのIDのランを更新する。
// ボディのversionは最後に読み取ったバージョンでなければならない。
// PUT /api/runs/{id}
func (h *RunHandler) UpdateRun(w http.ResponseWriter, r *http.Request) {
	id, apiErr := parseRunID(chi.URLParam(r, "id"))
	if apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	in, apiErr := decodeRunRequest(w, r)
	if apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	if _, err := h.service.Update(r.Context(), id, in); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteRun は指定IDのランを削除する。
// DELETE /api/runs/{id}
func (h *RunHandler) DeleteRun(w http.ResponseWriter, r *http.Request) {
	id, apiErr := parseRunID(chi.URLParam(r, "id"))
	if apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	if err := h.service.Delete(r.Context(), id); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- ヘルパー関数 ---

// parseRunID はパスパラメータのランIDを正の整数として解析する。
func parseRunID(raw string) (int, *model.APIError) {
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		return 0, model.NewInvalidRunIDError(raw)
	}
	return id, nil
}

// decodeRunRequest はリクエストボディを解析してmodel.Runに変換する。
// 日時と場所の形式エラーはここで検出し、それ以外の検証はストアに任せる。
func decodeRunRequest(w http.ResponseWriter, r *http.Request) (*model.Run, *model.APIError) {
	var req runRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)).Decode(&req); err != nil {
		return nil, model.NewInvalidRequestError()
	}

	startedOn, err := model.ParseTimestamp(req.StartedOn)
	if err != nil {
		return nil, model.NewInvalidRunError("startedOn: " + err.Error())
	}
	completedOn, err := model.ParseTimestamp(req.CompletedOn)
	if err != nil {
		return nil, model.NewInvalidRunError("completedOn: " + err.Error())
	}
	location, err := model.ParseLocation(req.Location)
	if err != nil {
		return nil, model.NewInvalidRunError("location must be INDOOR or OUTDOOR")
	}

	return &model.Run{
		ID:          req.ID,
		Title:       req.Title,
		StartedOn:   startedOn,
		CompletedOn: completedOn,
		Kilometers:  req.Kilometers,
		Location:    location,
		Version:     req.Version,
	}, nil
}

// toRunResponse はmodel.RunからAPIレスポンスに変換する。
func toRunResponse(r *model.Run) runResponse {
	return runResponse{
		ID:          r.ID,
		Title:       r.Title,
		StartedOn:   model.FormatTimestamp(r.StartedOn),
		CompletedOn: model.FormatTimestamp(r.CompletedOn),
		Kilometers:  r.Kilometers,
		Location:    string(r.Location),
		Version:     r.Version,
	}
}

// toRunResponses はランの一覧をAPIレスポンスに変換する。空の場合も[]を返す。
func toRunResponses(runs []*model.Run) []runResponse {
	results := make([]runResponse, len(runs))
	for i, r := range runs {
		results[i] = toRunResponse(r)
	}
	return results
}
