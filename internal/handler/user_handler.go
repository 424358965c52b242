package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/runnerz/internal/middleware"
	"github.com/hitoshi/runnerz/internal/model"
	"github.com/hitoshi/runnerz/internal/user"
)

// UserFetcher はユーザーハンドラーが必要とするユーザーサービスクライアントのインターフェース。
type UserFetcher interface {
	FindAll(ctx context.Context) ([]*model.UserProfile, error)
	FindByID(ctx context.Context, id int) (*model.UserProfile, error)
}

// UserHandler は外部ユーザーサービスのプロフィールを中継するHTTPハンドラー。
type UserHandler struct {
	fetcher UserFetcher
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(fetcher UserFetcher) *UserHandler {
	return &UserHandler{fetcher: fetcher}
}

// ListUsers は全ユーザーのプロフィールを返す。
// GET /api/users
func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.fetcher.FindAll(r.Context())
	if err != nil {
		handleUserFetchError(w, r, 0, err)
		return
	}
	writeJSON(w, http.StatusOK, profiles)
}

// GetUser は指定IDのユーザープロフィールを返す。
// GET /api/users/{id}
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidUserIDError(raw))
		return
	}

	profile, err := h.fetcher.FindByID(r.Context(), id)
	if err != nil {
		handleUserFetchError(w, r, id, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// handleUserFetchError はユーザーサービスの取得失敗をAPIエラーに変換する。
// 上流の404のみ404とし、それ以外の上流の失敗は502または504とする。
func handleUserFetchError(w http.ResponseWriter, r *http.Request, id int, err error) {
	fe, ok := user.AsRemoteFetchError(err)
	if !ok {
		handleServiceError(w, r, err)
		return
	}

	var apiErr *model.APIError
	switch fe.Kind {
	case user.FetchErrorStatus:
		if fe.StatusCode == http.StatusNotFound {
			apiErr = model.NewUserNotFoundError(id)
		} else {
			apiErr = model.NewUserServiceError(fe.StatusCode)
		}
	case user.FetchErrorTransport:
		if fe.Timeout() {
			apiErr = model.NewUserServiceTimeoutError()
		} else {
			apiErr = model.NewUserServiceUnavailableError()
		}
	default:
		apiErr = model.NewUserServiceBadResponseError()
	}

	slog.Warn("user service request failed",
		slog.String("kind", string(fe.Kind)),
		slog.String("code", apiErr.Code),
		slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
	)
	writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
}
