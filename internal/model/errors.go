package model

import (
	"errors"
	"fmt"
)

// ストア層が返すドメインエラー。
// 呼び出し側はerrors.Isで判定する。
var (
	// ErrInvalidRecord はランの入力値が不変条件を満たさないことを示す。
	ErrInvalidRecord = errors.New("invalid run record")
	// ErrRunNotFound は指定IDのランが存在しないことを示す。
	ErrRunNotFound = errors.New("run not found")
	// ErrRunConflict は同じIDのランが既に存在することを示す。
	ErrRunConflict = errors.New("run already exists")
	// ErrOptimisticLock は更新時のバージョンが保存済みのバージョンと一致しないことを示す。
	// 呼び出し側は再取得してからリトライする。
	ErrOptimisticLock = errors.New("optimistic lock conflict")
	// ErrStorageInvariant は影響行数が想定と異なることを示す。ストアの不具合でありリトライしない。
	ErrStorageInvariant = errors.New("storage invariant violation")
)

// InvalidRecordError はどのフィールドがなぜ不正かを保持する検証エラー。
type InvalidRecordError struct {
	Field  string
	Reason string
}

// Error はerrorインターフェースを実装する。
func (e *InvalidRecordError) Error() string {
	return fmt.Sprintf("invalid run record: %s %s", e.Field, e.Reason)
}

// Is はerrors.Is(err, ErrInvalidRecord)を成立させる。
func (e *InvalidRecordError) Is(target error) bool {
	return target == ErrInvalidRecord
}

// StorageInvariantError は影響行数の不一致を表す。
type StorageInvariantError struct {
	Op       string
	ID       int
	Affected int64
}

// Error はerrorインターフェースを実装する。
func (e *StorageInvariantError) Error() string {
	return fmt.Sprintf("storage invariant violation: %s run %d affected %d rows, want 1", e.Op, e.ID, e.Affected)
}

// Is はerrors.Is(err, ErrStorageInvariant)を成立させる。
func (e *StorageInvariantError) Is(target error) bool {
	return target == ErrStorageInvariant
}

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, run, user, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidRequest         = "INVALID_REQUEST"
	ErrCodeInvalidRun             = "INVALID_RUN"
	ErrCodeInvalidRunID           = "INVALID_RUN_ID"
	ErrCodeInvalidLocation        = "INVALID_LOCATION"
	ErrCodeRunNotFound            = "RUN_NOT_FOUND"
	ErrCodeRunAlreadyExists       = "RUN_ALREADY_EXISTS"
	ErrCodeOptimisticLockConflict = "OPTIMISTIC_LOCK_CONFLICT"
	ErrCodeInvalidUserID          = "INVALID_USER_ID"
	ErrCodeUserNotFound           = "USER_NOT_FOUND"
	ErrCodeUserServiceError       = "USER_SERVICE_ERROR"
	ErrCodeUserServiceUnavailable = "USER_SERVICE_UNAVAILABLE"
	ErrCodeUserServiceTimeout     = "USER_SERVICE_TIMEOUT"
	ErrCodeUserServiceBadResponse = "USER_SERVICE_BAD_RESPONSE"
	ErrCodeRateLimitExceeded      = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal               = "INTERNAL_ERROR"
)

// NewInvalidRequestError はリクエストボディの解析失敗エラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewInvalidRunError はランの検証エラーを生成する。
func NewInvalidRunError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRun,
		Message:  fmt.Sprintf("ランの内容が不正です: %s", reason),
		Category: "validation",
		Action:   "タイトル、距離（正の整数）、開始・終了日時（終了は開始より後）、場所（INDOOR/OUTDOOR）を確認してください。",
	}
}

// NewInvalidRunIDError は不正なランIDのエラーを生成する。
func NewInvalidRunIDError(raw string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRunID,
		Message:  fmt.Sprintf("無効なランIDです: %s", raw),
		Category: "validation",
		Action:   "ランIDには正の整数を指定してください。",
	}
}

// NewInvalidLocationError は不正な場所指定のエラーを生成する。
func NewInvalidLocationError(raw string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidLocation,
		Message:  fmt.Sprintf("無効な場所です: %s", raw),
		Category: "validation",
		Action:   "場所には INDOOR または OUTDOOR を指定してください。",
	}
}

// NewRunNotFoundError はラン未検出エラーを生成する。
func NewRunNotFoundError(id int) *APIError {
	return &APIError{
		Code:     ErrCodeRunNotFound,
		Message:  fmt.Sprintf("指定されたランが見つかりません: %d", id),
		Category: "run",
		Action:   "ランIDを確認してください。",
	}
}

// NewRunAlreadyExistsError はID重複エラーを生成する。
func NewRunAlreadyExistsError(id int) *APIError {
	return &APIError{
		Code:     ErrCodeRunAlreadyExists,
		Message:  fmt.Sprintf("同じIDのランが既に存在します: %d", id),
		Category: "run",
		Action:   "別のIDを指定してください。",
	}
}

// NewOptimisticLockConflictError は楽観ロック競合エラーを生成する。
func NewOptimisticLockConflictError(id, version int) *APIError {
	return &APIError{
		Code:     ErrCodeOptimisticLockConflict,
		Message:  fmt.Sprintf("ラン %d はバージョン %d 以降に更新されています。", id, version),
		Category: "run",
		Action:   "最新のランを取得し直してから再度更新してください。",
	}
}

// NewInvalidUserIDError は不正なユーザーIDのエラーを生成する。
func NewInvalidUserIDError(raw string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidUserID,
		Message:  fmt.Sprintf("無効なユーザーIDです: %s", raw),
		Category: "validation",
		Action:   "ユーザーIDには正の整数を指定してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError(id int) *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  fmt.Sprintf("ユーザーが見つかりません: %d", id),
		Category: "user",
		Action:   "ユーザーIDを確認してください。",
	}
}

// NewUserServiceError はユーザーサービスがエラーステータスを返した場合のエラーを生成する。
func NewUserServiceError(statusCode int) *APIError {
	return &APIError{
		Code:     ErrCodeUserServiceError,
		Message:  fmt.Sprintf("ユーザーサービスがステータス %d を返しました。", statusCode),
		Category: "user",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewUserServiceUnavailableError はユーザーサービスに接続できない場合のエラーを生成する。
func NewUserServiceUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeUserServiceUnavailable,
		Message:  "ユーザーサービスに接続できませんでした。",
		Category: "user",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewUserServiceTimeoutError はユーザーサービスの応答がタイムアウトした場合のエラーを生成する。
func NewUserServiceTimeoutError() *APIError {
	return &APIError{
		Code:     ErrCodeUserServiceTimeout,
		Message:  "ユーザーサービスの応答がタイムアウトしました。",
		Category: "user",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewUserServiceBadResponseError はユーザーサービスの応答が解析できない場合のエラーを生成する。
func NewUserServiceBadResponseError() *APIError {
	return &APIError{
		Code:     ErrCodeUserServiceBadResponse,
		Message:  "ユーザーサービスの応答を解析できませんでした。",
		Category: "user",
		Action:   "管理者に連絡してください。",
	}
}

// NewRateLimitExceededError はレート制限超過エラーを生成する。
func NewRateLimitExceededError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  "リクエスト数が上限を超えました。",
		Category: "system",
		Action:   "Retry-Afterヘッダーの秒数だけ待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
