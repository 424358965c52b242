package user

import (
	"context"
	"errors"
	"fmt"
)

// FetchErrorKind はRemoteFetchErrorの原因分類。
type FetchErrorKind string

const (
	// FetchErrorTransport はリクエスト作成・接続・タイムアウトなど通信層の失敗。
	FetchErrorTransport FetchErrorKind = "transport"
	// FetchErrorStatus は2xx以外のHTTPステータス。
	FetchErrorStatus FetchErrorKind = "status"
	// FetchErrorDecode はレスポンスボディの読み取り・解析の失敗、または想定外の形状。
	FetchErrorDecode FetchErrorKind = "decode"
)

// RemoteFetchError はユーザーサービス呼び出しの失敗を表す。
type RemoteFetchError struct {
	Kind       FetchErrorKind
	Op         string // "FindAll" または "FindByID"
	URL        string
	StatusCode int // KindがFetchErrorStatusの場合のみ設定
	Err        error
}

// Error はerrorインターフェースを実装する。
func (e *RemoteFetchError) Error() string {
	switch e.Kind {
	case FetchErrorStatus:
		return fmt.Sprintf("user service %s: %s %s: status %d", e.Op, e.Kind, e.URL, e.StatusCode)
	default:
		return fmt.Sprintf("user service %s: %s %s: %v", e.Op, e.Kind, e.URL, e.Err)
	}
}

// Unwrap は原因となったエラーを返す。
func (e *RemoteFetchError) Unwrap() error {
	return e.Err
}

// Timeout は期限切れによる通信失敗かどうかを返す。
func (e *RemoteFetchError) Timeout() bool {
	if e.Kind != FetchErrorTransport {
		return false
	}
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(e.Err, &te) && te.Timeout()
}

// AsRemoteFetchError はerrからRemoteFetchErrorを取り出す。
func AsRemoteFetchError(err error) (*RemoteFetchError, bool) {
	var fe *RemoteFetchError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
