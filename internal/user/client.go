// Package user は外部ユーザーサービス（jsonplaceholder互換）の読み取り専用クライアントを提供する。
package user

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/runnerz/internal/model"
)

const (
	// DefaultBaseURL はユーザーサービスのデフォルトのベースURL。
	DefaultBaseURL = "https://jsonplaceholder.typicode.com"
	// maxResponseBytes はレスポンスボディの読み取り上限。
	maxResponseBytes = 1 << 20
	userAgent        = "runnerz/1.0"
)

// FetchRecorder は取得結果を記録するインターフェース。
// metrics.Collectorが実装する。
type FetchRecorder interface {
	RecordUserFetch(result string)
	RecordUserFetchLatency(duration time.Duration)
}

// Client はユーザーサービスのクライアント。
// リトライは行わず、1回の呼び出しにつき1回だけリクエストする。
// タイムアウトはhttpClient.Timeoutと呼び出し側のcontextで制御する。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	recorder   FetchRecorder
}

// NewClient はClientの新しいインスタンスを生成する。
// baseURLが空の場合はDefaultBaseURLを使用する。
func NewClient(httpClient *http.Client, logger *slog.Logger, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// WithRecorder は取得結果の記録先を設定したClientを返す。
func (c *Client) WithRecorder(r FetchRecorder) *Client {
	c.recorder = r
	return c
}

// FindAll は全ユーザーのプロフィールを取得する。
// GET {baseURL}/users
func (c *Client) FindAll(ctx context.Context) ([]*model.UserProfile, error) {
	var profiles []*model.UserProfile
	if err := c.get(ctx, "FindAll", c.baseURL+"/users", &profiles); err != nil {
		return nil, err
	}
	for i, p := range profiles {
		if p == nil || p.ID == 0 {
			return nil, c.fail(&RemoteFetchError{
				Kind: FetchErrorDecode,
				Op:   "FindAll",
				URL:  c.baseURL + "/users",
				Err:  fmt.Errorf("element %d has no id", i),
			})
		}
	}
	if profiles == nil {
		profiles = []*model.UserProfile{}
	}
	c.record("ok")
	return profiles, nil
}

// FindByID は指定IDのユーザープロフィールを取得する。
// GET {baseURL}/users/{id}
func (c *Client) FindByID(ctx context.Context, id int) (*model.UserProfile, error) {
	reqURL := c.baseURL + "/users/" + strconv.Itoa(id)

	var profile model.UserProfile
	if err := c.get(ctx, "FindByID", reqURL, &profile); err != nil {
		return nil, err
	}
	if profile.ID == 0 {
		return nil, c.fail(&RemoteFetchError{
			Kind: FetchErrorDecode,
			Op:   "FindByID",
			URL:  reqURL,
			Err:  errors.New("response has no id"),
		})
	}
	c.record("ok")
	return &profile, nil
}

// get はGETリクエストを1回送信し、2xxのレスポンスボディをoutにデコードする。
// 失敗時はoutの内容を使用してはならない。
func (c *Client) get(ctx context.Context, op, reqURL string, out any) error {
	start := time.Now()
	defer func() {
		if c.recorder != nil {
			c.recorder.RecordUserFetchLatency(time.Since(start))
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return c.fail(&RemoteFetchError{Kind: FetchErrorTransport, Op: op, URL: reqURL, Err: err})
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.fail(&RemoteFetchError{Kind: FetchErrorTransport, Op: op, URL: reqURL, Err: err})
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// 接続を再利用できるようにボディを読み捨てる
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return c.fail(&RemoteFetchError{
			Kind:       FetchErrorStatus,
			Op:         op,
			URL:        reqURL,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %d", resp.StatusCode),
		})
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return c.fail(&RemoteFetchError{Kind: FetchErrorDecode, Op: op, URL: reqURL, Err: err})
	}
	if len(body) > maxResponseBytes {
		return c.fail(&RemoteFetchError{
			Kind: FetchErrorDecode,
			Op:   op,
			URL:  reqURL,
			Err:  fmt.Errorf("response body exceeds %d bytes", maxResponseBytes),
		})
	}

	if err := json.Unmarshal(body, out); err != nil {
		return c.fail(&RemoteFetchError{Kind: FetchErrorDecode, Op: op, URL: reqURL, Err: err})
	}
	return nil
}

// fail はエラーをログと記録先に出力して返す。
func (c *Client) fail(e *RemoteFetchError) error {
	attrs := []any{
		slog.String("op", e.Op),
		slog.String("kind", string(e.Kind)),
		slog.String("url", e.URL),
	}
	if e.Kind == FetchErrorStatus {
		attrs = append(attrs, slog.Int("http_status", e.StatusCode))
	} else if e.Err != nil {
		attrs = append(attrs, slog.String("error", e.Err.Error()))
	}
	c.logger.Error("ユーザーサービスの呼び出しに失敗しました", attrs...)

	c.record(string(e.Kind))
	return e
}

func (c *Client) record(result string) {
	if c.recorder != nil {
		c.recorder.RecordUserFetch(result)
	}
}
