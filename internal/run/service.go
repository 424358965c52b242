// Package run はランのCRUDを提供するアプリケーションサービス層。
// ストアの結果をAPIエラーに変換し、タイトルをサニタイズする。
package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/runnerz/internal/model"
	"github.com/hitoshi/runnerz/internal/repository"
	"github.com/hitoshi/runnerz/internal/security"
)

// StoreRecorder はストア操作の結果を記録するインターフェース。
// metrics.Collectorが実装する。
type StoreRecorder interface {
	RecordStoreOperation(op string, result string)
	RecordStoreLatency(op string, duration time.Duration)
}

// Service はランのサービス層。
// 状態を持たず、並行に呼び出してよい。
type Service struct {
	repo      repository.RunRepository
	sanitizer security.TitleSanitizerService
	logger    *slog.Logger
	recorder  StoreRecorder
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	repo repository.RunRepository,
	sanitizer security.TitleSanitizerService,
	logger *slog.Logger,
) *Service {
	return &Service{
		repo:      repo,
		sanitizer: sanitizer,
		logger:    logger,
	}
}

// WithRecorder はストア操作の記録先を設定したServiceを返す。
func (s *Service) WithRecorder(r StoreRecorder) *Service {
	s.recorder = r
	return s
}

// List は全ランを登録順に返す。
func (s *Service) List(ctx context.Context) ([]*model.Run, error) {
	start := time.Now()
	runs, err := s.repo.FindAll(ctx)
	s.observe("find_all", start, err)
	if err != nil {
		return nil, fmt.Errorf("ラン一覧の取得に失敗しました: %w", err)
	}
	return runs, nil
}

// Get は指定IDのランを返す。
func (s *Service) Get(ctx context.Context, id int) (*model.Run, error) {
	start := time.Now()
	found, err := s.repo.FindByID(ctx, id)
	s.observe("find_by_id", start, err)
	if err != nil {
		if errors.Is(err, model.ErrRunNotFound) {
			return nil, model.NewRunNotFoundError(id)
		}
		return nil, fmt.Errorf("ランの取得に失敗しました: %w", err)
	}
	return found, nil
}

// ListByLocation は指定場所のランを返す。場所の大文字小文字は区別しない。
func (s *Service) ListByLocation(ctx context.Context, rawLocation string) ([]*model.Run, error) {
	location, err := model.ParseLocation(rawLocation)
	if err != nil {
		return nil, model.NewInvalidLocationError(rawLocation)
	}

	start := time.Now()
	runs, err := s.repo.FindByLocation(ctx, location)
	s.observe("find_by_location", start, err)
	if err != nil {
		return nil, fmt.Errorf("場所別ラン一覧の取得に失敗しました: %w", err)
	}
	return runs, nil
}

// Create はランを作成し、作成後の状態（バージョン0）を返す。
func (s *Service) Create(ctx context.Context, in *model.Run) (*model.Run, error) {
	in.Title = s.sanitizer.Sanitize(in.Title)

	start := time.Now()
	err := s.repo.Create(ctx, in)
	s.observe("create", start, err)
	if err != nil {
		var invalid *model.InvalidRecordError
		switch {
		case errors.As(err, &invalid):
			return nil, model.NewInvalidRunError(invalid.Field + " " + invalid.Reason)
		case errors.Is(err, model.ErrRunConflict):
			return nil, model.NewRunAlreadyExistsError(in.ID)
		case errors.Is(err, model.ErrStorageInvariant):
			s.logInvariant("create", in.ID, err)
		}
		return nil, fmt.Errorf("ランの作成に失敗しました: %w", err)
	}
	return in, nil
}

// Update はパスのIDを正としてランを更新する。
// in.Versionは呼び出し側が最後に読み取ったバージョンでなければならない。
// ボディのIDが指定されていてパスのIDと異なる場合は検証エラーとする。
func (s *Service) Update(ctx context.Context, id int, in *model.Run) (*model.Run, error) {
	if in.ID != 0 && in.ID != id {
		return nil, model.NewInvalidRunError(fmt.Sprintf("id %d does not match path id %d", in.ID, id))
	}
	in.ID = id
	in.Title = s.sanitizer.Sanitize(in.Title)
	readVersion := in.Version

	start := time.Now()
	err := s.repo.Update(ctx, in, id)
	s.observe("update", start, err)
	if err != nil {
		var invalid *model.InvalidRecordError
		switch {
		case errors.As(err, &invalid):
			return nil, model.NewInvalidRunError(invalid.Field + " " + invalid.Reason)
		case errors.Is(err, model.ErrRunNotFound):
			return nil, model.NewRunNotFoundError(id)
		case errors.Is(err, model.ErrOptimisticLock):
			return nil, model.NewOptimisticLockConflictError(id, readVersion)
		case errors.Is(err, model.ErrStorageInvariant):
			s.logInvariant("update", id, err)
		}
		return nil, fmt.Errorf("ランの更新に失敗しました: %w", err)
	}
	return in, nil
}

// Delete は指定IDのランを削除する。
func (s *Service) Delete(ctx context.Context, id int) error {
	start := time.Now()
	err := s.repo.Delete(ctx, id)
	s.observe("delete", start, err)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrRunNotFound):
			return model.NewRunNotFoundError(id)
		case errors.Is(err, model.ErrStorageInvariant):
			s.logInvariant("delete", id, err)
		}
		return fmt.Errorf("ランの削除に失敗しました: %w", err)
	}
	return nil
}

// logInvariant はストアの不具合を示すエラーを記録する。
func (s *Service) logInvariant(op string, id int, err error) {
	s.logger.Error("ストアの影響行数が想定と異なります",
		slog.String("op", op),
		slog.Int("run_id", id),
		slog.String("error", err.Error()),
	)
}

// observe はストア操作の結果とレイテンシを記録する。
func (s *Service) observe(op string, start time.Time, err error) {
	if s.recorder == nil {
		return
	}
	s.recorder.RecordStoreLatency(op, time.Since(start))
	s.recorder.RecordStoreOperation(op, resultLabel(err))
}

// resultLabel はエラーをメトリクスの結果ラベルに変換する。
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, model.ErrInvalidRecord):
		return "invalid"
	case errors.Is(err, model.ErrRunNotFound):
		return "not_found"
	case errors.Is(err, model.ErrRunConflict):
		return "conflict"
	case errors.Is(err, model.ErrOptimisticLock):
		return "optimistic_lock"
	case errors.Is(err, model.ErrStorageInvariant):
		return "invariant"
	default:
		return "error"
	}
}
