package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/hitoshi/runnerz/internal/model"
)

// InMemoryRunRepo はメモリ上にランを保持するリポジトリ。
// 全操作をミューテックスで直列化し、バージョン比較と書き込みを同一ロック内で行う。
// 呼び出し側とは常にコピーを受け渡す。
type InMemoryRunRepo struct {
	mu    sync.RWMutex
	runs  map[int]*model.Run
	order []int // 登録順のID
}

// NewInMemoryRunRepo は空のInMemoryRunRepoを生成する。
func NewInMemoryRunRepo() *InMemoryRunRepo {
	return &InMemoryRunRepo{
		runs: make(map[int]*model.Run),
	}
}

// FindAll は全ランを登録順に返す。
func (r *InMemoryRunRepo) FindAll(ctx context.Context) ([]*model.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	runs := make([]*model.Run, 0, len(r.order))
	for _, id := range r.order {
		runs = append(runs, r.runs[id].Clone())
	}
	return runs, nil
}

// FindByID は指定IDのランを取得する。
func (r *InMemoryRunRepo) FindByID(ctx context.Context, id int) (*model.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.runs[id]
	if !ok {
		return nil, model.ErrRunNotFound
	}
	return run.Clone(), nil
}

// FindByLocation は指定場所のランを登録順に返す。
func (r *InMemoryRunRepo) FindByLocation(ctx context.Context, location model.Location) ([]*model.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	runs := []*model.Run{}
	for _, id := range r.order {
		if run := r.runs[id]; run.Location == location {
			runs = append(runs, run.Clone())
		}
	}
	return runs, nil
}

// Count は保存済みのラン件数を返す。
func (r *InMemoryRunRepo) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.runs), nil
}

// Create はランをバージョン0で作成する。
func (r *InMemoryRunRepo) Create(ctx context.Context, run *model.Run) error {
	if err := run.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.runs[run.ID]; ok {
		return model.ErrRunConflict
	}

	stored := run.Clone()
	stored.Version = model.InitialVersion
	r.runs[run.ID] = stored
	r.order = append(r.order, run.ID)

	run.Version = model.InitialVersion
	return nil
}

// Update はバージョンが一致する場合のみランを更新する。
func (r *InMemoryRunRepo) Update(ctx context.Context, run *model.Run, id int) error {
	if err := run.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.runs[id]
	if !ok {
		return model.ErrRunNotFound
	}
	if current.Version != run.Version {
		return model.ErrOptimisticLock
	}

	updated := run.Clone()
	updated.ID = id
	updated.Version = current.Version + 1
	r.runs[id] = updated

	run.ID = id
	run.Version = updated.Version
	return nil
}

// Delete は指定IDのランを削除する。
func (r *InMemoryRunRepo) Delete(ctx context.Context, id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.runs[id]; !ok {
		return model.ErrRunNotFound
	}

	// mapと順序スライスの両方にある場合のみ削除する
	idx := -1
	for i, v := range r.order {
		if v == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return expectOneRow("delete", id, 0)
	}

	delete(r.runs, id)
	r.order = append(r.order[:idx], r.order[idx+1:]...)
	return nil
}

// SaveAll はランを順番に作成する。途中で失敗してもそれまでの作成は取り消さない。
func (r *InMemoryRunRepo) SaveAll(ctx context.Context, runs []*model.Run) error {
	for i, run := range runs {
		if err := r.Create(ctx, run); err != nil {
			return fmt.Errorf("%d件目のラン(id=%d)の保存に失敗しました: %w", i+1, run.ID, err)
		}
	}
	return nil
}

// compile-time interface check
var _ RunRepository = (*InMemoryRunRepo)(nil)
