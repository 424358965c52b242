package repository

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/runnerz/internal/model"
)

// newTestRun はテスト用の有効なランを生成する。
func newTestRun(t *testing.T, id int, title string, location model.Location) *model.Run {
	t.Helper()
	start := time.Date(2024, 2, 20, 6, 0, 0, 0, time.UTC).Add(time.Duration(id) * time.Hour)
	run, err := model.NewRun(id, title, start, start.Add(45*time.Minute), 5+id, location)
	if err != nil {
		t.Fatalf("テスト用ランの生成に失敗: %v", err)
	}
	return run
}

// runRepositoryContract はRunRepositoryの全実装が満たすべき振る舞いを検証する。
// newRepo は空のリポジトリを返す必要がある。
func runRepositoryContract(t *testing.T, newRepo func(t *testing.T) RunRepository) {
	ctx := context.Background()

	t.Run("作成後にIDで取得すると初期バージョンで一致する", func(t *testing.T) {
		repo := newRepo(t)
		run := newTestRun(t, 1, "Morning Run", model.LocationOutdoor)

		if err := repo.Create(ctx, run); err != nil {
			t.Fatalf("Create がエラーを返した: %v", err)
		}

		got, err := repo.FindByID(ctx, 1)
		if err != nil {
			t.Fatalf("FindByID がエラーを返した: %v", err)
		}
		if got.Title != run.Title || got.Kilometers != run.Kilometers || got.Location != run.Location {
			t.Errorf("取得結果が一致しない: got %+v, want %+v", got, run)
		}
		if !got.StartedOn.Equal(run.StartedOn) || !got.CompletedOn.Equal(run.CompletedOn) {
			t.Errorf("日時が一致しない: got %v-%v, want %v-%v", got.StartedOn, got.CompletedOn, run.StartedOn, run.CompletedOn)
		}
		if got.Version != model.InitialVersion {
			t.Errorf("Version = %d, want %d", got.Version, model.InitialVersion)
		}
	})

	t.Run("存在しないIDはErrRunNotFound", func(t *testing.T) {
		repo := newRepo(t)
		got, err := repo.FindByID(ctx, 99)
		if !errors.Is(err, model.ErrRunNotFound) {
			t.Fatalf("err = %v, want ErrRunNotFound", err)
		}
		if got != nil {
			t.Errorf("未検出時は nil を返すべき: %+v", got)
		}
	})

	t.Run("ID重複はErrRunConflict", func(t *testing.T) {
		repo := newRepo(t)
		if err := repo.Create(ctx, newTestRun(t, 1, "First", model.LocationIndoor)); err != nil {
			t.Fatalf("Create がエラーを返した: %v", err)
		}
		err := repo.Create(ctx, newTestRun(t, 1, "Duplicate", model.LocationIndoor))
		if !errors.Is(err, model.ErrRunConflict) {
			t.Fatalf("err = %v, want ErrRunConflict", err)
		}

		got, _ := repo.FindByID(ctx, 1)
		if got.Title != "First" {
			t.Errorf("重複作成で既存レコードが変更された: %q", got.Title)
		}
	})

	t.Run("不正なランは作成されない", func(t *testing.T) {
		repo := newRepo(t)
		run := newTestRun(t, 1, "Run", model.LocationIndoor)
		run.Kilometers = 0

		if err := repo.Create(ctx, run); !errors.Is(err, model.ErrInvalidRecord) {
			t.Fatalf("err = %v, want ErrInvalidRecord", err)
		}
		if n, _ := repo.Count(ctx); n != 0 {
			t.Errorf("Count = %d, want 0", n)
		}
	})

	t.Run("タイトルの長さ上限はどちらのストアでも同じ", func(t *testing.T) {
		repo := newRepo(t)

		longest := newTestRun(t, 1, "Run", model.LocationIndoor)
		longest.Title = strings.Repeat("走", model.MaxTitleLength)
		if err := repo.Create(ctx, longest); err != nil {
			t.Fatalf("上限ちょうどのタイトルで Create がエラーを返した: %v", err)
		}

		tooLong := newTestRun(t, 2, "Run", model.LocationIndoor)
		tooLong.Title = strings.Repeat("a", model.MaxTitleLength+1)
		if err := repo.Create(ctx, tooLong); !errors.Is(err, model.ErrInvalidRecord) {
			t.Fatalf("Create err = %v, want ErrInvalidRecord", err)
		}

		longest.Title = longest.Title + "る"
		if err := repo.Update(ctx, longest, 1); !errors.Is(err, model.ErrInvalidRecord) {
			t.Fatalf("Update err = %v, want ErrInvalidRecord", err)
		}
		got, _ := repo.FindByID(ctx, 1)
		if got.Version != model.InitialVersion || got.Title != strings.Repeat("走", model.MaxTitleLength) {
			t.Errorf("不正な更新で保存済みレコードが変更された: version=%d", got.Version)
		}
		if n, _ := repo.Count(ctx); n != 1 {
			t.Errorf("Count = %d, want 1", n)
		}
	})

	t.Run("更新でバージョンが1増える", func(t *testing.T) {
		repo := newRepo(t)
		run := newTestRun(t, 1, "Morning Run", model.LocationOutdoor)
		if err := repo.Create(ctx, run); err != nil {
			t.Fatalf("Create がエラーを返した: %v", err)
		}

		run.Title = "Monday Morning Run"
		run.Kilometers = 7
		if err := repo.Update(ctx, run, 1); err != nil {
			t.Fatalf("Update がエラーを返した: %v", err)
		}
		if run.Version != 1 {
			t.Errorf("呼び出し側の Version = %d, want 1", run.Version)
		}

		got, _ := repo.FindByID(ctx, 1)
		if got.Title != "Monday Morning Run" || got.Kilometers != 7 {
			t.Errorf("更新内容が反映されていない: %+v", got)
		}
		if got.Version != 1 {
			t.Errorf("保存済みの Version = %d, want 1", got.Version)
		}
	})

	t.Run("古いバージョンでの更新はErrOptimisticLockで内容は変わらない", func(t *testing.T) {
		repo := newRepo(t)
		if err := repo.Create(ctx, newTestRun(t, 1, "Original", model.LocationOutdoor)); err != nil {
			t.Fatalf("Create がエラーを返した: %v", err)
		}

		first, _ := repo.FindByID(ctx, 1)
		stale := first.Clone()

		first.Title = "First Update"
		if err := repo.Update(ctx, first, 1); err != nil {
			t.Fatalf("1回目の Update がエラーを返した: %v", err)
		}

		stale.Title = "Stale Update"
		err := repo.Update(ctx, stale, 1)
		if !errors.Is(err, model.ErrOptimisticLock) {
			t.Fatalf("err = %v, want ErrOptimisticLock", err)
		}
		if stale.Version != model.InitialVersion {
			t.Errorf("失敗時に呼び出し側の Version が変わった: %d", stale.Version)
		}

		got, _ := repo.FindByID(ctx, 1)
		if got.Title != "First Update" {
			t.Errorf("Title = %q, want %q", got.Title, "First Update")
		}
		if got.Version != 1 {
			t.Errorf("Version = %d, want 1", got.Version)
		}
	})

	t.Run("存在しないIDの更新はErrRunNotFound", func(t *testing.T) {
		repo := newRepo(t)
		err := repo.Update(ctx, newTestRun(t, 5, "Ghost", model.LocationIndoor), 5)
		if !errors.Is(err, model.ErrRunNotFound) {
			t.Fatalf("err = %v, want ErrRunNotFound", err)
		}
	})

	t.Run("同一バージョンでの同時更新は1件だけ成功する", func(t *testing.T) {
		repo := newRepo(t)
		if err := repo.Create(ctx, newTestRun(t, 1, "Contended", model.LocationOutdoor)); err != nil {
			t.Fatalf("Create がエラーを返した: %v", err)
		}
		base, _ := repo.FindByID(ctx, 1)

		const workers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
			conflicts int
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				run := base.Clone()
				run.Kilometers = 10 + i
				err := repo.Update(ctx, run, 1)

				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					succeeded++
				case errors.Is(err, model.ErrOptimisticLock):
					conflicts++
				default:
					t.Errorf("想定外のエラー: %v", err)
				}
			}(i)
		}
		wg.Wait()

		if succeeded != 1 {
			t.Errorf("成功数 = %d, want 1", succeeded)
		}
		if conflicts != workers-1 {
			t.Errorf("競合数 = %d, want %d", conflicts, workers-1)
		}
		got, _ := repo.FindByID(ctx, 1)
		if got.Version != 1 {
			t.Errorf("Version = %d, want 1", got.Version)
		}
	})

	t.Run("削除後は取得できない", func(t *testing.T) {
		repo := newRepo(t)
		if err := repo.Create(ctx, newTestRun(t, 1, "A", model.LocationIndoor)); err != nil {
			t.Fatalf("Create がエラーを返した: %v", err)
		}
		if err := repo.Create(ctx, newTestRun(t, 2, "B", model.LocationIndoor)); err != nil {
			t.Fatalf("Create がエラーを返した: %v", err)
		}

		if err := repo.Delete(ctx, 1); err != nil {
			t.Fatalf("Delete がエラーを返した: %v", err)
		}
		if _, err := repo.FindByID(ctx, 1); !errors.Is(err, model.ErrRunNotFound) {
			t.Errorf("err = %v, want ErrRunNotFound", err)
		}
		all, _ := repo.FindAll(ctx)
		if len(all) != 1 || all[0].ID != 2 {
			t.Errorf("FindAll = %+v, want [id=2]", all)
		}
	})

	t.Run("存在しないIDの削除はErrRunNotFoundで一覧は変わらない", func(t *testing.T) {
		repo := newRepo(t)
		if err := repo.Create(ctx, newTestRun(t, 1, "A", model.LocationIndoor)); err != nil {
			t.Fatalf("Create がエラーを返した: %v", err)
		}

		if err := repo.Delete(ctx, 42); !errors.Is(err, model.ErrRunNotFound) {
			t.Fatalf("err = %v, want ErrRunNotFound", err)
		}
		all, _ := repo.FindAll(ctx)
		if len(all) != 1 {
			t.Errorf("len(FindAll) = %d, want 1", len(all))
		}
	})

	t.Run("FindAllとFindByLocationは登録順", func(t *testing.T) {
		repo := newRepo(t)
		runs := []*model.Run{
			newTestRun(t, 3, "C", model.LocationOutdoor),
			newTestRun(t, 1, "A", model.LocationIndoor),
			newTestRun(t, 4, "D", model.LocationOutdoor),
			newTestRun(t, 2, "B", model.LocationIndoor),
			newTestRun(t, 5, "E", model.LocationOutdoor),
		}
		if err := repo.SaveAll(ctx, runs); err != nil {
			t.Fatalf("SaveAll がエラーを返した: %v", err)
		}

		all, _ := repo.FindAll(ctx)
		assertRunIDs(t, all, []int{3, 1, 4, 2, 5})

		outdoor, err := repo.FindByLocation(ctx, model.LocationOutdoor)
		if err != nil {
			t.Fatalf("FindByLocation がエラーを返した: %v", err)
		}
		assertRunIDs(t, outdoor, []int{3, 4, 5})
		for _, r := range outdoor {
			if r.Location != model.LocationOutdoor {
				t.Errorf("OUTDOOR 以外が含まれている: %+v", r)
			}
		}
	})

	t.Run("SaveAllは途中で失敗してもそれまでの作成を残す", func(t *testing.T) {
		repo := newRepo(t)
		runs := []*model.Run{
			newTestRun(t, 1, "A", model.LocationIndoor),
			newTestRun(t, 2, "B", model.LocationIndoor),
			newTestRun(t, 1, "A again", model.LocationIndoor),
			newTestRun(t, 3, "C", model.LocationIndoor),
		}

		err := repo.SaveAll(ctx, runs)
		if !errors.Is(err, model.ErrRunConflict) {
			t.Fatalf("err = %v, want ErrRunConflict", err)
		}
		if n, _ := repo.Count(ctx); n != 2 {
			t.Errorf("Count = %d, want 2", n)
		}
	})

	t.Run("取得結果を変更しても保存済みの値は変わらない", func(t *testing.T) {
		repo := newRepo(t)
		if err := repo.Create(ctx, newTestRun(t, 1, "A", model.LocationIndoor)); err != nil {
			t.Fatalf("Create がエラーを返した: %v", err)
		}
		got, _ := repo.FindByID(ctx, 1)
		got.Title = "mutated"

		again, _ := repo.FindByID(ctx, 1)
		if again.Title != "A" {
			t.Errorf("Title = %q, want %q", again.Title, "A")
		}
	})
}

func assertRunIDs(t *testing.T, runs []*model.Run, want []int) {
	t.Helper()
	if len(runs) != len(want) {
		t.Fatalf("件数 = %d, want %d", len(runs), len(want))
	}
	for i, r := range runs {
		if r.ID != want[i] {
			t.Errorf("runs[%d].ID = %d, want %d", i, r.ID, want[i])
		}
	}
}
