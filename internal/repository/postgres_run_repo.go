package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/runnerz/internal/model"
)

const runColumns = `id, title, started_on, completed_on, kilometers, location, version`

// PostgresRunRepo はPostgreSQLを使用したランリポジトリ。
type PostgresRunRepo struct {
	db DBTX
}

// NewPostgresRunRepo はPostgresRunRepoを生成する。
func NewPostgresRunRepo(db DBTX) *PostgresRunRepo {
	return &PostgresRunRepo{db: db}
}

// FindAll は全ランを登録順に返す。
func (r *PostgresRunRepo) FindAll(ctx context.Context) ([]*model.Run, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM run ORDER BY seq`,
	)
	if err != nil {
		return nil, fmt.Errorf("ラン一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return scanRuns(rows)
}

// FindByID は指定IDのランを取得する。見つからない場合はmodel.ErrRunNotFoundを返す。
func (r *PostgresRunRepo) FindByID(ctx context.Context, id int) (*model.Run, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM run WHERE id = $1`,
		id,
	)

	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, model.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ランの取得に失敗しました: %w", err)
	}
	return run, nil
}

// FindByLocation は指定場所のランを登録順に返す。
func (r *PostgresRunRepo) FindByLocation(ctx context.Context, location model.Location) ([]*model.Run, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM run WHERE location = $1 ORDER BY seq`,
		string(location),
	)
	if err != nil {
		return nil, fmt.Errorf("場所によるランの検索に失敗しました: %w", err)
	}
	defer rows.Close()

	return scanRuns(rows)
}

// Count は保存済みのラン件数を返す。
func (r *PostgresRunRepo) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM run`).Scan(&count); err != nil {
		return 0, fmt.Errorf("ラン件数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// Create はランをバージョン0で作成する。
// ID重複はON CONFLICT DO NOTHINGの影響行数0で検出する。
func (r *PostgresRunRepo) Create(ctx context.Context, run *model.Run) error {
	if err := run.Validate(); err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO run (id, title, started_on, completed_on, kilometers, location, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO NOTHING`,
		run.ID, run.Title, run.StartedOn.UTC(), run.CompletedOn.UTC(),
		run.Kilometers, string(run.Location), model.InitialVersion,
	)
	if err != nil {
		return fmt.Errorf("ランの作成に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("作成件数の取得に失敗しました: %w", err)
	}
	if affected == 0 {
		return model.ErrRunConflict
	}
	if err := expectOneRow("create", run.ID, affected); err != nil {
		return err
	}

	run.Version = model.InitialVersion
	return nil
}

// Update はバージョンが一致する場合のみランを更新する。
// 比較とインクリメントは単一のUPDATE文で行う。
func (r *PostgresRunRepo) Update(ctx context.Context, run *model.Run, id int) error {
	if err := run.Validate(); err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE run SET
		    title = $1, started_on = $2, completed_on = $3,
		    kilometers = $4, location = $5, version = version + 1
		 WHERE id = $6 AND version = $7`,
		run.Title, run.StartedOn.UTC(), run.CompletedOn.UTC(),
		run.Kilometers, string(run.Location), id, run.Version,
	)
	if err != nil {
		return fmt.Errorf("ランの更新に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	if affected == 0 {
		// 更新されなかった理由（未存在かバージョン不一致か）を判別する
		exists, err := r.exists(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			return model.ErrRunNotFound
		}
		return model.ErrOptimisticLock
	}
	if err := expectOneRow("update", id, affected); err != nil {
		return err
	}

	run.ID = id
	run.Version++
	return nil
}

// Delete は指定IDのランを削除する。
func (r *PostgresRunRepo) Delete(ctx context.Context, id int) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM run WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ランの削除に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	if affected == 0 {
		return model.ErrRunNotFound
	}
	return expectOneRow("delete", id, affected)
}

// SaveAll はランを順番に作成する。トランザクションは使用しない。
func (r *PostgresRunRepo) SaveAll(ctx context.Context, runs []*model.Run) error {
	for i, run := range runs {
		if err := r.Create(ctx, run); err != nil {
			return fmt.Errorf("%d件目のラン(id=%d)の保存に失敗しました: %w", i+1, run.ID, err)
		}
	}
	return nil
}

func (r *PostgresRunRepo) exists(ctx context.Context, id int) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM run WHERE id = $1)`,
		id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ランの存在確認に失敗しました: %w", err)
	}
	return exists, nil
}

// scanner は*sql.Rowと*sql.Rowsの共通部分。
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*model.Run, error) {
	run := &model.Run{}
	var location string
	if err := s.Scan(
		&run.ID, &run.Title, &run.StartedOn, &run.CompletedOn,
		&run.Kilometers, &location, &run.Version,
	); err != nil {
		return nil, err
	}
	run.Location = model.Location(location)
	run.StartedOn = run.StartedOn.UTC()
	run.CompletedOn = run.CompletedOn.UTC()
	return run, nil
}

func scanRuns(rows *sql.Rows) ([]*model.Run, error) {
	runs := []*model.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("ランの読み取りに失敗しました: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ラン一覧の読み取り中にエラーが発生しました: %w", err)
	}
	return runs, nil
}

// compile-time interface check
var _ RunRepository = (*PostgresRunRepo)(nil)
