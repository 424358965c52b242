// Package repository はデータ永続化のインターフェースと実装を提供する。
package repository

import (
	"context"
	"database/sql"

	"github.com/hitoshi/runnerz/internal/model"
)

// RunRepository はランデータの永続化インターフェース。
// バージョンによる楽観ロックが唯一の同時実行制御であり、呼び出しをまたいでロックは保持しない。
type RunRepository interface {
	// FindAll は全ランを登録順に返す。
	FindAll(ctx context.Context) ([]*model.Run, error)

	// FindByID は指定IDのランを取得する。見つからない場合はmodel.ErrRunNotFoundを返す。
	FindByID(ctx context.Context, id int) (*model.Run, error)

	// FindByLocation は指定場所のランを登録順に返す。
	FindByLocation(ctx context.Context, location model.Location) ([]*model.Run, error)

	// Count は保存済みのラン件数を返す。
	Count(ctx context.Context) (int, error)

	// Create はランをバージョン0で作成する。
	// 同じIDが存在する場合はmodel.ErrRunConflictを返す。
	Create(ctx context.Context, run *model.Run) error

	// Update はrun.Versionが保存済みのバージョンと一致する場合のみ全項目を置き換え、バージョンを1増やす。
	// 不一致の場合はmodel.ErrOptimisticLock、IDが存在しない場合はmodel.ErrRunNotFoundを返す。
	// 成功時はrun.Versionに新しいバージョンを設定する。
	Update(ctx context.Context, run *model.Run, id int) error

	// Delete は指定IDのランを削除する。見つからない場合はmodel.ErrRunNotFoundを返す。
	Delete(ctx context.Context, id int) error

	// SaveAll はランを順番に作成する。全体としてはアトミックではなく、
	// 途中で失敗した場合もそれまでに作成したランは残る。
	SaveAll(ctx context.Context, runs []*model.Run) error
}

// DBTX は*sql.DBと*sql.Txの共通部分を抽象化するインターフェース。
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// expectOneRow は影響行数が1であることを検証する。
func expectOneRow(op string, id int, affected int64) error {
	if affected != 1 {
		return &model.StorageInvariantError{Op: op, ID: id, Affected: affected}
	}
	return nil
}
