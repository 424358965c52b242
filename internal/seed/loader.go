// Package seed は起動時にランの初期データを投入する。
// ストアが空の場合にのみ同梱データセットを保存するため、再起動しても重複しない。
package seed

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/hitoshi/runnerz/internal/model"
)

//go:embed data/runs.json
var dataFS embed.FS

const embeddedPath = "data/runs.json"

// Store はシード投入に必要なストア操作のインターフェース。
// repository.RunRepositoryの部分集合として定義する。
type Store interface {
	Count(ctx context.Context) (int, error)
	SaveAll(ctx context.Context, runs []*model.Run) error
}

// Source はデータセットの読み込み元。
type Source interface {
	// Name はログ出力用の読み込み元名を返す。
	Name() string
	// Read はデータセットのJSONを返す。
	Read() ([]byte, error)
}

type embeddedSource struct{}

// EmbeddedSource はバイナリに同梱されたデータセットを返す。
func EmbeddedSource() Source { return embeddedSource{} }

func (embeddedSource) Name() string { return "embedded:" + embeddedPath }

func (embeddedSource) Read() ([]byte, error) { return dataFS.ReadFile(embeddedPath) }

type fileSource struct {
	path string
}

// FileSource はファイルパスからデータセットを読み込むSourceを返す。
func FileSource(path string) Source { return fileSource{path: path} }

func (s fileSource) Name() string { return s.path }

func (s fileSource) Read() ([]byte, error) { return os.ReadFile(s.path) }

// dataset はデータセットファイルの形式。
type dataset struct {
	Runs []seedRun `json:"runs"`
}

type seedRun struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	StartedOn   string `json:"startedOn"`
	CompletedOn string `json:"completedOn"`
	Kilometers  int    `json:"kilometers"`
	Location    string `json:"location"`
}

// Loader はストアが空の場合に初期データを投入する。
type Loader struct {
	store  Store
	source Source
	logger *slog.Logger
}

// NewLoader はLoaderを生成する。
func NewLoader(store Store, source Source, logger *slog.Logger) *Loader {
	return &Loader{
		store:  store,
		source: source,
		logger: logger,
	}
}

// Load はストアの件数が0の場合のみデータセットを読み込んで保存し、投入件数を返す。
// データセットの読み込み・解析の失敗は設定やパッケージングの不備であり、そのままエラーを返す。
// 保存中の失敗はSaveAllの仕様どおり、それまでの保存を残したままエラーを返す。
func (l *Loader) Load(ctx context.Context) (int, error) {
	count, err := l.store.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("ラン件数の取得に失敗しました: %w", err)
	}
	if count > 0 {
		l.logger.Info("既存データがあるため初期データの投入をスキップしました",
			slog.Int("existing_runs", count),
		)
		return 0, nil
	}

	runs, err := l.readRuns()
	if err != nil {
		return 0, err
	}

	l.logger.Info("初期データを投入します",
		slog.Int("runs", len(runs)),
		slog.String("source", l.source.Name()),
	)

	if err := l.store.SaveAll(ctx, runs); err != nil {
		return 0, fmt.Errorf("初期データの保存に失敗しました: %w", err)
	}

	return len(runs), nil
}

// readRuns はデータセットを読み込み、全件を検証済みのRunに変換する。
func (l *Loader) readRuns() ([]*model.Run, error) {
	data, err := l.source.Read()
	if err != nil {
		return nil, fmt.Errorf("初期データ %s の読み込みに失敗しました: %w", l.source.Name(), err)
	}

	var ds dataset
	if err := json.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("初期データ %s の解析に失敗しました: %w", l.source.Name(), err)
	}

	runs := make([]*model.Run, 0, len(ds.Runs))
	for i, sr := range ds.Runs {
		run, err := sr.toRun()
		if err != nil {
			return nil, fmt.Errorf("初期データ %s の%d件目が不正です: %w", l.source.Name(), i+1, err)
		}
		runs = append(runs, run)
	}
	return runs, nil
}

func (sr seedRun) toRun() (*model.Run, error) {
	startedOn, err := model.ParseTimestamp(sr.StartedOn)
	if err != nil {
		return nil, err
	}
	completedOn, err := model.ParseTimestamp(sr.CompletedOn)
	if err != nil {
		return nil, err
	}
	return model.NewRun(sr.ID, sr.Title, startedOn, completedOn, sr.Kilometers, model.Location(sr.Location))
}
