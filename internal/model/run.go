// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Location はランの実施場所を表す。
type Location string

const (
	// LocationIndoor は屋内（トレッドミル等）。
	LocationIndoor Location = "INDOOR"
	// LocationOutdoor は屋外。
	LocationOutdoor Location = "OUTDOOR"
)

// ParseLocation は文字列をLocationに変換する。大文字小文字は区別しない。
func ParseLocation(s string) (Location, error) {
	switch Location(strings.ToUpper(strings.TrimSpace(s))) {
	case LocationIndoor:
		return LocationIndoor, nil
	case LocationOutdoor:
		return LocationOutdoor, nil
	default:
		return "", fmt.Errorf("unknown location: %q", s)
	}
}

// Valid はLocationが定義済みの値かどうかを返す。
func (l Location) Valid() bool {
	return l == LocationIndoor || l == LocationOutdoor
}

// InitialVersion は作成直後のランのバージョン。
const InitialVersion = 0

// MaxTitleLength はタイトルの最大文字数（rune数）。run.titleカラムの長さと一致させる。
const MaxTitleLength = 250

// Run は1回分のランニング記録を表す。
// Versionは楽観ロック用のカウンタで、ストアが更新のたびに1ずつ増やす。
type Run struct {
	ID          int
	Title       string
	StartedOn   time.Time
	CompletedOn time.Time
	Kilometers  int
	Location    Location
	Version     int
}

// NewRun は入力値を検証してRunを生成する。
// 検証に失敗した場合は副作用なしに*InvalidRecordErrorを返す。
func NewRun(id int, title string, startedOn, completedOn time.Time, kilometers int, location Location) (*Run, error) {
	r := &Run{
		ID:          id,
		Title:       title,
		StartedOn:   startedOn,
		CompletedOn: completedOn,
		Kilometers:  kilometers,
		Location:    location,
		Version:     InitialVersion,
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate はランの構造的な不変条件を検証する。
// 最初に違反したルールを*InvalidRecordErrorとして返す。
func (r *Run) Validate() error {
	switch {
	case r.ID <= 0:
		return &InvalidRecordError{Field: "id", Reason: "must be positive"}
	case strings.TrimSpace(r.Title) == "":
		return &InvalidRecordError{Field: "title", Reason: "must not be empty"}
	case utf8.RuneCountInString(r.Title) > MaxTitleLength:
		return &InvalidRecordError{Field: "title", Reason: fmt.Sprintf("must be at most %d characters", MaxTitleLength)}
	case r.Kilometers <= 0:
		return &InvalidRecordError{Field: "kilometers", Reason: "must be positive"}
	case !r.CompletedOn.After(r.StartedOn):
		return &InvalidRecordError{Field: "completedOn", Reason: "run must be completed after it has started"}
	case !r.Location.Valid():
		return &InvalidRecordError{Field: "location", Reason: fmt.Sprintf("must be %s or %s", LocationIndoor, LocationOutdoor)}
	}
	return nil
}

// Clone はランのコピーを返す。
func (r *Run) Clone() *Run {
	c := *r
	return &c
}

// timestampLayout はタイムスタンプの出力形式（タイムゾーンなし、UTCとして扱う）。
const timestampLayout = "2006-01-02T15:04:05"

// timestampInputLayouts は受け付けるタイムスタンプ形式。
var timestampInputLayouts = []string{
	time.RFC3339Nano,
	timestampLayout,
	"2006-01-02T15:04",
}

// ParseTimestamp はRFC3339またはタイムゾーンなしの日時文字列をUTC時刻に変換する。
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampInputLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp: %q", s)
}

// FormatTimestamp は時刻をタイムゾーンなしの形式（UTC）で文字列化する。
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}
