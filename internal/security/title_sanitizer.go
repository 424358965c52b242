// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TitleSanitizer はランのタイトルからマークアップを取り除き、プレーンテキストにする。
// bluemondayのStrictPolicyを使用し、すべてのタグを除去する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TitleSanitizerService はタイトルのサニタイズ機能のインターフェースを定義する。
// ランの作成・更新時、検証の前に使用される。
type TitleSanitizerService interface {
	// Sanitize はタイトルからすべてのタグを除去したプレーンテキストを返す。
	// script, styleタグは中身ごと除去される。
	// 前後の空白は取り除かれる。同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// TitleSanitizer はTitleSanitizerServiceの実装。
// bluemondayのポリシーはスレッドセーフであり、1つのインスタンスを共有できる。
type TitleSanitizer struct {
	policy *bluemonday.Policy
}

// NewTitleSanitizer はTitleSanitizerの新しいインスタンスを生成する。
func NewTitleSanitizer() *TitleSanitizer {
	return &TitleSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// maxSanitizePasses はエンティティの多重エスケープを剥がす回数の上限。
const maxSanitizePasses = 8

// Sanitize はタイトルをサニタイズする。
// StrictPolicyは&や引用符をHTMLエンティティにエスケープするため、アンエスケープして返す。
// エスケープされたタグはアンエスケープで実際のタグに戻るため、出力が変化しなくなるまで繰り返す。
// 上限回数までに収束しない入力は空文字列とし、タイトルの検証で拒否させる。
func (s *TitleSanitizer) Sanitize(raw string) string {
	cur := raw
	for i := 0; i < maxSanitizePasses; i++ {
		if cur == "" {
			return ""
		}
		next := s.pass(cur)
		if next == cur {
			return cur
		}
		cur = next
	}
	return ""
}

// pass はサニタイズとアンエスケープを1回行う。
func (s *TitleSanitizer) pass(in string) string {
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(in)))
}
