// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer はバックエンドから受け取った映画のタイトルや説明文からHTMLを除去し、
// プレーンテキストに正規化する。
// 表示時のエスケープはhtml/templateが行うため、ここではエンティティを文字に戻す。
// ユーザー入力にはNormalizeTextのみを適用し、内容は書き換えない。
package security

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizerService はプレーンテキストのサニタイズ機能のインターフェース。
type TextSanitizerService interface {
	// SanitizeText はすべてのタグを除去し、前後の空白と制御文字を取り除いたテキストを返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	SanitizeText(raw string) string
}

// TextSanitizer はTextSanitizerServiceの実装。
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerを生成する。
// script, styleなどの要素は内容ごと除去される。
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{policy: bluemonday.StrictPolicy()}
}

// SanitizeText はHTMLを除去したプレーンテキストを返す。
func (s *TextSanitizer) SanitizeText(raw string) string {
	if raw == "" {
		return ""
	}
	return NormalizeText(html.UnescapeString(s.policy.Sanitize(raw)))
}

// NormalizeText は改行とタブ以外の制御文字を除去し、前後の空白を取り除く。
// タグや記号はそのまま残す。
func NormalizeText(raw string) string {
	text := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, raw)
	return strings.TrimSpace(text)
}

// compile-time interface check
var _ TextSanitizerService = (*TextSanitizer)(nil)
