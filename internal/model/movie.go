package model

// Movie はバックエンドの映画コレクションから取得したレコードのコピー。
// 正本はバックエンド側にあり、クライアントは保持しない。
type Movie struct {
	ID          int64    `json:"id"`
	Title       string   `json:"title"`
	Director    string   `json:"director"`
	Year        *int     `json:"year,omitempty"`
	Description string   `json:"description,omitempty"`
	Rating      *float64 `json:"rating,omitempty"`
}

// MovieInput は映画の作成・更新リクエストの入力値。
type MovieInput struct {
	Title       string   `json:"title"`
	Director    string   `json:"director"`
	Year        *int     `json:"year,omitempty"`
	Description string   `json:"description,omitempty"`
	Rating      *float64 `json:"rating,omitempty"`
}
