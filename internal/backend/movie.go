package backend

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hitoshi/moviecritics/internal/model"
)

// ListMovies は映画一覧を取得する。
// GET /api/Movie
func (c *Client) ListMovies(ctx context.Context, token model.BackendToken) ([]model.Movie, error) {
	var movies []model.Movie
	if err := c.do(ctx, "list_movies", http.MethodGet, "/api/Movie", token, nil, &movies); err != nil {
		return nil, err
	}
	if movies == nil {
		movies = []model.Movie{}
	}
	return movies, nil
}

// CreateMovie は映画を登録し、採番されたIDを含むレコードを返す。
// POST /api/Movie
func (c *Client) CreateMovie(ctx context.Context, token model.BackendToken, input model.MovieInput) (*model.Movie, error) {
	var movie model.Movie
	if err := c.do(ctx, "create_movie", http.MethodPost, "/api/Movie", token, input, &movie); err != nil {
		return nil, err
	}
	if movie.ID == 0 {
		return nil, &TransportError{Operation: "create_movie", Err: fmt.Errorf("%w: missing id", ErrMalformedResponse)}
	}
	return &movie, nil
}

// GetMovie は指定IDの映画を取得する。
// GET /api/Movie/{id}
func (c *Client) GetMovie(ctx context.Context, token model.BackendToken, id int64) (*model.Movie, error) {
	var movie model.Movie
	if err := c.do(ctx, "get_movie", http.MethodGet, moviePath(id), token, nil, &movie); err != nil {
		return nil, err
	}
	return &movie, nil
}

// UpdateMovie は指定IDの映画を更新する。成功以外のレスポンス内容は保証されない。
// PUT /api/Movie/{id}
func (c *Client) UpdateMovie(ctx context.Context, token model.BackendToken, id int64, input model.MovieInput) error {
	return c.do(ctx, "update_movie", http.MethodPut, moviePath(id), token, input, nil)
}

// DeleteMovie は指定IDの映画を削除する。
// DELETE /api/Movie/{id}
func (c *Client) DeleteMovie(ctx context.Context, token model.BackendToken, id int64) error {
	return c.do(ctx, "delete_movie", http.MethodDelete, moviePath(id), token, nil, nil)
}

func moviePath(id int64) string {
	return fmt.Sprintf("/api/Movie/%d", id)
}
