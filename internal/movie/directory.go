// Package movie はバックエンドの映画コレクションに対するCRUD操作を提供する。
// すべての操作はfully-authenticatedのセッションを要求し、バックエンドトークンを付与して呼び出す。
package movie

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/moviecritics/internal/backend"
	"github.com/hitoshi/moviecritics/internal/model"
	"github.com/hitoshi/moviecritics/internal/security"
)

// 入力値の範囲
const (
	MinYear   = 1888
	MaxYear   = 2100
	MinRating = 0.0
	MaxRating = 10.0

	maxTitleLength       = 200
	maxDirectorLength    = 200
	maxDescriptionLength = 4000
)

// Gateway はバックエンドの映画エンドポイントを抽象化する。
type Gateway interface {
	ListMovies(ctx context.Context, token model.BackendToken) ([]model.Movie, error)
	CreateMovie(ctx context.Context, token model.BackendToken, input model.MovieInput) (*model.Movie, error)
	GetMovie(ctx context.Context, token model.BackendToken, id int64) (*model.Movie, error)
	UpdateMovie(ctx context.Context, token model.BackendToken, id int64, input model.MovieInput) error
	DeleteMovie(ctx context.Context, token model.BackendToken, id int64) error
}

// Directory はMovie Directory Client。
type Directory struct {
	gateway   Gateway
	sanitizer security.TextSanitizerService
	logger    *slog.Logger
}

// NewDirectory はDirectoryを生成する。
func NewDirectory(gateway Gateway, sanitizer security.TextSanitizerService, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{gateway: gateway, sanitizer: sanitizer, logger: logger}
}

// List は映画一覧を取得する。
func (d *Directory) List(ctx context.Context, sess *model.Session) ([]model.Movie, error) {
	token, err := authorize(sess)
	if err != nil {
		return nil, err
	}

	movies, err := d.gateway.ListMovies(ctx, token)
	if err != nil {
		return nil, d.mapError("list", 0, sess, err)
	}

	for i := range movies {
		d.clean(&movies[i])
	}
	return movies, nil
}

// Create は映画を登録し、採番されたIDを含むレコードを返す。
func (d *Directory) Create(ctx context.Context, sess *model.Session, input model.MovieInput) (*model.Movie, error) {
	token, err := authorize(sess)
	if err != nil {
		return nil, err
	}
	input, err = d.Validate(input)
	if err != nil {
		return nil, err
	}

	movie, err := d.gateway.CreateMovie(ctx, token, input)
	if err != nil {
		return nil, d.mapError("create", 0, sess, err)
	}

	d.clean(movie)
	d.logger.Info("movie created",
		slog.String("subject_id", sess.SubjectID),
		slog.Int64("movie_id", movie.ID),
	)
	return movie, nil
}

// Get は指定IDの映画を取得する。
func (d *Directory) Get(ctx context.Context, sess *model.Session, id int64) (*model.Movie, error) {
	token, err := authorize(sess)
	if err != nil {
		return nil, err
	}

	movie, err := d.gateway.GetMovie(ctx, token, id)
	if err != nil {
		return nil, d.mapError("get", id, sess, err)
	}

	d.clean(movie)
	return movie, nil
}

// Update は指定IDの映画を更新する。
func (d *Directory) Update(ctx context.Context, sess *model.Session, id int64, input model.MovieInput) error {
	token, err := authorize(sess)
	if err != nil {
		return err
	}
	input, err = d.Validate(input)
	if err != nil {
		return err
	}

	if err := d.gateway.UpdateMovie(ctx, token, id, input); err != nil {
		return d.mapError("update", id, sess, err)
	}

	d.logger.Info("movie updated",
		slog.String("subject_id", sess.SubjectID),
		slog.Int64("movie_id", id),
	)
	return nil
}

// Delete は指定IDの映画を削除する。
func (d *Directory) Delete(ctx context.Context, sess *model.Session, id int64) error {
	token, err := authorize(sess)
	if err != nil {
		return err
	}

	if err := d.gateway.DeleteMovie(ctx, token, id); err != nil {
		return d.mapError("delete", id, sess, err)
	}

	d.logger.Info("movie deleted",
		slog.String("subject_id", sess.SubjectID),
		slog.Int64("movie_id", id),
	)
	return nil
}

// Validate は入力値を検証し、前後の空白と制御文字を除いた入力を返す。
// 映画データの正はバックエンドにあるため、入力されたテキストの内容は書き換えない。
func (d *Directory) Validate(input model.MovieInput) (model.MovieInput, error) {
	input.Title = security.NormalizeText(input.Title)
	input.Director = security.NormalizeText(input.Director)
	input.Description = security.NormalizeText(input.Description)

	switch {
	case input.Title == "":
		return input, model.NewValidationError("Title is required")
	case input.Director == "":
		return input, model.NewValidationError("Director is required")
	case len([]rune(input.Title)) > maxTitleLength:
		return input, model.NewValidationError(fmt.Sprintf("Title must be at most %d characters", maxTitleLength))
	case len([]rune(input.Director)) > maxDirectorLength:
		return input, model.NewValidationError(fmt.Sprintf("Director must be at most %d characters", maxDirectorLength))
	case len([]rune(input.Description)) > maxDescriptionLength:
		return input, model.NewValidationError(fmt.Sprintf("Description must be at most %d characters", maxDescriptionLength))
	}

	if input.Year != nil && (*input.Year < MinYear || *input.Year > MaxYear) {
		return input, model.NewValidationError(fmt.Sprintf("Year must be between %d and %d", MinYear, MaxYear))
	}
	if input.Rating != nil && (*input.Rating < MinRating || *input.Rating > MaxRating) {
		return input, model.NewValidationError("Rating must be between 0 and 10")
	}

	return input, nil
}

// authorize はfully-authenticatedのセッションからバックエンドトークンを取り出す。
func authorize(sess *model.Session) (model.BackendToken, error) {
	switch sess.Status() {
	case model.AuthStatusFull:
		return sess.BackendToken, nil
	case model.AuthStatusPartial:
		return "", model.NewNotAuthorizedError(errors.New("session has no backend token"))
	default:
		return "", model.NewNotAuthorizedError(errors.New("no session"))
	}
}

// mapError はバックエンドのエラーをAPIErrorに変換する。
func (d *Directory) mapError(op string, id int64, sess *model.Session, err error) error {
	var statusErr *backend.StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			d.logger.Warn("backend rejected movie request",
				slog.String("operation", op),
				slog.String("subject_id", sess.SubjectID),
				slog.Int("http_status", statusErr.StatusCode),
			)
			return model.NewNotAuthorizedError(err)
		case http.StatusNotFound:
			return model.NewMovieNotFoundError(id)
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			reason := strings.TrimSpace(d.sanitizer.SanitizeText(statusErr.Body))
			if reason == "" || len(reason) > 200 {
				reason = "The movie service rejected the request"
			}
			return model.NewValidationError(reason)
		}
	}

	d.logger.Error("movie request failed",
		slog.String("operation", op),
		slog.String("subject_id", sess.SubjectID),
		slog.String("error", err.Error()),
	)
	return model.NewNetworkFailureError(err)
}

func (d *Directory) clean(m *model.Movie) {
	m.Title = d.sanitizer.SanitizeText(m.Title)
	m.Director = d.sanitizer.SanitizeText(m.Director)
	m.Description = d.sanitizer.SanitizeText(m.Description)
}
