package handler

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/moviecritics/internal/middleware"
	"github.com/hitoshi/moviecritics/internal/model"
)

// MovieServiceInterface は映画ハンドラーが必要とするサービスインターフェース。
// movie.Directoryが実装する。
type MovieServiceInterface interface {
	List(ctx context.Context, sess *model.Session) ([]model.Movie, error)
	Create(ctx context.Context, sess *model.Session, input model.MovieInput) (*model.Movie, error)
	Get(ctx context.Context, sess *model.Session, id int64) (*model.Movie, error)
	Update(ctx context.Context, sess *model.Session, id int64, input model.MovieInput) error
	Delete(ctx context.Context, sess *model.Session, id int64) error
}

// MovieHandler は映画一覧ページと編集フォームのHTTPハンドラー。
type MovieHandler struct {
	movies       MovieServiceInterface
	gates        GateTracker
	renderer     *Renderer
	cookie       middleware.CookieConfig
	oauthEnabled bool
}

// NewMovieHandler はMovieHandlerを生成する。
func NewMovieHandler(movies MovieServiceInterface, gates GateTracker, renderer *Renderer, cookie middleware.CookieConfig, oauthEnabled bool) *MovieHandler {
	return &MovieHandler{
		movies:       movies,
		gates:        gates,
		renderer:     renderer,
		cookie:       cookie,
		oauthEnabled: oauthEnabled,
	}
}

// List は映画一覧ページを表示する。
// GET /movies
func (h *MovieHandler) List(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.requireSession(w, r)
	if !ok {
		return
	}

	flash := popFlash(w, r, h.cookie)
	tr := h.gates.Resolve(middleware.BrowserIDFromContext(r.Context()), sess.Status())
	if tr.EnteredAuthenticated() && flash == nil && !sess.ExchangeFailed {
		flash = &Flash{Kind: "success", Message: LoginSuccessMessage}
	}

	h.renderList(w, r, http.StatusOK, MoviesView{Page: newPage(r, "Movies", flash)})
}

// Create はフォームから映画を登録する。
// POST /movies
func (h *MovieHandler) Create(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.requireSession(w, r)
	if !ok {
		return
	}

	form, input, err := parseMovieForm(r)
	if err == nil {
		_, err = h.movies.Create(r.Context(), sess, input)
	}
	if err != nil {
		apiErr := middleware.AsAPIError(err)
		h.renderList(w, r, middleware.StatusForCode(apiErr.Code), MoviesView{
			Page:  newPage(r, "Movies", nil),
			Error: apiErr.Message,
			Form:  form,
		})
		return
	}

	setFlash(w, h.cookie, "success", "Movie added.")
	http.Redirect(w, r, "/movies", http.StatusSeeOther)
}

// Edit は映画の編集フォームを表示する。
// GET /movies/{id}/edit
func (h *MovieHandler) Edit(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.requireSession(w, r)
	if !ok {
		return
	}

	id, err := parseMovieID(r)
	if err != nil {
		h.renderer.RenderError(w, r, err)
		return
	}

	movie, err := h.movies.Get(r.Context(), sess, id)
	if err != nil {
		h.renderer.RenderError(w, r, err)
		return
	}

	h.renderer.Render(w, http.StatusOK, pageMovieEdit, MovieEditView{
		Page: newPage(r, "Edit "+movie.Title, nil),
		ID:   id,
		Form: formFromMovie(movie),
	})
}

// Update はフォームから映画を更新する。
// POST /movies/{id}
func (h *MovieHandler) Update(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.requireSession(w, r)
	if !ok {
		return
	}

	id, err := parseMovieID(r)
	if err != nil {
		h.renderer.RenderError(w, r, err)
		return
	}

	form, input, err := parseMovieForm(r)
	if err == nil {
		err = h.movies.Update(r.Context(), sess, id, input)
	}
	if err != nil {
		apiErr := middleware.AsAPIError(err)
		if apiErr.Code == model.ErrCodeMovieNotFound || apiErr.Code == model.ErrCodeNotAuthorized {
			h.renderer.RenderError(w, r, err)
			return
		}
		h.renderer.Render(w, middleware.StatusForCode(apiErr.Code), pageMovieEdit, MovieEditView{
			Page:  newPage(r, "Edit movie", nil),
			ID:    id,
			Error: apiErr.Message,
			Form:  form,
		})
		return
	}

	setFlash(w, h.cookie, "success", "Movie updated.")
	http.Redirect(w, r, "/movies", http.StatusSeeOther)
}

// Delete は映画を削除する。
// POST /movies/{id}/delete
func (h *MovieHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.requireSession(w, r)
	if !ok {
		return
	}

	id, err := parseMovieID(r)
	if err == nil {
		err = h.movies.Delete(r.Context(), sess, id)
	}
	if err != nil {
		setFlash(w, h.cookie, "error", middleware.AsAPIError(err).Message)
	} else {
		setFlash(w, h.cookie, "success", "Movie deleted.")
	}
	http.Redirect(w, r, "/movies", http.StatusSeeOther)
}

// requireSession は未認証の場合にランディングページへリダイレクトする。
func (h *MovieHandler) requireSession(w http.ResponseWriter, r *http.Request) (*model.Session, bool) {
	sess := middleware.SessionFromContext(r.Context())
	if sess == nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return nil, false
	}
	return sess, true
}

// renderList は映画一覧を取得してページを描画する。
// バックエンドトークンを持たないセッションでは一覧を取得せず縮退表示にする。
func (h *MovieHandler) renderList(w http.ResponseWriter, r *http.Request, status int, view MoviesView) {
	sess := view.Session
	view.OAuthEnabled = h.oauthEnabled
	if sess.Status() == model.AuthStatusPartial {
		view.Degraded = true
		h.renderer.Render(w, status, pageMovies, view)
		return
	}

	movies, err := h.movies.List(r.Context(), sess)
	if err != nil {
		apiErr := middleware.AsAPIError(err)
		if view.Error == "" {
			view.Error = apiErr.Message
			status = middleware.StatusForCode(apiErr.Code)
		}
	}
	view.Movies = movies
	h.renderer.Render(w, status, pageMovies, view)
}

// parseMovieID はURLパスの映画IDを解析する。
func parseMovieID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, model.NewValidationError("Invalid movie id")
	}
	return id, nil
}

// parseMovieForm はフォーム値を入力値に変換する。
// 数値として解釈できない場合は検証エラーを返す。範囲の検証はMovie Directoryが行う。
func parseMovieForm(r *http.Request) (MovieForm, model.MovieInput, error) {
	form := MovieForm{
		Title:       r.PostFormValue("title"),
		Director:    r.PostFormValue("director"),
		Year:        strings.TrimSpace(r.PostFormValue("year")),
		Rating:      strings.TrimSpace(r.PostFormValue("rating")),
		Description: r.PostFormValue("description"),
	}
	input := model.MovieInput{
		Title:       form.Title,
		Director:    form.Director,
		Description: form.Description,
	}

	if form.Year != "" {
		year, err := strconv.Atoi(form.Year)
		if err != nil {
			return form, input, model.NewValidationError("Year must be a whole number")
		}
		input.Year = &year
	}
	if form.Rating != "" {
		rating, err := strconv.ParseFloat(form.Rating, 64)
		if err != nil || math.IsNaN(rating) || math.IsInf(rating, 0) {
			return form, input, model.NewValidationError("Rating must be a number")
		}
		input.Rating = &rating
	}
	return form, input, nil
}

func formFromMovie(m *model.Movie) MovieForm {
	form := MovieForm{
		Title:       m.Title,
		Director:    m.Director,
		Description: m.Description,
	}
	if m.Year != nil {
		form.Year = strconv.Itoa(*m.Year)
	}
	if m.Rating != nil {
		form.Rating = strconv.FormatFloat(*m.Rating, 'f', -1, 64)
	}
	return form
}
