package handler

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/moviecritics/internal/middleware"
	"github.com/hitoshi/moviecritics/internal/model"
)

const maxRequestBodySize = 64 << 10

// MovieAPIHandler は映画コレクションのJSON APIハンドラー。
// 認可判断はMovie Directoryに委ね、エラーは統一フォーマットで返す。
type MovieAPIHandler struct {
	movies MovieServiceInterface
}

// NewMovieAPIHandler はMovieAPIHandlerを生成する。
func NewMovieAPIHandler(movies MovieServiceInterface) *MovieAPIHandler {
	return &MovieAPIHandler{movies: movies}
}

// List は映画一覧を返す。
// GET /api/movies
func (h *MovieAPIHandler) List(w http.ResponseWriter, r *http.Request) {
	movies, err := h.movies.List(r.Context(), middleware.SessionFromContext(r.Context()))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	if movies == nil {
		movies = []model.Movie{}
	}
	writeJSON(w, http.StatusOK, movies)
}

// Create は映画を登録する。
// POST /api/movies
func (h *MovieAPIHandler) Create(w http.ResponseWriter, r *http.Request) {
	input, err := decodeMovieInput(w, r)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	movie, err := h.movies.Create(r.Context(), middleware.SessionFromContext(r.Context()), input)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, movie)
}

// Get は指定IDの映画を返す。
// GET /api/movies/{id}
func (h *MovieAPIHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseMovieID(r)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	movie, err := h.movies.Get(r.Context(), middleware.SessionFromContext(r.Context()), id)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, movie)
}

// Update は指定IDの映画を更新する。
// PUT /api/movies/{id}
func (h *MovieAPIHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseMovieID(r)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	input, err := decodeMovieInput(w, r)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	if err := h.movies.Update(r.Context(), middleware.SessionFromContext(r.Context()), id, input); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete は指定IDの映画を削除する。
// DELETE /api/movies/{id}
func (h *MovieAPIHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseMovieID(r)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	if err := h.movies.Delete(r.Context(), middleware.SessionFromContext(r.Context()), id); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeMovieInput(w http.ResponseWriter, r *http.Request) (model.MovieInput, error) {
	var input model.MovieInput
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&input); err != nil {
		return input, model.NewValidationError("Request body must be a movie JSON object")
	}
	return input, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
