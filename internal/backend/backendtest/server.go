// Package backendtest はテスト用のBackend Auth Gateway実装を提供する。
// httptest.Server上でログイン、Googleトークン交換、映画CRUDを模擬する。
package backendtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/hitoshi/moviecritics/internal/backend"
	"github.com/hitoshi/moviecritics/internal/model"
)

// Server はインメモリのBackend Auth Gateway。
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	passwords map[string]string // email -> password
	tokens    map[string]string // email -> token
	valid     map[string]bool   // 発行済みトークン

	googleStatus int
	googleToken  string

	movies map[int64]model.Movie
	nextID int64

	loginCalls    int
	googleCalls   int
	googleRequest backend.GoogleLoginRequest
}

// NewServer はServerを起動する。テスト終了時にCloseすること。
func NewServer() *Server {
	s := &Server{
		passwords:    make(map[string]string),
		tokens:       make(map[string]string),
		valid:        make(map[string]bool),
		googleStatus: http.StatusOK,
		googleToken:  "backend-google-token",
		movies:       make(map[int64]model.Movie),
		nextID:       1,
	}
	s.valid[s.googleToken] = true

	mux := http.NewServeMux()
	mux.HandleFunc("/api/Auth/login", s.handleLogin)
	mux.HandleFunc("/api/Auth/google", s.handleGoogle)
	mux.HandleFunc("/api/Movie", s.handleMovies)
	mux.HandleFunc("/api/Movie/", s.handleMovie)
	s.Server = httptest.NewServer(mux)
	return s
}

// AddUser はパスワードログイン可能なユーザーを登録する。
func (s *Server) AddUser(email, password, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passwords[email] = password
	s.tokens[email] = token
	s.valid[token] = true
}

// SetGoogleResult はPOST /api/Auth/googleの応答を設定する。
// status が200以外の場合はトークンを返さない。
func (s *Server) SetGoogleResult(status int, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.googleStatus = status
	s.googleToken = token
	if token != "" {
		s.valid[token] = true
	}
}

// LoginCalls はログインエンドポイントの呼び出し回数を返す。
func (s *Server) LoginCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loginCalls
}

// GoogleCalls はトークン交換エンドポイントの呼び出し回数を返す。
func (s *Server) GoogleCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.googleCalls
}

// LastGoogleRequest は直近のトークン交換リクエストを返す。
func (s *Server) LastGoogleRequest() backend.GoogleLoginRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.googleRequest
}

// SeedMovie は認可を経由せずに映画を登録する。
func (s *Server) SeedMovie(m model.Movie) model.Movie {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.ID = s.nextID
	s.nextID++
	s.movies[m.ID] = m
	return m
}

// Movie は保存されている映画をそのまま返す。
func (s *Server) Movie(id int64) (model.Movie, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.movies[id]
	return m, ok
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req backend.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loginCalls++

	password, ok := s.passwords[req.Email]
	if !ok || password != req.Password {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, backend.LoginResponse{Token: s.tokens[req.Email], Email: req.Email})
}

func (s *Server) handleGoogle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req backend.GoogleLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.googleCalls++
	s.googleRequest = req

	if s.googleStatus != http.StatusOK {
		w.WriteHeader(s.googleStatus)
		return
	}
	writeJSON(w, http.StatusOK, backend.LoginResponse{Token: s.googleToken, Email: req.Email})
}

func (s *Server) authorized(r *http.Request) bool {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.valid[token]
}

func (s *Server) handleMovies(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.mu.Lock()
		list := make([]model.Movie, 0, len(s.movies))
		for _, m := range s.movies {
			list = append(list, m)
		}
		s.mu.Unlock()
		sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
		writeJSON(w, http.StatusOK, list)

	case http.MethodPost:
		var in model.MovieInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Title == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		m := s.SeedMovie(model.Movie{
			Title:       in.Title,
			Director:    in.Director,
			Year:        in.Year,
			Description: in.Description,
			Rating:      in.Rating,
		})
		writeJSON(w, http.StatusOK, m)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleMovie(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	id, err := strconv.ParseInt(strings.TrimPrefix(r.URL.Path, "/api/Movie/"), 10, 64)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.movies[id]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, m)

	case http.MethodPut:
		var in model.MovieInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Title == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		s.movies[id] = model.Movie{
			ID:          id,
			Title:       in.Title,
			Director:    in.Director,
			Year:        in.Year,
			Description: in.Description,
			Rating:      in.Rating,
		}
		w.WriteHeader(http.StatusOK)

	case http.MethodDelete:
		delete(s.movies, id)
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
