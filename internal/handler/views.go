package handler

import (
	"bytes"
	"embed"
	"encoding/base64"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/hitoshi/moviecritics/internal/gate"
	"github.com/hitoshi/moviecritics/internal/middleware"
	"github.com/hitoshi/moviecritics/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	flashCookieName = "mc_flash"
	flashMaxAge     = 60

	// LoginSuccessMessage はログイン完了後の最初の遷移で表示するメッセージ。
	LoginSuccessMessage = "Successfully logged in!"
)

// ページ名
const (
	pageLanding   = "landing"
	pageMovies    = "movies"
	pageMovieEdit = "movie_edit"
	pageError     = "error"
)

// Flash は次の1回の表示だけで使われる通知メッセージ。
type Flash struct {
	Kind    string // success, error
	Message string
}

// Page はすべてのページに共通する表示データ。
type Page struct {
	Title     string
	CSRFToken string
	Flash     *Flash
	Session   *model.Session
}

// LandingView はランディング（ログイン）ページの表示データ。
type LandingView struct {
	Page
	State        gate.State
	Error        string
	Email        string
	OAuthEnabled bool
}

// MoviesView は映画一覧ページの表示データ。
type MoviesView struct {
	Page
	Movies       []model.Movie
	Degraded     bool
	OAuthEnabled bool
	Error        string
	Form         MovieForm
}

// MovieEditView は映画編集ページの表示データ。
type MovieEditView struct {
	Page
	ID    int64
	Error string
	Form  MovieForm
}

// ErrorView はエラーページの表示データ。
type ErrorView struct {
	Page
	Message string
	Action  string
}

// MovieForm はフォームの入力値を文字列のまま保持する。
type MovieForm struct {
	Title       string
	Director    string
	Year        string
	Rating      string
	Description string
}

// Renderer はHTMLテンプレートの描画を行う。
type Renderer struct {
	pages map[string]*template.Template
}

var templateFuncs = template.FuncMap{
	"yearText":   yearText,
	"ratingText": ratingText,
	"orNA":       orNA,
}

// NewRenderer は埋め込みテンプレートを解析してRendererを生成する。
func NewRenderer() (*Renderer, error) {
	pages := make(map[string]*template.Template)
	for _, name := range []string{pageLanding, pageMovies, pageMovieEdit, pageError} {
		t, err := template.New("layout.html").Funcs(templateFuncs).
			ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		pages[name] = t
	}
	return &Renderer{pages: pages}, nil
}

// Render はページをバッファに描画してからステータスコードとともに書き込む。
func (rd *Renderer) Render(w http.ResponseWriter, status int, name string, data any) {
	t, ok := rd.pages[name]
	if !ok {
		slog.Error("unknown template", slog.String("template", name))
		middleware.WriteInternalServerError(w)
		return
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout.html", data); err != nil {
		slog.Error("failed to render template",
			slog.String("template", name),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

// RenderError はAPIErrorをエラーページとして描画する。
func (rd *Renderer) RenderError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := middleware.AsAPIError(err)
	status := middleware.StatusForCode(apiErr.Code)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	rd.Render(w, status, pageError, ErrorView{
		Page:    newPage(r, apiErr.Message, nil),
		Message: apiErr.Message,
		Action:  apiErr.Action,
	})
}

// newPage はリクエストコンテキストから共通の表示データを組み立てる。
func newPage(r *http.Request, title string, flash *Flash) Page {
	return Page{
		Title:     title,
		CSRFToken: middleware.CSRFTokenFromContext(r.Context()),
		Flash:     flash,
		Session:   middleware.SessionFromContext(r.Context()),
	}
}

// yearText は公開年を表示用に整形する。未設定の場合はN/A。
func yearText(year *int) string {
	if year == nil || *year == 0 {
		return "N/A"
	}
	return strconv.Itoa(*year)
}

// ratingText は評価を「n/10」形式に整形する。未設定の場合はダッシュ。
func ratingText(rating *float64) string {
	if rating == nil {
		return "—"
	}
	return strconv.FormatFloat(*rating, 'f', -1, 64) + "/10"
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}

// setFlash は次のページ表示で使う通知メッセージをCookieに保存する。
func setFlash(w http.ResponseWriter, config middleware.CookieConfig, kind, message string) {
	value := base64.RawURLEncoding.EncodeToString([]byte(kind + "|" + message))
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookieName,
		Value:    value,
		Path:     "/",
		Domain:   config.Domain,
		MaxAge:   flashMaxAge,
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// popFlash は通知メッセージを読み取り、Cookieを削除する。
func popFlash(w http.ResponseWriter, r *http.Request, config middleware.CookieConfig) *Flash {
	c, err := r.Cookie(flashCookieName)
	if err != nil || c.Value == "" {
		return nil
	}
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookieName,
		Value:    "",
		Path:     "/",
		Domain:   config.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: http.SameSiteLaxMode,
	})

	raw, err := base64.RawURLEncoding.DecodeString(c.Value)
	if err != nil {
		return nil
	}
	kind, message, ok := strings.Cut(string(raw), "|")
	if !ok || message == "" {
		return nil
	}
	if kind != "success" {
		kind = "error"
	}
	return &Flash{Kind: kind, Message: message}
}
