// Package backend はBackend Auth Gateway（ログイン、OAuthトークン交換、映画コレクション）の
// HTTPクライアントを提供する。
// リクエスト/レスポンスの契約のみに依存し、認可判断やセッション管理は行わない。
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/moviecritics/internal/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName = "github.com/hitoshi/moviecritics/internal/backend"
	// maxResponseSize はレスポンスボディの読み取り上限。
	maxResponseSize = 1 << 20
)

// ErrMalformedResponse はレスポンスボディが期待する形式でない場合のエラー。
var ErrMalformedResponse = errors.New("malformed response")

// StatusError はバックエンドが2xx以外のステータスを返した場合のエラー。
type StatusError struct {
	Operation  string
	StatusCode int
	Body       string
}

// Error はerrorインターフェースを実装する。
func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: backend returned status %d: %s", e.Operation, e.StatusCode, e.Body)
}

// TransportError は接続失敗やレスポンス不正など、HTTPステータスを得られなかったエラー。
type TransportError struct {
	Operation string
	Err       error
}

// Error はerrorインターフェースを実装する。
func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Operation, e.Err)
}

// Unwrap は原因エラーを返す。
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Observer はバックエンド呼び出しの結果を受け取るインターフェース。
// metrics.Collectorが実装する。
type Observer interface {
	RecordBackendRequest(operation string, statusCode int, duration time.Duration)
}

// ClientConfig はClientの設定。
type ClientConfig struct {
	BaseURL    string
	HTTPClient *http.Client // nilの場合はタイムアウトなしのクライアントを使用する
	Logger     *slog.Logger
	Observer   Observer // 任意
}

// Client はBackend Auth GatewayのHTTPクライアント。
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	observer   Observer
	tracer     trace.Tracer
}

// NewClient はClientを生成する。
func NewClient(config ClientConfig) *Client {
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: config.HTTPClient,
		logger:     config.Logger,
		observer:   config.Observer,
		tracer:     otel.Tracer(tracerName),
	}
}

// Ping はバックエンドへの疎通を確認する。ステータスコードは問わない。
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("failed to create ping request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Operation: "ping", Err: err}
	}
	resp.Body.Close()
	return nil
}

// do はJSONリクエストを送信し、2xxの場合のみoutにレスポンスをデコードする。
// tokenが空でなければBearerトークンとして付与する。
// レスポンスボディが空の場合、outはゼロ値のまま返る。
func (c *Client) do(ctx context.Context, op, method, path string, token model.BackendToken, in, out any) error {
	ctx, span := c.tracer.Start(ctx, "backend."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.route", path),
		),
	)
	defer span.End()

	start := time.Now()
	statusCode, err := c.roundTrip(ctx, op, method, path, token, in, out)
	duration := time.Since(start)

	if c.observer != nil {
		c.observer.RecordBackendRequest(op, statusCode, duration)
	}
	span.SetAttributes(attribute.Int("http.status_code", statusCode))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Debug("backend request failed",
			slog.String("operation", op),
			slog.Int("http_status", statusCode),
			slog.String("error", err.Error()),
		)
		return err
	}

	c.logger.Debug("backend request completed",
		slog.String("operation", op),
		slog.Int("http_status", statusCode),
		slog.Float64("duration_ms", float64(duration.Microseconds())/1000),
	)
	return nil
}

func (c *Client) roundTrip(ctx context.Context, op, method, path string, token model.BackendToken, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("%s: failed to encode request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, fmt.Errorf("%s: failed to create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+string(token))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, &TransportError{Operation: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return resp.StatusCode, &TransportError{Operation: op, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, &StatusError{
			Operation:  op,
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
		}
	}

	if out != nil && len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return resp.StatusCode, &TransportError{Operation: op, Err: fmt.Errorf("%w: %v", ErrMalformedResponse, err)}
		}
	}

	return resp.StatusCode, nil
}
