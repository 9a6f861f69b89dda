package session

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/moviecritics/internal/model"
	"github.com/hitoshi/moviecritics/internal/repository"
)

// MemoryRegistry はプロセス内のセッションレジストリ。
// DATABASE_URL未設定時に使用する。再起動でレコードは失われ、既存Cookieは採用により引き継がれる。
type MemoryRegistry struct {
	mu      sync.Mutex
	records map[string]model.SessionRecord
}

// NewMemoryRegistry はMemoryRegistryを生成する。
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{records: make(map[string]model.SessionRecord)}
}

// NextSeq はログイン試行のシーケンス番号を採番する。
func (r *MemoryRegistry) NextSeq(_ context.Context, browserID string, retainUntil time.Time) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.records[browserID]
	rec.BrowserID = browserID
	rec.LatestSeq++
	rec.ExpiresAt = later(rec.ExpiresAt, retainUntil)
	r.records[browserID] = rec
	return rec.LatestSeq, nil
}

// Find はレコードのコピーを返す。見つからない場合はnilを返す。
func (r *MemoryRegistry) Find(_ context.Context, browserID string) (*model.SessionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[browserID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// Commit はLatestSeqが一致する場合のみ有効なセッションIDを書き込む。
func (r *MemoryRegistry) Commit(_ context.Context, browserID string, seq uint64, sessionID string, retainUntil time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[browserID]
	if !ok || rec.LatestSeq != seq {
		return false, nil
	}
	rec.ActiveSessionID = sessionID
	rec.ExpiresAt = later(rec.ExpiresAt, retainUntil)
	r.records[browserID] = rec
	return true, nil
}

// Adopt はレコードが存在しない場合のみ登録する。
func (r *MemoryRegistry) Adopt(_ context.Context, browserID string, seq uint64, sessionID string, retainUntil time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[browserID]; ok {
		return false, nil
	}
	r.records[browserID] = model.SessionRecord{
		BrowserID:       browserID,
		LatestSeq:       seq,
		ActiveSessionID: sessionID,
		ExpiresAt:       retainUntil,
	}
	return true, nil
}

// Clear は有効なセッションIDを消去し、LatestSeqを進める。
func (r *MemoryRegistry) Clear(_ context.Context, browserID string, retainUntil time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.records[browserID]
	rec.BrowserID = browserID
	rec.LatestSeq++
	rec.ActiveSessionID = ""
	rec.ExpiresAt = later(rec.ExpiresAt, retainUntil)
	r.records[browserID] = rec
	return nil
}

// DeleteExpired は期限切れのレコードを削除する。
func (r *MemoryRegistry) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, rec := range r.records {
		if !now.Before(rec.ExpiresAt) {
			delete(r.records, id)
			n++
		}
	}
	return n, nil
}

// Ping は常に成功する。
func (r *MemoryRegistry) Ping(context.Context) error {
	return nil
}

// Len は保持しているレコード数を返す。テストおよびメトリクス用。
func (r *MemoryRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

func later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

// compile-time interface check
var _ repository.SessionRegistry = (*MemoryRegistry)(nil)
