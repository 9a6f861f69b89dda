// Package gate はセッション状態に応じた画面遷移を決める状態機械を提供する。
// ログイン完了を検知した最初の1回だけリダイレクトを発生させ、
// 認証済みのユーザーが認証済み画面に留まれるようにする。
package gate

import (
	"sync"
	"time"

	"github.com/hitoshi/moviecritics/internal/model"
)

// State はゲートの状態。
type State string

const (
	StateLoading         State = "loading"
	StateAuthenticated   State = "authenticated"
	StateUnauthenticated State = "unauthenticated"
)

// Transition はResolveによる状態遷移。
type Transition struct {
	From State
	To   State
}

// EnteredAuthenticated は他の状態からauthenticatedに遷移した場合にtrueを返す。
func (t Transition) EnteredAuthenticated() bool {
	return t.To == StateAuthenticated && t.From != StateAuthenticated
}

// Changed は状態が変化したかどうかを返す。
func (t Transition) Changed() bool {
	return t.From != t.To
}

// Gate はSession Gateの状態機械。ゼロ値はloading状態。
type Gate struct {
	state State
}

// State は現在の状態を返す。
func (g *Gate) State() State {
	if g.state == "" {
		return StateLoading
	}
	return g.state
}

// Resolve はセッションの認証状態を反映する。
// partially-authenticatedは本人確認済みのためauthenticatedとして扱う。
func (g *Gate) Resolve(status model.AuthStatus) Transition {
	from := g.State()
	to := StateUnauthenticated
	if status == model.AuthStatusPartial || status == model.AuthStatusFull {
		to = StateAuthenticated
	}
	g.state = to
	return Transition{From: from, To: to}
}

// Reset はloading状態に戻す。サインアウト時に使用する。
func (g *Gate) Reset() {
	g.state = StateLoading
}

// TransitionObserver はゲートの状態遷移を受け取るインターフェース。
type TransitionObserver interface {
	RecordGateTransition(from, to string)
}

type trackedGate struct {
	gate       Gate
	lastAccess time.Time
}

// Tracker はブラウザコンテキストごとにGateを保持する。
type Tracker struct {
	mu       sync.Mutex
	gates    map[string]*trackedGate
	idleTTL  time.Duration
	observer TransitionObserver
	now      func() time.Time
}

// NewTracker はTrackerを生成する。idleTTLを超えてアクセスのないゲートはEvictIdleで削除される。
func NewTracker(idleTTL time.Duration, observer TransitionObserver) *Tracker {
	return &Tracker{
		gates:    make(map[string]*trackedGate),
		idleTTL:  idleTTL,
		observer: observer,
		now:      time.Now,
	}
}

// Resolve はブラウザコンテキストのゲートに認証状態を反映する。
func (t *Tracker) Resolve(browserID string, status model.AuthStatus) Transition {
	t.mu.Lock()
	tg, ok := t.gates[browserID]
	if !ok {
		tg = &trackedGate{}
		t.gates[browserID] = tg
	}
	tg.lastAccess = t.now()
	tr := tg.gate.Resolve(status)
	t.mu.Unlock()

	if tr.Changed() && t.observer != nil {
		t.observer.RecordGateTransition(string(tr.From), string(tr.To))
	}
	return tr
}

// State はブラウザコンテキストのゲートの状態を返す。未知のブラウザはloading。
func (t *Tracker) State(browserID string) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tg, ok := t.gates[browserID]; ok {
		return tg.gate.State()
	}
	return StateLoading
}

// Reset はブラウザコンテキストのゲートをloadingに戻す。
func (t *Tracker) Reset(browserID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.gates, browserID)
}

// EvictIdle はidleTTLを超えてアクセスのないゲートを削除し、削除数を返す。
func (t *Tracker) EvictIdle() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	n := 0
	for id, tg := range t.gates {
		if now.Sub(tg.lastAccess) > t.idleTTL {
			delete(t.gates, id)
			n++
		}
	}
	return n
}

// Len は保持しているゲート数を返す。
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.gates)
}
