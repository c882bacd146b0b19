package repository

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lib/pq"
)

// ProfileChangeChannel はprofile_documentsの変更を通知するチャネル名。
// ペイロードは変更されたuser_id。
const ProfileChangeChannel = "profile_changes"

// listenerPingInterval は通知が途絶えている間に接続を確認する間隔。
const listenerPingInterval = 90 * time.Second

// ProfileListener はPostgreSQLのLISTEN/NOTIFYで受け取った変更通知を
// ユーザーごとの購読者へ配信する。
type ProfileListener struct {
	listener *pq.Listener

	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

// NewProfileListener はprofile_changesチャネルをLISTENするProfileListenerを生成する。
func NewProfileListener(databaseURL string) (*ProfileListener, error) {
	listener := pq.NewListener(databaseURL, 10*time.Second, time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				slog.Warn("プロフィール変更リスナーの接続イベント",
					slog.Int("event", int(ev)),
					slog.String("error", err.Error()),
				)
			}
		},
	)
	if err := listener.Listen(ProfileChangeChannel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("failed to listen %s: %w", ProfileChangeChannel, err)
	}

	l := newProfileListener()
	l.listener = listener
	return l, nil
}

func newProfileListener() *ProfileListener {
	return &ProfileListener{
		subs: make(map[string]map[chan struct{}]struct{}),
	}
}

// Run はctxが終了するまで通知を受信して配信する。
func (l *ProfileListener) Run(ctx context.Context) {
	slog.Info("プロフィール変更リスナーを開始しました")
	for {
		select {
		case <-ctx.Done():
			slog.Info("プロフィール変更リスナーを停止します")
			return
		case n := <-l.listener.Notify:
			if n == nil {
				// 再接続の間に通知を取りこぼした可能性があるため全員に配信する
				l.broadcast()
				continue
			}
			l.dispatch(n.Extra)
		case <-time.After(listenerPingInterval):
			go func() {
				if err := l.listener.Ping(); err != nil {
					slog.Warn("プロフィール変更リスナーのPingに失敗", slog.String("error", err.Error()))
				}
			}()
		}
	}
}

// Subscribe は指定ユーザーの文書が変更されるたびに値を受け取るチャネルを返す。
// 受信が追いつかない間の通知は1件にまとめられる。
func (l *ProfileListener) Subscribe(userID string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	l.mu.Lock()
	if l.subs[userID] == nil {
		l.subs[userID] = make(map[chan struct{}]struct{})
	}
	l.subs[userID][ch] = struct{}{}
	l.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs[userID], ch)
			if len(l.subs[userID]) == 0 {
				delete(l.subs, userID)
			}
			l.mu.Unlock()
		})
	}
	return ch, cancel
}

// Close はLISTEN接続を閉じる。
func (l *ProfileListener) Close() error {
	if l.listener == nil {
		return nil
	}
	return l.listener.Close()
}

func (l *ProfileListener) dispatch(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ch := range l.subs[userID] {
		notify(ch)
	}
}

func (l *ProfileListener) broadcast() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, set := range l.subs {
		for ch := range set {
			notify(ch)
		}
	}
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// compile-time interface check
var _ ProfileChangeSource = (*ProfileListener)(nil)
