// persistence/postgresql.go
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/wfunc/babyfoot/broadcast"
	"github.com/wfunc/babyfoot/logger"
)

// NotifyListener 监听 PostgreSQL 的 NOTIFY，把其他节点的写入转发到本地 Hub
type NotifyListener struct {
	listener *pq.Listener
	store    Store
	hub      broadcast.Broadcaster
	done     chan struct{}
	stopped  chan struct{}
}

// NewNotifyListener subscribes to ChangeChannel. Notifications for
// documents this node wrote itself are dropped by the hub's version check.
func NewNotifyListener(dsn string, store Store, hub broadcast.Broadcaster) (*NotifyListener, error) {
	report := func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Log.Warnw("postgres listener", "event", ev, "error", err)
		}
	}
	l := pq.NewListener(dsn, 10*time.Second, time.Minute, report)
	if err := l.Listen(ChangeChannel); err != nil {
		l.Close()
		return nil, unavailable(err)
	}

	n := &NotifyListener{
		listener: l,
		store:    store,
		hub:      hub,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go n.run()
	return n, nil
}

func (n *NotifyListener) run() {
	defer close(n.stopped)
	for {
		select {
		case <-n.done:
			return
		case notification := <-n.listener.Notify:
			// nil 表示连接已重建
			if notification == nil {
				continue
			}
			n.forward(notification.Extra)
		case <-time.After(90 * time.Second):
			go n.listener.Ping()
		}
	}
}

func (n *NotifyListener) forward(payload string) {
	var c change
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		logger.Log.Warnf("bad change payload %q: %v", payload, err)
		return
	}
	if c.Deleted {
		n.hub.Publish(broadcast.Snapshot{Collection: c.Collection, ID: c.ID, Version: c.Version, Deleted: true})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	doc, err := n.store.Get(ctx, c.Collection, c.ID)
	if errors.Is(err, ErrRecordNotFound) {
		return
	}
	if err != nil {
		logger.Log.Warnf("load %s/%s after notify: %v", c.Collection, c.ID, err)
		return
	}
	n.hub.Publish(doc.snapshot())
}

func (n *NotifyListener) Close() error {
	close(n.done)
	<-n.stopped
	return n.listener.Close()
}
