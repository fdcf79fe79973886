package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/wfunc/babyfoot/broadcast"
	"github.com/wfunc/babyfoot/logger"
	"github.com/wfunc/babyfoot/models"
	"github.com/wfunc/babyfoot/monitor"
	"github.com/wfunc/babyfoot/network"
	"github.com/wfunc/babyfoot/persistence"
)

// viewerBuffer 每个观战连接的待发送队列长度，写满视为慢连接并断开
const viewerBuffer = 64

var watchable = map[string]bool{
	models.CollectionSessions:    true,
	models.CollectionGames:       true,
	models.CollectionTournaments: true,
}

type outbound struct {
	msgID   uint16
	payload interface{}
}

// viewer is one websocket connection watching any number of documents.
type viewer struct {
	conn    network.Connection
	store   persistence.Store
	monitor *monitor.Monitor
	out     chan outbound
	done    chan struct{}

	mutex  sync.Mutex
	subs   map[string]func()
	last   map[string]int64
	closed bool
}

func newViewer(conn network.Connection, store persistence.Store, mon *monitor.Monitor) *viewer {
	return &viewer{
		conn:    conn,
		store:   store,
		monitor: mon,
		out:     make(chan outbound, viewerBuffer),
		done:    make(chan struct{}),
		subs:    make(map[string]func()),
		last:    make(map[string]int64),
	}
}

func (s *GameServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Infof("Failed to upgrade connection: %v", err)
		return
	}
	wsConn := network.NewWSConnection(conn)
	wsConn.SetHeartbeat(HeartbeatInterval)

	v := newViewer(wsConn, s.store, s.coordinator.Monitor())
	logger.Log.Infof("New viewer from %s", wsConn.RemoteAddr())
	defer func() {
		logger.Log.Infof("Viewer closed from %s", wsConn.RemoteAddr())
		v.close()
		wsConn.Close()
	}()
	go v.writeLoop()

	ctx := r.Context()
	q := r.URL.Query()
	if q.Get("collection") != "" || q.Get("id") != "" {
		v.subscribe(ctx, network.SubscribeRequest{Collection: q.Get("collection"), ID: q.Get("id")})
	}

	for {
		packet, err := wsConn.ReadPacket()
		if err != nil {
			return
		}
		v.handlePacket(ctx, packet)
	}
}

func (v *viewer) handlePacket(ctx context.Context, packet *network.Packet) {
	switch packet.MsgID {
	case network.MsgTypeHeartbeat:
		v.enqueue(outbound{msgID: network.MsgTypeHeartbeat})
	case network.MsgTypeSubscribe, network.MsgTypeUnsubscribe:
		var req network.SubscribeRequest
		if err := json.Unmarshal(packet.Data, &req); err != nil {
			v.fail("malformed subscribe request")
			return
		}
		if packet.MsgID == network.MsgTypeSubscribe {
			v.subscribe(ctx, req)
		} else {
			v.unsubscribe(req)
		}
	default:
		logger.Log.Infof("Unknown message type: %d", packet.MsgID)
	}
}

// subscribe registers for changes first and then sends the current document,
// so no change between the two is lost. push drops whichever arrives stale.
func (v *viewer) subscribe(ctx context.Context, req network.SubscribeRequest) {
	if !watchable[req.Collection] || req.ID == "" {
		v.fail("unknown document " + req.Collection + "/" + req.ID)
		return
	}
	topic := broadcast.Topic(req.Collection, req.ID)

	v.mutex.Lock()
	if _, exists := v.subs[topic]; exists || v.closed {
		v.mutex.Unlock()
		return
	}
	cancel := v.store.Subscribe(req.Collection, req.ID, v.push)
	v.subs[topic] = cancel
	v.mutex.Unlock()
	v.monitor.IncLiveSubscriptions()

	doc, err := v.store.Get(ctx, req.Collection, req.ID)
	if err != nil {
		v.unsubscribe(req)
		v.fail(err.Error())
		return
	}
	v.push(broadcast.Snapshot{
		Collection: doc.Collection,
		ID:         doc.ID,
		Version:    doc.Version,
		Data:       doc.Data,
	})
}

func (v *viewer) unsubscribe(req network.SubscribeRequest) {
	topic := broadcast.Topic(req.Collection, req.ID)
	v.mutex.Lock()
	cancel, exists := v.subs[topic]
	delete(v.subs, topic)
	v.mutex.Unlock()
	if exists {
		cancel()
		v.monitor.DecLiveSubscriptions()
	}
}

// push runs on the publisher's goroutine and never blocks it.
func (v *viewer) push(snap broadcast.Snapshot) {
	topic := broadcast.Topic(snap.Collection, snap.ID)
	v.mutex.Lock()
	defer v.mutex.Unlock()
	if v.closed || snap.Version <= v.last[topic] {
		return
	}
	v.last[topic] = snap.Version
	v.enqueueLocked(outbound{msgID: network.MsgTypeSnapshot, payload: network.SnapshotMessage{
		Collection: snap.Collection,
		ID:         snap.ID,
		Version:    snap.Version,
		Data:       json.RawMessage(snap.Data),
		Deleted:    snap.Deleted,
	}})
}

func (v *viewer) fail(msg string) {
	v.enqueue(outbound{msgID: network.MsgTypeError, payload: network.ErrorMessage{Message: msg}})
}

func (v *viewer) enqueue(m outbound) {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	if !v.closed {
		v.enqueueLocked(m)
	}
}

func (v *viewer) enqueueLocked(m outbound) {
	select {
	case v.out <- m:
	default:
		logger.Log.Warnf("Viewer %s too slow, disconnecting", v.conn.RemoteAddr())
		v.conn.Close()
	}
}

func (v *viewer) writeLoop() {
	for {
		select {
		case m := <-v.out:
			var err error
			if m.payload == nil {
				err = v.conn.Send(m.msgID, nil)
			} else {
				err = v.conn.SendJSON(m.msgID, m.payload)
			}
			if err != nil {
				v.conn.Close()
				return
			}
		case <-v.done:
			return
		}
	}
}

func (v *viewer) close() {
	v.mutex.Lock()
	if v.closed {
		v.mutex.Unlock()
		return
	}
	v.closed = true
	subs := v.subs
	v.subs = nil
	v.mutex.Unlock()

	for _, cancel := range subs {
		cancel()
		v.monitor.DecLiveSubscriptions()
	}
	close(v.done)
}
