package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wfunc/babyfoot/network"
	"github.com/wfunc/babyfoot/rpc"
)

// heartbeatInterval 小于服务端心跳周期
const heartbeatInterval = 20 * time.Second

// 观战客户端：打印某个文档的实时快照
func main() {
	addr := flag.String("addr", "localhost:8080", "server address (http or grpc)")
	collection := flag.String("collection", "games", "sessions, games or tournaments")
	id := flag.String("id", "", "document id")
	useRPC := flag.Bool("rpc", false, "watch over gRPC instead of websocket")
	flag.Parse()
	if *id == "" {
		log.Fatal("-id is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	req := network.SubscribeRequest{Collection: *collection, ID: *id}
	if *useRPC {
		watchRPC(ctx, *addr, req)
		return
	}
	watchWS(ctx, *addr, req)
}

func printSnapshot(snap network.SnapshotMessage) {
	if snap.Deleted {
		log.Printf("<- %s/%s v%d deleted", snap.Collection, snap.ID, snap.Version)
		return
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(snap.Data, &doc); err != nil {
		log.Printf("<- %s/%s v%d (undecodable: %v)", snap.Collection, snap.ID, snap.Version, err)
		return
	}
	log.Printf("<- %s/%s v%d status=%v", snap.Collection, snap.ID, snap.Version, doc["status"])
}

func watchRPC(ctx context.Context, addr string, req network.SubscribeRequest) {
	client, err := rpc.Dial(addr)
	if err != nil {
		log.Fatalf("Dial failed: %v", err)
	}
	defer client.Close()

	if err := client.Watch(ctx, &req, printSnapshot); err != nil && ctx.Err() == nil {
		log.Fatalf("Watch failed: %v", err)
	}
}

func watchWS(ctx context.Context, addr string, req network.SubscribeRequest) {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/ws"}
	log.Printf("Connecting to %s", u.String())

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("Dial failed: %v", err)
	}
	c := network.NewWSConnection(conn)
	defer c.Close()

	if err := c.SendJSON(network.MsgTypeSubscribe, req); err != nil {
		log.Fatalf("Subscribe failed: %v", err)
	}

	done := make(chan struct{})

	// Read loop
	go func() {
		defer close(done)
		for {
			packet, err := c.ReadPacket()
			if err != nil {
				log.Println("Read error:", err)
				return
			}
			switch packet.MsgID {
			case network.MsgTypeSnapshot:
				var snap network.SnapshotMessage
				if err := json.Unmarshal(packet.Data, &snap); err != nil {
					log.Printf("Bad snapshot: %v", err)
					continue
				}
				printSnapshot(snap)
			case network.MsgTypeError:
				var msg network.ErrorMessage
				json.Unmarshal(packet.Data, &msg)
				log.Printf("<- error: %s", msg.Message)
			}
		}
	}()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.Send(network.MsgTypeHeartbeat, nil); err != nil {
				log.Println("Write error:", err)
				return
			}
		case <-ctx.Done():
			log.Println("Interrupt received, closing connection.")
			err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				log.Println("Write close error:", err)
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		}
	}
}
