package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/gorilla/websocket"

	"liftsim/internal/observerproto"
	"liftsim/internal/protocol"
)

// feed prints the server's observer stream, one line per car event.
type feed struct {
	conn *websocket.Conn
	log  *log.Logger
}

func feedURL(baseURL string) (string, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	switch {
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://") + "/observer/ws", nil
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + "/observer/ws", nil
	default:
		return "", fmt.Errorf("base url must be http(s): %q", baseURL)
	}
}

func dialFeed(ctx context.Context, baseURL string, logger *log.Logger) (*feed, error) {
	u, err := feedURL(baseURL)
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u, err)
	}
	sub := observerproto.SubscribeMsg{
		Type:            observerproto.TypeSubscribe,
		ProtocolVersion: observerproto.Version,
	}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send SUBSCRIBE: %w", err)
	}
	return &feed{conn: conn, log: logger}, nil
}

// Run returns when the connection closes.
func (f *feed) Run(out io.Writer) {
	for {
		_, msg, err := f.conn.ReadMessage()
		if err != nil {
			return
		}
		line, ok := formatEvent(msg)
		if !ok {
			continue
		}
		fmt.Fprintln(out, line)
	}
}

func (f *feed) Close() error { return f.conn.Close() }

func formatEvent(msg []byte) (string, bool) {
	var ev observerproto.EventMsg
	if err := json.Unmarshal(msg, &ev); err != nil || ev.Type != observerproto.TypeEvent {
		return "", false
	}
	return formatCarEvent(ev.Event), true
}

func formatCarEvent(e protocol.CarEvent) string {
	line := fmt.Sprintf("#%d %-7s floor=%d stops=%d traversed=%d", e.Seq, e.Kind, e.Car.Floor, e.Car.Stops, e.Car.FloorsTraversed)
	if len(e.Passengers) > 0 {
		names := make([]string, 0, len(e.Passengers))
		for _, p := range e.Passengers {
			names = append(names, p.String())
		}
		line += " " + strings.Join(names, ",")
	}
	return line
}

// eventPrinter prints the events of an engine running in this process in the
// same format as the server feed.
type eventPrinter struct {
	w io.Writer
}

func (p eventPrinter) Emit(ev protocol.CarEvent) {
	fmt.Fprintln(p.w, formatCarEvent(ev))
}
