// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package engine

import (
	"net/http"
	"time"

	"github.com/z5labs/mgbridge/event"
	"github.com/z5labs/mgbridge/pkg/slogfield"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,

	// Origin policy belongs to WebsocketConnect handlers.
	CheckOrigin: func(*http.Request) bool { return true },
}

// serveWebsocket runs the websocket lifecycle of c. A WebsocketConnect
// handler reporting success rejects the upgrade; otherwise every
// message is offered to WebsocketMessage until either side closes.
func (s *server) serveWebsocket(c *connection) {
	if s.fire(event.WebsocketConnect, c) {
		s.log.Debug("websocket rejected by handler", slogfield.ConnID(c.id), slogfield.URI(c.info.URI))
		return
	}
	if s.isClosing() {
		s.unavailable(c)
		return
	}

	ws, err := upgrader.Upgrade(newResponseWriter(c), c.req, nil)
	if err != nil {
		s.cry(c, "websocket upgrade: %s", err)
		return
	}
	defer ws.Close()

	c.mu.Lock()
	c.status = http.StatusSwitchingProtocols
	c.mu.Unlock()
	c.ws = ws

	s.fire(event.WebsocketReady, c)
	for {
		opcode, data, err := ws.ReadMessage()
		if err != nil {
			if !s.isClosing() && !websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.log.Debug("websocket read failed", slogfield.ConnID(c.id), slogfield.Error(err))
			}
			break
		}
		c.setMessage(opcode, data)
		s.fire(event.WebsocketMessage, c)
	}
	s.fire(event.WebsocketClose, c)
}
