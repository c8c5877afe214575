package signaling

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lanikai/rtsprelay/internal/hub"
)

// viewer is one websocket connection watching one stream.
type viewer struct {
	server *Server
	ws     *websocket.Conn
	id     string

	// Messages for this viewer only, e.g. a rejected start.
	replies chan hub.Message

	// Closed when the write loop exits.
	writerDone chan struct{}
}

type command struct {
	Command string `json:"command"`
}

func (c *viewer) run() {
	key := hub.GroupKey(c.id)
	sub := c.server.hub.Subscribe(key, c.server.config.SendBuffer)
	log.Debug("Viewer %s joined %s", c.ws.RemoteAddr(), key)

	go func() {
		defer close(c.writerDone)
		c.writeLoop(sub)
	}()

	c.readLoop()

	// Leaving the group may stop the session if nobody else is watching.
	// It also closes sub, which ends the write loop.
	c.server.hub.Unsubscribe(key, sub)
	<-c.writerDone
	c.ws.Close()
	log.Debug("Viewer %s left %s", c.ws.RemoteAddr(), key)
}

// Process incoming websocket messages until the connection fails.
func (c *viewer) readLoop() {
	c.ws.SetReadLimit(maxCommandSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("Failed to read websocket message: %v", err)
			}
			return
		}

		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.reply(hub.ErrorMessage(c.id, "invalid command: "+err.Error()))
			continue
		}

		switch cmd.Command {
		case "start":
			c.start()
		case "stop":
			c.server.controller.Stop(c.id)
		default:
			log.Warn("Unexpected websocket command: %q", cmd.Command)
			c.reply(hub.ErrorMessage(c.id, "unknown command: "+cmd.Command))
		}
	}
}

func (c *viewer) start() {
	url, active, err := c.server.streams.Lookup(c.id)
	if err != nil || !active {
		if err != nil {
			log.Debug("Lookup of stream %s: %v", c.id, err)
		}
		c.reply(hub.ErrorMessage(c.id, msgNotFound))
		return
	}
	c.server.controller.Start(c.id, url)
}

func (c *viewer) reply(m hub.Message) {
	select {
	case c.replies <- m:
	case <-c.writerDone:
	}
}

// writeLoop is the only goroutine that writes to the websocket.
func (c *viewer) writeLoop(sub <-chan hub.Message) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case m, ok := <-sub:
			if !ok {
				c.ws.SetWriteDeadline(time.Now().Add(writeWait))
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if !c.write(m) {
				return
			}
		case m := <-c.replies:
			if !c.write(m) {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *viewer) write(m hub.Message) bool {
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteJSON(m); err != nil {
		log.Debug("Write to %s: %v", c.ws.RemoteAddr(), err)
		// Unblock the read loop.
		c.ws.Close()
		return false
	}
	return true
}
