package lookingglass

import (
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 256
)

// Client represents a WebSocket client connection
type Client struct {
	conn    *websocket.Conn
	send    chan []byte
	session *Session
}

// Message is a frame on the event stream
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

func (e *Engine) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if e.allowedOrigins[origin] {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && u.Host == r.Host
}

// HandleWebSocket streams a session's events, history first
func (e *Engine) HandleWebSocket(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, exists := e.GetSession(sessionID)
	if !exists {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     e.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[LookingGlass] WebSocket upgrade failed: %v", err)
		return
	}

	client := &Client{
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		session: session,
	}

	// history is queued before registering so live events follow it
	client.queueHistory()
	session.registerClient(client)

	go client.writePump()
	go client.readPump()
}

func (s *Session) registerClient(client *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[client] = true
}

func (s *Session) unregisterClient(client *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[client]; ok {
		delete(s.clients, client)
		close(client.send)
	}
}

func (s *Session) closeClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for client := range s.clients {
		delete(s.clients, client)
		close(client.send)
	}
}

func (s *Session) broadcast(event Event) {
	data, err := json.Marshal(Message{Type: string(event.Type), Payload: event})
	if err != nil {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// slow client, drop
		}
	}
}

func (c *Client) queueHistory() {
	snap := c.session.Snapshot()

	info, _ := json.Marshal(Message{
		Type: "session.info",
		Payload: map[string]interface{}{
			"id":         snap.ID,
			"flow":       snap.Flow,
			"state":      snap.State,
			"created_at": snap.CreatedAt,
		},
	})
	c.enqueue(info)

	for _, event := range snap.Events {
		data, err := json.Marshal(Message{Type: string(event.Type), Payload: event})
		if err != nil {
			continue
		}
		c.enqueue(data)
	}
}

func (c *Client) enqueue(data []byte) {
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) readPump() {
	defer func() {
		c.session.unregisterClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[LookingGlass] WebSocket error: %v", err)
			}
			return
		}
		c.handleMessage(message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(message []byte) {
	var msg Message
	if err := json.Unmarshal(message, &msg); err != nil {
		return
	}

	switch msg.Type {
	case "session.pause":
		c.session.setState(SessionStatePaused)
	case "session.resume":
		c.session.setState(SessionStateActive)
	case "session.complete":
		c.session.setState(SessionStateComplete)
	}
}

// EventBroadcaster emits events into one session. A nil broadcaster or an
// empty session ID discards everything.
type EventBroadcaster struct {
	engine    *Engine
	sessionID string
}

// NewEventBroadcaster creates a broadcaster for a specific session
func (e *Engine) NewEventBroadcaster(sessionID string) *EventBroadcaster {
	if e == nil || sessionID == "" {
		return nil
	}
	return &EventBroadcaster{engine: e, sessionID: sessionID}
}

// Emit sends an event to the session
func (b *EventBroadcaster) Emit(eventType EventType, title string, data map[string]interface{}, annotations ...Annotation) {
	if b == nil {
		return
	}
	b.engine.AddEvent(b.sessionID, Event{
		Type:        eventType,
		Timestamp:   time.Now(),
		Title:       title,
		Data:        data,
		Annotations: annotations,
	})
}

// EmitFlowStep emits a numbered step of the flow
func (b *EventBroadcaster) EmitFlowStep(step int, name, from, to string, data map[string]interface{}) {
	b.Emit(EventTypeFlowStep, name, map[string]interface{}{
		"step": step,
		"from": from,
		"to":   to,
		"data": data,
	})
}

// EmitRequest records a decoded OpenID request with annotations for its mode
func (b *EventBroadcaster) EmitRequest(mode string, args map[string]string) {
	b.Emit(EventTypeRequestReceived, "OpenID request: "+mode, map[string]interface{}{
		"mode": mode,
		"args": args,
	}, ModeAnnotations(mode)...)
}

// EmitResponse records an encoded response
func (b *EventBroadcaster) EmitResponse(mode string, status int, delivery string) {
	b.Emit(EventTypeResponseSent, "OpenID response: "+mode, map[string]interface{}{
		"mode":     mode,
		"status":   status,
		"delivery": delivery,
	}, ModeAnnotations(mode)...)
}

// EmitTrustDecision records how a checkid request was decided
func (b *EventBroadcaster) EmitTrustDecision(trustRoot, outcome string, remembered bool) {
	b.Emit(EventTypeTrustDecision, "Trust decision: "+outcome, map[string]interface{}{
		"trust_root": trustRoot,
		"outcome":    outcome,
		"remembered": remembered,
	}, FieldAnnotations("realm")...)
}
