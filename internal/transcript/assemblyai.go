package transcript

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// defaultStreamURL is the vendor realtime endpoint; overridable for tests.
	defaultStreamURL = "wss://api.assemblyai.com/v2/realtime/ws"
	// pendingFrameLimit bounds audio buffered before the session is ready.
	pendingFrameLimit = 10
)

// RealtimeConfig tunes the network streaming backend.
type RealtimeConfig struct {
	// TokenURL is the trusted intermediary that mints temporary session
	// tokens; the long-lived key never travels on the audio channel.
	TokenURL   string
	StreamURL  string
	SampleRate int

	MaxReconnects  int
	ReconnectBase  time.Duration
	ReconnectCap   time.Duration
	HTTPClient     *http.Client
	Dialer         *websocket.Dialer
	ConnectTimeout time.Duration
}

func (c *RealtimeConfig) applyDefaults() {
	if c.StreamURL == "" {
		c.StreamURL = defaultStreamURL
	}
	if c.SampleRate == 0 {
		c.SampleRate = 44100
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = 5
	}
	if c.ReconnectBase == 0 {
		c.ReconnectBase = 3 * time.Second
	}
	if c.ReconnectCap == 0 {
		c.ReconnectCap = 15 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if c.Dialer == nil {
		c.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
}

// RealtimeClient streams audio to the vendor websocket and emits fragments.
type RealtimeClient struct {
	cfg        RealtimeConfig
	onFragment FragmentHandler
	onSpeaker  SpeakerHandler

	mu                sync.Mutex
	conn              *websocket.Conn
	connected         bool
	ready             bool
	userClosed        bool
	reconnectAttempts int
	reconnectTimer    *time.Timer
	pending           [][]byte
	readyCh           chan struct{}
	lastErr           string
	fatal             error
}

// Vendor message types.
type sessionBeginsMessage struct {
	MessageType string `json:"message_type"`
	SessionID   string `json:"session_id"`
}

type transcriptMessage struct {
	MessageType string `json:"message_type"`
	Text        string `json:"text"`
	Speaker     string `json:"speaker,omitempty"`
}

type sessionTerminatedMessage struct {
	MessageType       string `json:"message_type"`
	TerminationReason string `json:"termination_reason"`
}

type streamErrorMessage struct {
	MessageType string `json:"message_type"`
	Error       string `json:"error"`
}

// NewRealtimeClient creates the network streaming transcription backend.
func NewRealtimeClient(cfg RealtimeConfig, onFragment FragmentHandler, onSpeaker SpeakerHandler) *RealtimeClient {
	cfg.applyDefaults()
	return &RealtimeClient{
		cfg:        cfg,
		onFragment: onFragment,
		onSpeaker:  onSpeaker,
		readyCh:    make(chan struct{}),
	}
}

// fetchToken asks the trusted intermediary for a temporary session token.
func (c *RealtimeClient) fetchToken(ctx context.Context) (string, error) {
	if c.cfg.TokenURL == "" {
		return "", fmt.Errorf("token url is empty")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, bytes.NewReader(nil))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("token request failed: status=%d body=%s", resp.StatusCode, string(b))
	}
	var payload struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("token decode: %w", err)
	}
	if payload.Token == "" {
		return "", fmt.Errorf("token response missing token")
	}
	return payload.Token, nil
}

// Connect fetches a token and opens the websocket. Audio sent before the
// SessionBegins message arrives is buffered, bounded, and flushed once ready.
func (c *RealtimeClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.userClosed = false
	c.fatal = nil
	c.readyCh = make(chan struct{})
	c.mu.Unlock()

	return c.dial(ctx)
}

func (c *RealtimeClient) dial(ctx context.Context) error {
	token, err := c.fetchToken(ctx)
	if err != nil {
		return fmt.Errorf("failed to get temporary token: %w", err)
	}

	params := url.Values{}
	params.Set("sample_rate", strconv.Itoa(c.cfg.SampleRate))
	params.Set("speaker_labels", "true")
	wsURL := fmt.Sprintf("%s?%s", c.cfg.StreamURL, params.Encode())

	log.Printf("assemblyai: connecting to %s", wsURL)
	conn, resp, err := c.cfg.Dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			log.Printf("assemblyai: dial failed with status %d", resp.StatusCode)
		}
		return fmt.Errorf("websocket dial: %w", err)
	}

	// Authenticate with the short-lived token as the first message.
	if err := conn.WriteJSON(map[string]string{"token": token}); err != nil {
		_ = conn.Close()
		return fmt.Errorf("auth write: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.ready = false
	c.mu.Unlock()

	go c.readLoop(conn)
	return nil
}

// WaitReady blocks until the session-begin message arrives or the connect
// timeout elapses.
func (c *RealtimeClient) WaitReady(ctx context.Context) bool {
	c.mu.Lock()
	if c.ready {
		c.mu.Unlock()
		return true
	}
	ch := c.readyCh
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()
	select {
	case <-ch:
		return true
	case <-ctx.Done():
		return false
	}
}

// SendAudio queues or sends a 16-bit PCM frame. While the session is not yet
// ready, frames are kept in a bounded queue, dropping the oldest on overflow.
func (c *RealtimeClient) SendAudio(pcm []byte) error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return fmt.Errorf("not connected")
	}
	if !c.ready {
		if len(c.pending) >= pendingFrameLimit {
			c.pending = c.pending[1:]
		}
		frame := make([]byte, len(pcm))
		copy(frame, pcm)
		c.pending = append(c.pending, frame)
		c.mu.Unlock()
		return nil
	}
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("no connection")
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
		return fmt.Errorf("audio write: %w", err)
	}
	return nil
}

// LastError returns and clears the most recent user-facing error message.
func (c *RealtimeClient) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := c.lastErr
	c.lastErr = ""
	return msg
}

// Fatal reports the terminal error set once reconnection attempts are
// exhausted; nil while the client is healthy or still retrying.
func (c *RealtimeClient) Fatal() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fatal
}

// Disconnect closes the channel and cancels any scheduled reconnect. It is
// idempotent and safe to call mid-connect or when never connected.
func (c *RealtimeClient) Disconnect() {
	c.mu.Lock()
	c.userClosed = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.ready = false
	c.pending = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteJSON(map[string]bool{"terminate_session": true})
		_ = conn.Close()
		log.Println("assemblyai: connection closed")
	}
}

// readLoop processes incoming websocket messages until the connection drops.
func (c *RealtimeClient) readLoop(conn *websocket.Conn) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("assemblyai: recovered from panic in readLoop: %v", r)
		}
	}()
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			c.handleClosed(err)
			return
		}
		c.processMessage(message)
	}
}

// processMessage dispatches on the vendor message_type field.
func (c *RealtimeClient) processMessage(message []byte) {
	var base map[string]interface{}
	if err := json.Unmarshal(message, &base); err != nil {
		log.Printf("assemblyai: error unmarshaling message: %v", err)
		return
	}
	msgType, ok := base["message_type"].(string)
	if !ok {
		log.Printf("assemblyai: message missing message_type field")
		return
	}
	switch msgType {
	case "SessionBegins":
		var msg sessionBeginsMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("assemblyai: error unmarshaling SessionBegins: %v", err)
			return
		}
		log.Printf("assemblyai: session began: id=%s", msg.SessionID)
		c.markReady()
	case "PartialTranscript", "FinalTranscript":
		var msg transcriptMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("assemblyai: error unmarshaling transcript: %v", err)
			return
		}
		if msg.Text == "" {
			return
		}
		isFinal := msgType == "FinalTranscript"
		if c.onFragment != nil {
			c.onFragment(msg.Text, isFinal)
		}
		if isFinal && msg.Speaker != "" && c.onSpeaker != nil {
			c.onSpeaker(mapSpeakerLabel(msg.Speaker))
		}
	case "SessionTerminated":
		var msg sessionTerminatedMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("assemblyai: error unmarshaling SessionTerminated: %v", err)
			return
		}
		log.Printf("assemblyai: session terminated: reason=%s", msg.TerminationReason)
		c.mu.Lock()
		c.ready = false
		c.mu.Unlock()
		if msg.TerminationReason != "USER_DISCONNECTED" {
			c.scheduleReconnect()
		}
	case "Error":
		var msg streamErrorMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("assemblyai: error unmarshaling Error: %v", err)
			return
		}
		log.Printf("assemblyai: error: %s", msg.Error)
		c.mu.Lock()
		c.ready = false
		c.lastErr = "Transcription service error: " + msg.Error
		c.mu.Unlock()
		c.scheduleReconnect()
	default:
		log.Printf("assemblyai: unknown message type: %s", msgType)
	}
}

// mapSpeakerLabel reduces the vendor's diarization label to the two-role
// model: label "A" is the interviewer, everything else the candidate.
func mapSpeakerLabel(label string) Speaker {
	if label == "A" {
		return SpeakerInterviewer
	}
	return SpeakerCandidate
}

func (c *RealtimeClient) markReady() {
	c.mu.Lock()
	if c.ready {
		c.mu.Unlock()
		return
	}
	c.ready = true
	c.reconnectAttempts = 0
	pending := c.pending
	c.pending = nil
	conn := c.conn
	close(c.readyCh)
	// A reconnected session signals readiness again on a fresh channel.
	c.readyCh = make(chan struct{})
	c.mu.Unlock()

	for _, frame := range pending {
		if conn == nil {
			break
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			log.Printf("assemblyai: error flushing buffered audio: %v", err)
			break
		}
	}
}

// handleClosed runs when the read loop exits; explicit user disconnects are
// final, anything else goes through the reconnect path.
func (c *RealtimeClient) handleClosed(err error) {
	c.mu.Lock()
	userClosed := c.userClosed
	c.connected = false
	c.ready = false
	c.conn = nil
	c.mu.Unlock()
	if userClosed {
		return
	}
	log.Printf("assemblyai: connection lost: %v", err)
	c.scheduleReconnect()
}

// scheduleReconnect arms a backoff timer: delay grows with the attempt count
// up to the cap, and after MaxReconnects attempts the error becomes fatal.
func (c *RealtimeClient) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.userClosed || c.reconnectTimer != nil {
		return
	}
	if c.reconnectAttempts >= c.cfg.MaxReconnects {
		c.fatal = NewFatalError(fmt.Errorf("reconnection failed after %d attempts", c.cfg.MaxReconnects))
		c.lastErr = "Transcription connection lost and could not be restored. Please restart the session."
		log.Printf("assemblyai: %v", c.fatal)
		return
	}
	c.reconnectAttempts++
	delay := ReconnectDelay(c.reconnectAttempts, c.cfg.ReconnectBase, c.cfg.ReconnectCap)
	log.Printf("assemblyai: reconnect attempt %d/%d in %v", c.reconnectAttempts, c.cfg.MaxReconnects, delay)
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.reconnectTimer = nil
		if c.userClosed {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
		defer cancel()
		if err := c.dial(ctx); err != nil {
			log.Printf("assemblyai: reconnect failed: %v", err)
			c.scheduleReconnect()
		}
	})
}

// ReconnectDelay computes the backoff for a given attempt: the base delay
// scaled by the attempt number, capped. Exposed for policy tests.
func ReconnectDelay(attempt int, base, cap time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(attempt) * base
	if d > cap {
		d = cap
	}
	return d
}
