// Package livereload implements the server side of livereload protocol 7
// over websocket sessions.
package livereload

import (
	"context"
	"encoding/json"
	"errors"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/eliteGoblin/devreload/internal/domain"
)

const (
	// writeWait bounds one command write to a browser.
	writeWait = 2 * time.Second
	// closeWriteWait bounds how long a close frame may take to send.
	closeWriteWait = time.Second
)

// Session is one connected browser.
type Session struct {
	ID            string
	RemoteAddr    string
	EstablishedAt time.Time

	conn      domain.SessionConn
	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newSession(conn domain.SessionConn, remoteAddr string) *Session {
	return &Session{
		ID:            uuid.NewString(),
		RemoteAddr:    remoteAddr,
		EstablishedAt: time.Now(),
		conn:          conn,
	}
}

// send writes one command within wait. The connection allows a single
// writer at a time.
func (s *Session) send(cmd domain.ReloadCommand, wait time.Duration) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(wait)); err != nil {
		return err
	}
	return s.conn.WriteJSON(cmd)
}

// close sends a close frame and closes the connection. Safe to call twice.
func (s *Session) close(code int, text string) {
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, text),
			time.Now().Add(closeWriteWait))
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
}

// Registry tracks connected sessions and broadcasts reload commands.
type Registry struct {
	staticRoot string
	staticURL  string
	writeWait  time.Duration
	logger     *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates a registry. Reload paths are computed relative to
// staticRoot and published under staticURL.
func NewRegistry(staticRoot, staticURL string, logger *zap.Logger) *Registry {
	return &Registry{
		staticRoot: staticRoot,
		staticURL:  staticURL,
		writeWait:  writeWait,
		logger:     logger,
		sessions:   make(map[string]*Session),
	}
}

// Count returns the number of open sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sessions returns a snapshot of the open sessions ordered by connect time.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].EstablishedAt.Before(out[j].EstablishedAt)
	})
	return out
}

// Serve runs one session until the client disconnects, the handshake fails
// or ctx is cancelled. The session is registered for its whole lifetime.
// Returns domain.ErrProtocolMismatch when the client cannot speak protocol 7.
func (r *Registry) Serve(ctx context.Context, conn domain.SessionConn, remoteAddr string) error {
	sess := newSession(conn, remoteAddr)
	r.add(sess)
	defer func() {
		r.remove(sess)
		sess.close(websocket.CloseNormalClosure, "")
	}()

	r.logger.Info("browser connected",
		zap.String("session", sess.ID),
		zap.String("remote", remoteAddr),
		zap.Int("sessions", r.Count()))

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			sess.close(websocket.CloseGoingAway, "server shutting down")
		case <-stop:
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				r.logger.Debug("session read failed", zap.String("session", sess.ID), zap.Error(err))
			}
			r.logger.Info("browser disconnected", zap.String("session", sess.ID))
			return nil
		}
		if err := r.handleFrame(sess, msgType, data); err != nil {
			if errors.Is(err, domain.ErrProtocolMismatch) {
				sess.close(websocket.CloseProtocolError, "unsupported protocol")
			}
			return err
		}
	}
}

// handleFrame processes one inbound frame. Only a failed handshake ends the
// session; every other problem is logged and the frame dropped.
func (r *Registry) handleFrame(sess *Session, msgType int, data []byte) error {
	if msgType != websocket.TextMessage {
		r.logger.Error("unsupported frame type", zap.String("session", sess.ID), zap.Int("type", msgType))
		return nil
	}

	var cmd domain.ReloadCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		merr := &domain.MalformedMessageError{Data: data, Err: err}
		r.logger.Error("dropping frame", zap.String("session", sess.ID), zap.Error(merr))
		return nil
	}

	switch cmd.Command {
	case domain.CommandHello:
		if !cmd.HasProtocol(domain.ProtocolOfficial7) {
			r.logger.Error("client does not support protocol 7",
				zap.String("session", sess.ID),
				zap.Strings("protocols", cmd.Protocols))
			return domain.ErrProtocolMismatch
		}
		reply := domain.ReloadCommand{
			Command:    domain.CommandHello,
			Protocols:  []string{domain.ProtocolOfficial7},
			ServerName: domain.ServerName,
		}
		if err := sess.send(reply, r.writeWait); err != nil {
			r.logger.Warn("failed to send hello", zap.String("session", sess.ID), zap.Error(err))
		}

	case domain.CommandInfo:
		r.logger.Debug("browser info",
			zap.String("session", sess.ID),
			zap.String("url", cmd.URL),
			zap.Any("plugins", cmd.Plugins))

	default:
		r.logger.Error("unknown command", zap.String("session", sess.ID), zap.String("command", cmd.Command))
	}
	return nil
}

// StaticReload tells every session to reload the asset at filePath.
// Sessions are written concurrently, each bounded by the write deadline.
// A session whose write fails is closed and dropped; the others still get
// the command.
func (r *Registry) StaticReload(filePath string) {
	sessions := r.Sessions()
	if len(sessions) == 0 {
		r.logger.Debug("no browsers connected, skipping reload", zap.String("path", filePath))
		return
	}

	urlPath, ok := r.urlPath(filePath)
	if !ok {
		r.logger.Warn("changed file is outside the static directory",
			zap.String("path", filePath),
			zap.String("static_root", r.staticRoot))
		return
	}

	cmd := domain.ReloadCommand{
		Command: domain.CommandReload,
		Path:    urlPath,
		LiveCSS: true,
		LiveImg: true,
	}
	r.logger.Info("reloading", zap.String("path", urlPath), zap.Int("sessions", len(sessions)))

	var wg sync.WaitGroup
	for _, sess := range sessions {
		wg.Add(1)
		go func(sess *Session) {
			defer wg.Done()
			if err := sess.send(cmd, r.writeWait); err != nil {
				r.logger.Warn("failed to notify browser, dropping session",
					zap.String("session", sess.ID),
					zap.Error(err))
				r.remove(sess)
				sess.close(websocket.CloseInternalServerErr, "")
			}
		}(sess)
	}
	wg.Wait()
}

// urlPath maps a file under the static root to its URL path.
func (r *Registry) urlPath(filePath string) (string, bool) {
	if r.staticRoot == "" {
		return "", false
	}
	rel, err := filepath.Rel(r.staticRoot, filePath)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return path.Join("/", r.staticURL, filepath.ToSlash(rel)), true
}

// CloseAll sends a going-away close frame to every session and closes it.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, sess := range sessions {
		sess.close(websocket.CloseGoingAway, "server shutting down")
	}
	if len(sessions) > 0 {
		r.logger.Debug("closed browser sessions", zap.Int("sessions", len(sessions)))
	}
}

func (r *Registry) add(sess *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sess.ID] = sess
}

// remove is idempotent.
func (r *Registry) remove(sess *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sess.ID)
}

// Ensure Registry implements domain.Reloader.
var _ domain.Reloader = (*Registry)(nil)
