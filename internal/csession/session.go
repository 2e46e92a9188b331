package csession

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/bonghwa-relay/gateway/internal/apperr"
	"github.com/bonghwa-relay/gateway/internal/capxml"
	"github.com/bonghwa-relay/gateway/internal/config"
	"github.com/bonghwa-relay/gateway/internal/digest"
	"github.com/bonghwa-relay/gateway/internal/wire"
)

// frameOrErr is one item off the per-connection read loop: either a
// complete frame or the terminal read error that ended the connection.
type frameOrErr struct {
	h    wire.Header
	body []byte
	err  error
}

// Session owns one CAS TCP connection across its entire reconnect lifetime.
type Session struct {
	cfg    config.CAS
	timers config.Timers
	logger *zap.Logger
	dispatch Dispatcher
	maxBodyLength uint32

	mu    sync.Mutex
	conn  net.Conn
	state State

	shouldReconnect atomic.Bool
}

// New constructs a Session. dispatch handles inbound disaster notifications
// and report acks; it is typically internal/csengine's Engine.
func New(cfg config.CAS, timers config.Timers, maxBodyLength uint32, dispatch Dispatcher, logger *zap.Logger) *Session {
	return &Session{
		cfg:           cfg,
		timers:        timers,
		maxBodyLength: maxBodyLength,
		dispatch:      dispatch,
		logger:        logger,
	}
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Send frames and writes body under the session mutex, no-op'ing unless the
// session is ACTIVE — the "writers must go through send(buffer), which
// no-ops if the connection is not ACTIVE" contract from the protocol.
func (s *Session) Send(h wire.Header, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive || s.conn == nil {
		return apperr.New(apperr.KindTransientStorage, "csession: send while not ACTIVE (state=%s)", s.state)
	}
	_, err := s.conn.Write(wire.Frame(h, body))
	return err
}

// sendLocked is for use during the handshake, before the session reaches
// ACTIVE and before Send's state guard would allow a write.
func (s *Session) sendLocked(h wire.Header, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return apperr.New(apperr.KindTransientStorage, "csession: send on nil conn")
	}
	_, err := s.conn.Write(wire.Frame(h, body))
	return err
}

// Run drives connect -> handshake -> active -> reconnect until ctx is
// cancelled, at which point it marks shouldReconnect false and returns.
func (s *Session) Run(ctx context.Context) {
	s.shouldReconnect.Store(true)

	for {
		if ctx.Err() != nil {
			s.shouldReconnect.Store(false)
			s.destroy()
			return
		}

		s.setState(StateConnecting)
		frameCh, err := s.connectAndAuthenticate(ctx)
		if err != nil {
			s.logger.Warn("cas handshake failed", zap.Error(err))
			s.destroy()
			if !s.waitReconnect(ctx) {
				return
			}
			continue
		}

		s.runActive(ctx, frameCh)
		s.destroy()

		if !s.shouldReconnect.Load() || !s.waitReconnect(ctx) {
			return
		}
	}
}

// Stop marks the session for graceful shutdown; the driver goroutine does not
// reconnect after the current connection ends, and exits when its reconnect
// wait elapses or ctx is cancelled.
func (s *Session) Stop() {
	s.shouldReconnect.Store(false)
}

func (s *Session) waitReconnect(ctx context.Context) bool {
	if !s.shouldReconnect.Load() {
		return false
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(s.timers.Reconnect):
		return s.shouldReconnect.Load()
	}
}

func (s *Session) destroy() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.state = StateDisconnected
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// connectAndAuthenticate dials CAS and runs the challenge/response handshake
//. On success the session is ACTIVE and the returned
// channel is the same one runActive should keep consuming frames from.
func (s *Session) connectAndAuthenticate(ctx context.Context) (<-chan frameOrErr, error) {
	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("csession: dial: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.state = StateAwaitingChallenge
	s.mu.Unlock()

	frameCh := make(chan frameOrErr, 32)
	go s.readLoop(conn, frameCh)

	authBody, err := capxml.Marshal(capxml.Envelope{DestID: s.cfg.DestID})
	if err != nil {
		return nil, fmt.Errorf("csession: build auth request: %w", err)
	}
	if err := s.sendLocked(wire.Header{MessageID: wire.MsgReqSysCon, DataFormat: wire.DataFormatXML, MagicNumber: s.cfg.MagicNumber}, authBody); err != nil {
		return nil, fmt.Errorf("csession: send auth request: %w", err)
	}

	timer := time.NewTimer(s.timers.Resp)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, apperr.New(apperr.KindTransientStorage, "csession: T_resp expired in state %s", s.State())
		case f := <-frameCh:
			if f.err != nil {
				return nil, f.err
			}
			if f.h.MessageID != wire.MsgResSysCon {
				s.logger.Debug("ignoring unexpected message during handshake", zap.String("message_id", f.h.MessageID.String()))
				continue
			}
			env, err := capxml.Unmarshal(f.body)
			if err != nil {
				return nil, fmt.Errorf("csession: parse auth response: %w", err)
			}

			switch s.State() {
			case StateAwaitingChallenge:
				if env.ResultCode != "401" {
					return nil, fmt.Errorf("csession: unexpected resultCode %q awaiting challenge", env.ResultCode)
				}
				response := digest.Challenge(s.cfg.DestID, env.Realm, s.cfg.Password, env.Nonce)
				respBody, err := capxml.Marshal(capxml.Envelope{
					DestID:   s.cfg.DestID,
					Realm:    env.Realm,
					Nonce:    env.Nonce,
					Response: response,
				})
				if err != nil {
					return nil, fmt.Errorf("csession: build challenge response: %w", err)
				}
				if err := s.sendLocked(wire.Header{MessageID: wire.MsgReqSysCon, DataFormat: wire.DataFormatXML, MagicNumber: s.cfg.MagicNumber}, respBody); err != nil {
					return nil, fmt.Errorf("csession: send challenge response: %w", err)
				}
				s.setState(StateAwaitingAuthResult)
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(s.timers.Resp)

			case StateAwaitingAuthResult:
				switch env.ResultCode {
				case "200":
					s.setState(StateActive)
					s.logger.Info("cas session active", zap.String("dest_id", s.cfg.DestID))
					return frameCh, nil
				default:
					return nil, fmt.Errorf("csession: auth rejected, resultCode=%q", env.ResultCode)
				}

			default:
				return nil, fmt.Errorf("csession: unexpected state %s during handshake", s.State())
			}
		}
	}
}

// runActive owns the ACTIVE-state loop: periodic T_sess keepalive with a
// T_pong deadline, and inbound dispatch by message id. It returns when the
// connection fails or ctx is cancelled; the caller (Run) then reconnects.
func (s *Session) runActive(ctx context.Context, frameCh <-chan frameOrErr) {
	sessTicker := time.NewTicker(s.timers.Session)
	defer sessTicker.Stop()

	var pongTimer *time.Timer
	var pongC <-chan time.Time

	armPong := func() {
		pongTimer = time.NewTimer(s.timers.Pong)
		pongC = pongTimer.C
	}
	clearPong := func() {
		if pongTimer != nil {
			pongTimer.Stop()
		}
		pongTimer, pongC = nil, nil
	}
	defer clearPong()

	for {
		select {
		case <-ctx.Done():
			return

		case <-sessTicker.C:
			body, err := capxml.Marshal(capxml.Envelope{
				DestID: s.cfg.DestID,
				Cmd:    "alive",
				Time:   time.Now().Format("2006-01-02T15:04:05Z07:00"),
			})
			if err != nil {
				s.logger.Error("build keepalive failed", zap.Error(err))
				continue
			}
			if err := s.Send(wire.Header{MessageID: wire.MsgReqSysSts, DataFormat: wire.DataFormatXML, MagicNumber: s.cfg.MagicNumber}, body); err != nil {
				s.logger.Warn("keepalive send failed", zap.Error(err))
				return
			}
			armPong()

		case <-pongC:
			s.logger.Warn("T_pong expired, destroying cas connection")
			return

		case f := <-frameCh:
			if f.err != nil {
				s.logger.Warn("cas connection read error", zap.Error(f.err))
				return
			}
			s.dispatchActive(ctx, f, clearPong)
		}
	}
}

func (s *Session) dispatchActive(ctx context.Context, f frameOrErr, clearPong func()) {
	switch f.h.MessageID {
	case wire.MsgResSysSts:
		clearPong()
	case wire.MsgNfyDisInfo:
		ack := s.dispatch.HandleDisasterNotify(ctx, f.body)
		body, err := capxml.Marshal(ack)
		if err != nil {
			s.logger.Error("build disaster ack failed", zap.Error(err))
			return
		}
		if err := s.Send(wire.Header{MessageID: wire.MsgCnfDisInfo, DataFormat: wire.DataFormatXML, MagicNumber: s.cfg.MagicNumber}, body); err != nil {
			s.logger.Warn("send disaster ack failed", zap.Error(err))
		}
	case wire.MsgCnfDeviceInfo, wire.MsgCnfDeviceSts, wire.MsgResDisReport:
		s.dispatch.HandleReportAck(ctx, f.h.MessageID, f.body)
	case wire.MsgResSysCon:
		s.logger.Debug("ignoring unsolicited ETS_RES_SYS_CON while active")
	default:
		s.logger.Debug("ignoring unknown message id", zap.String("message_id", f.h.MessageID.String()))
	}
}

func (s *Session) readLoop(conn net.Conn, out chan<- frameOrErr) {
	d := wire.NewDeframer(conn, s.cfg.MagicNumber, s.maxBodyLength, func(err error) {
		s.logger.Warn("framing error, resuming", zap.Error(err))
	})
	for {
		h, body, err := d.Next()
		out <- frameOrErr{h: h, body: body, err: err}
		if err != nil {
			return
		}
	}
}
