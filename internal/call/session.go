// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/jobportal/videocall/internal/backend"
	"github.com/jobportal/videocall/internal/constants"
	"github.com/jobportal/videocall/internal/media"
	"github.com/jobportal/videocall/internal/metric"
	"github.com/jobportal/videocall/internal/rtc"
	"github.com/jobportal/videocall/internal/signaling"
)

type Backend interface {
	StartCall(ctx context.Context, applicationID, token string) error
	EndCall(ctx context.Context, applicationID, token, reason string) error
}

// Channel is the signaling channel a session owns.
type Channel interface {
	On(t signaling.Type, fn func(signaling.Message)) func()
	OnStatus(fn func(signaling.Status)) func()
	Connect(ctx context.Context)
	Send(m signaling.Message) error
	Close() error
}

type ChannelFactory func(cfg signaling.Config) Channel

type PeerFactory func() (rtc.PeerConnection, error)

// NewSignalingChannel is the ChannelFactory backed by the websocket channel.
func NewSignalingChannel(cfg signaling.Config) Channel {
	return signaling.NewChannel(cfg)
}

type Options struct {
	ApplicationID string
	Credentials   backend.Credentials
	// Signaling is the channel template; token and room are filled in per
	// session.
	Signaling   signaling.Config
	Constraints media.Constraints

	RemoteVideoTimeout time.Duration
	ReconnectGrace     time.Duration
	OfferRetryDelay    time.Duration
	MaxOfferRetries    int
	EndCallTimeout     time.Duration

	Backend    Backend
	Devices    media.Devices
	NewChannel ChannelFactory
	NewPeer    PeerFactory
}

func (o *Options) applyDefaults() {
	if o.RemoteVideoTimeout <= 0 {
		o.RemoteVideoTimeout = constants.RemoteVideoTimeout
	}
	if o.ReconnectGrace <= 0 {
		o.ReconnectGrace = constants.ReconnectGracePeriod
	}
	if o.OfferRetryDelay <= 0 {
		o.OfferRetryDelay = constants.OfferRetryDelay
	}
	if o.MaxOfferRetries <= 0 {
		o.MaxOfferRetries = constants.MaxOfferRetries
	}
	if o.EndCallTimeout <= 0 {
		o.EndCallTimeout = constants.EndCallTimeout
	}
	if o.Constraints == (media.Constraints{}) {
		o.Constraints = media.DefaultConstraints()
	}
	if o.NewChannel == nil {
		o.NewChannel = NewSignalingChannel
	}
}

// Session is one call attempt for a job application. All state is owned by
// a single event loop goroutine; callbacks from signaling, the peer
// connection, timers and public methods are posted to it. A session is never
// restarted: Retry builds a new one.
type Session struct {
	id     string
	opts   Options
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	events    chan func()
	closing   chan struct{}
	closeOnce sync.Once
	done      chan struct{}
	started   atomic.Bool

	media *media.Manager

	levelMu sync.Mutex
	level   rtc.LevelReporter

	snap      atomic.Pointer[Snapshot]
	watchMu   sync.Mutex
	watchers  map[int]chan Snapshot
	nextWatch int
	watchDone bool

	// Owned by the event loop.
	state         State
	stopped       bool
	beganAt       time.Time
	startedAt     time.Time
	endedAt       time.Time
	channel       Channel
	unsubscribe   []func()
	pc            rtc.PeerConnection
	initiator     bool
	mediaReady    bool
	signalingUp   bool
	registered    bool
	offline       bool
	connectedOnce bool
	everConnected bool
	accepted      bool

	offerRequested bool
	offerPending   bool
	offerAttempts  int
	localOffer     webrtc.SessionDescription
	pendingOffer   *signaling.Offer
	candidates     []webrtc.ICECandidateInit
	outbox         []signaling.Message

	remoteTracks        []string
	remoteVideo         bool
	remoteScreenSharing bool
	retryAvailable      bool
	message             string
	err                 error

	offerTimer *time.Timer
	videoTimer *time.Timer
	graceTimer *time.Timer
}

func New(opts Options) *Session {
	opts.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()

	s := &Session{
		id:       id,
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
		events:   make(chan func(), 64),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
		watchers: make(map[int]chan Snapshot),
		logger: slog.With(
			"component", "call",
			"application_id", opts.ApplicationID,
			"session_id", id,
		),
	}
	s.media = media.NewManager(opts.Devices, func() {
		s.post(s.screenShareEnded)
	})
	s.publish()

	go s.loop()
	return s
}

func (s *Session) ID() string            { return s.id }
func (s *Session) ApplicationID() string { return s.opts.ApplicationID }

// Done is closed once the session is torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

// Start acquires media, connects signaling and registers the call. It
// returns once the work is under way; progress is reported via Watch.
func (s *Session) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	metric.SessionStarted()
	return s.call(ctx, func() error {
		s.begin()
		return nil
	})
}

// End notifies the peer and the backend, then releases signaling, the peer
// connection and the devices, in that order. Ending an ended session is a
// no-op.
func (s *Session) End(ctx context.Context, reason string) error {
	err := s.call(ctx, func() error {
		s.end(reason)
		return nil
	})
	if err != nil && !errors.Is(err, ErrSessionClosed) {
		return err
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Retry tears this session down completely and starts a fresh one for the
// same application.
func (s *Session) Retry(ctx context.Context) (*Session, error) {
	if err := s.End(ctx, ReasonRetry); err != nil {
		return nil, fmt.Errorf("ending previous session: %w", err)
	}

	next := New(s.opts)
	if err := next.Start(ctx); err != nil {
		next.End(context.Background(), ReasonRetry)
		return nil, err
	}
	s.logger.Info("call retried", "next_session_id", next.id)
	return next, nil
}

func (s *Session) ToggleMute(ctx context.Context) error {
	return s.call(ctx, func() error {
		if !s.mediaReady {
			return ErrMediaNotReady
		}
		if err := s.media.SetMicrophoneEnabled(!s.media.MicrophoneEnabled()); err != nil {
			return err
		}
		s.publish()
		return nil
	})
}

// ToggleCamera has no effect while the screen is shared.
func (s *Session) ToggleCamera(ctx context.Context) error {
	return s.call(ctx, func() error {
		if !s.mediaReady {
			return ErrMediaNotReady
		}
		if s.media.ScreenSharing() {
			return nil
		}
		if err := s.media.SetCameraEnabled(!s.media.CameraEnabled()); err != nil {
			return err
		}
		s.publish()
		return nil
	})
}

func (s *Session) ToggleScreenShare(ctx context.Context) error {
	var sharing bool
	err := s.call(ctx, func() error {
		if !s.mediaReady {
			return ErrMediaNotReady
		}
		sharing = s.media.ScreenSharing()
		return nil
	})
	if err != nil {
		return err
	}

	if sharing {
		return s.call(ctx, func() error {
			if err := s.media.StopScreenShare(); err != nil {
				return err
			}
			s.sendSignal(signaling.ScreenShareStopped{
				ApplicationID: s.opts.ApplicationID,
				Presenter:     s.opts.Credentials.UserID,
			})
			s.publish()
			return nil
		})
	}

	// display capture blocks, keep it off the loop
	if _, err := s.media.StartScreenShare(); err != nil {
		return err
	}
	return s.call(ctx, func() error {
		s.sendSignal(signaling.ScreenShareStarted{
			ApplicationID: s.opts.ApplicationID,
			Presenter:     s.opts.Credentials.UserID,
		})
		s.publish()
		return nil
	})
}

// ReconnectSignaling restarts the signaling channel after it went offline.
func (s *Session) ReconnectSignaling(ctx context.Context) error {
	return s.call(ctx, func() error {
		if s.channel == nil || !s.offline {
			return nil
		}
		s.logger.Info("reconnecting signaling on request")
		s.offline = false
		if s.message == msgOffline {
			s.message = ""
		}
		s.channel.Connect(s.ctx)
		s.publish()
		return nil
	})
}

func (s *Session) Snapshot() Snapshot {
	return s.snap.Load().at(time.Now(), s.remoteLevel())
}

// Watch returns a channel carrying the latest snapshot after every change.
// Slow readers only see the most recent one. The channel is closed when the
// session is torn down or the returned func is called.
func (s *Session) Watch() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	ch <- s.Snapshot()

	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if s.watchDone {
		close(ch)
		return ch, func() {}
	}
	id := s.nextWatch
	s.nextWatch++
	s.watchers[id] = ch

	return ch, func() {
		s.watchMu.Lock()
		defer s.watchMu.Unlock()
		if c, ok := s.watchers[id]; ok {
			delete(s.watchers, id)
			close(c)
		}
	}
}

func (s *Session) loop() {
	defer s.finish()
	for !s.stopped {
		fn := <-s.events
		fn()
	}
}

func (s *Session) finish() {
	close(s.done)

	s.watchMu.Lock()
	s.watchDone = true
	for id, ch := range s.watchers {
		close(ch)
		delete(s.watchers, id)
	}
	s.watchMu.Unlock()

	if s.started.Load() {
		metric.SessionClosed()
	}
	s.logger.Info("call session closed", "state", s.state.String())
}

// post queues fn on the event loop. It reports false, dropping fn, once the
// session is closing.
func (s *Session) post(fn func()) bool {
	select {
	case <-s.closing:
		return false
	default:
	}
	select {
	case s.events <- fn:
		return true
	case <-s.closing:
		return false
	case <-s.done:
		return false
	}
}

func (s *Session) call(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	if !s.post(func() { errc <- fn() }) {
		return ErrSessionClosed
	}
	select {
	case err := <-errc:
		return err
	case <-s.done:
		select {
		case err := <-errc:
			return err
		default:
			return ErrSessionClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) afterFunc(d time.Duration, fn func()) *time.Timer {
	return time.AfterFunc(d, func() { s.post(fn) })
}

func stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func (s *Session) begin() {
	s.beganAt = time.Now()
	s.logger.Info("starting call session", "role", s.opts.Credentials.Role)
	metric.RecordTransition(s.state.String())

	go func() {
		stream, err := s.media.AcquireLocalMedia(s.opts.Constraints)
		s.post(func() { s.mediaAcquired(stream, err) })
	}()

	cfg := s.opts.Signaling
	cfg.Token = s.opts.Credentials.Token
	cfg.Room = signaling.Room{
		ApplicationID: s.opts.ApplicationID,
		UserID:        s.opts.Credentials.UserID,
		Role:          s.opts.Credentials.Role,
	}
	s.channel = s.opts.NewChannel(cfg)
	for _, t := range signaling.InboundTypes {
		s.unsubscribe = append(s.unsubscribe, s.channel.On(t, func(m signaling.Message) {
			s.post(func() { s.handleMessage(m) })
		}))
	}
	s.unsubscribe = append(s.unsubscribe, s.channel.OnStatus(func(st signaling.Status) {
		s.post(func() { s.handleStatus(st) })
	}))
	s.channel.Connect(s.ctx)

	go func() {
		err := s.opts.Backend.StartCall(s.ctx, s.opts.ApplicationID, s.opts.Credentials.Token)
		s.post(func() { s.callRegistered(err) })
	}()
}

func (s *Session) mediaAcquired(stream *media.Stream, err error) {
	if err != nil {
		s.fail(err)
		return
	}

	pc, err := s.opts.NewPeer()
	if err != nil {
		s.fail(fmt.Errorf("create peer connection: %w", err))
		return
	}
	s.pc = pc
	if lr, ok := pc.(rtc.LevelReporter); ok {
		s.levelMu.Lock()
		s.level = lr
		s.levelMu.Unlock()
	}

	pc.OnICECandidate(func(c webrtc.ICECandidateInit) {
		s.post(func() {
			s.sendSignal(signaling.ICECandidate{
				ApplicationID: s.opts.ApplicationID,
				Candidate:     c,
				From:          s.opts.Credentials.UserID,
			})
		})
	})
	pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		s.post(func() { s.handlePeerState(st) })
	})
	pc.OnTrack(func(t rtc.RemoteTrack) {
		kind := t.Kind()
		s.post(func() { s.handleRemoteTrack(kind) })
	})

	for _, t := range stream.Tracks() {
		sender, err := pc.AddTrack(t.Local())
		if err != nil {
			s.fail(fmt.Errorf("add %s track: %w", t.Kind(), err))
			return
		}
		if t.Kind() == webrtc.RTPCodecTypeVideo {
			s.media.BindVideoSender(sender)
		}
	}

	s.mediaReady = true
	s.publish()

	if s.pendingOffer != nil {
		o := *s.pendingOffer
		s.pendingOffer = nil
		s.handleOffer(o)
	}
	s.maybeRing()
}

func (s *Session) callRegistered(err error) {
	switch {
	case err == nil:
		s.initiator = true
	case errors.Is(err, backend.ErrCallExists):
		s.logger.Info("call already exists, joining it")
		s.initiator = false
	case errors.Is(err, backend.ErrUnauthorized):
		s.fail(fmt.Errorf("%w: %w", ErrReauthRequired, err))
		return
	default:
		s.fail(fmt.Errorf("%w: %w", ErrBackendUnavailable, err))
		return
	}
	s.registered = true
	s.maybeRing()
}

func (s *Session) maybeRing() {
	if s.state != StateInitializing || !s.mediaReady || !s.signalingUp || !s.registered {
		return
	}
	s.startedAt = time.Now()
	s.setState(StateRinging)

	if s.initiator || s.offerRequested {
		s.sendOffer(false)
		return
	}
	s.sendSignal(signaling.RequestOffer{
		ApplicationID: s.opts.ApplicationID,
		UserID:        s.opts.Credentials.UserID,
	})
}

func (s *Session) handleStatus(st signaling.Status) {
	metric.RecordSignalingStatus(st.String())

	switch st {
	case signaling.StatusConnected:
		s.signalingUp = true
		s.offline = false
		if s.message == msgOffline {
			s.message = ""
		}
		s.flushOutbox()
		s.transmitOffer()
		s.maybeRing()
		s.publish()
	case signaling.StatusDisconnected:
		s.logger.Warn("signaling disconnected, reconnecting")
	case signaling.StatusConnectError:
		s.logger.Debug("signaling connect attempt failed")
	case signaling.StatusOffline:
		s.logger.Warn("signaling offline")
		s.offline = true
		s.message = msgOffline
		s.publish()
	}
}

// sendSignal queues m when the channel is down; the queue is flushed on the
// next connect.
func (s *Session) sendSignal(m signaling.Message) {
	if s.channel == nil {
		return
	}
	err := s.channel.Send(m)
	switch {
	case err == nil:
	case errors.Is(err, signaling.ErrNotConnected):
		s.outbox = append(s.outbox, m)
	default:
		s.logger.Warn("failed to send signaling message", "event", m.Type(), "error", err)
	}
}

func (s *Session) flushOutbox() {
	queued := s.outbox
	s.outbox = nil
	for _, m := range queued {
		s.sendSignal(m)
	}
}

func (s *Session) sendOffer(iceRestart bool) {
	if s.pc == nil {
		s.offerRequested = true
		return
	}

	switch s.pc.SignalingState() {
	case webrtc.SignalingStateHaveLocalOffer:
		if !iceRestart {
			s.transmitOffer()
			return
		}
		if err := s.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}); err != nil {
			s.logger.Warn("failed to roll back local offer", "error", err)
			return
		}
	case webrtc.SignalingStateStable:
	default:
		s.logger.Debug("negotiation in progress, not offering", "signaling_state", s.pc.SignalingState().String())
		return
	}

	offer, err := s.pc.CreateOffer(iceRestart)
	if err != nil {
		s.logger.Warn("failed to create offer", "error", err)
		return
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		s.logger.Warn("failed to set local offer", "error", err)
		return
	}

	s.offerRequested = false
	s.localOffer = offer
	s.offerPending = true
	s.offerAttempts = 0
	s.transmitOffer()
}

// transmitOffer sends the pending local offer. While signaling is down it
// retries on a timer and again on the next connect.
func (s *Session) transmitOffer() {
	if !s.offerPending || s.channel == nil {
		return
	}
	stopTimer(&s.offerTimer)

	err := s.channel.Send(signaling.Offer{
		ApplicationID: s.opts.ApplicationID,
		Offer:         s.localOffer,
		From:          s.opts.Credentials.UserID,
	})
	if err == nil {
		s.logger.Debug("offer sent")
		s.offerAttempts = 0
		return
	}
	if !errors.Is(err, signaling.ErrNotConnected) {
		s.logger.Warn("failed to send offer", "error", err)
		return
	}
	if s.offerAttempts >= s.opts.MaxOfferRetries {
		s.logger.Warn("offer not delivered, waiting for signaling to reconnect", "attempts", s.offerAttempts)
		return
	}
	s.offerAttempts++
	s.offerTimer = s.afterFunc(s.opts.OfferRetryDelay, s.transmitOffer)
}

func (s *Session) clearOffer() {
	s.offerPending = false
	s.offerAttempts = 0
	stopTimer(&s.offerTimer)
}

func (s *Session) fromSelf(from string) bool {
	return from != "" && from == s.opts.Credentials.UserID
}

func (s *Session) handleMessage(m signaling.Message) {
	if m.Room() != s.opts.ApplicationID || s.state.Terminal() {
		return
	}

	switch m := m.(type) {
	case signaling.Offer:
		if !s.fromSelf(m.From) {
			s.handleOffer(m)
		}
	case signaling.Answer:
		if !s.fromSelf(m.From) {
			s.handleAnswer(m)
		}
	case signaling.ICECandidate:
		if !s.fromSelf(m.From) {
			s.handleCandidate(m.Candidate)
		}
	case signaling.RequestOffer:
		if s.fromSelf(m.UserID) {
			return
		}
		if s.state == StateInitializing {
			s.offerRequested = true
			return
		}
		s.sendOffer(false)
	case signaling.CallAccepted:
		if !s.fromSelf(m.From) && (s.state == StateRinging || s.state == StateConnecting) {
			s.markConnected()
		}
	case signaling.CallRejected:
		if !s.fromSelf(m.From) && (s.state == StateRinging || s.state == StateConnecting) {
			s.reject(m.Reason)
		}
	case signaling.CallEnded:
		s.remoteEnded(m.Reason)
	case signaling.ScreenShareStarted:
		if !s.fromSelf(m.Presenter) {
			s.remoteScreenSharing = true
			s.publish()
		}
	case signaling.ScreenShareStopped:
		if !s.fromSelf(m.Presenter) {
			s.remoteScreenSharing = false
			s.publish()
		}
	}
}

func (s *Session) handleOffer(o signaling.Offer) {
	if s.pc == nil {
		s.pendingOffer = &o
		return
	}

	if s.pc.SignalingState() == webrtc.SignalingStateHaveLocalOffer {
		// the initiator keeps its own offer, the joiner yields
		if s.initiator {
			s.logger.Debug("ignoring colliding offer")
			return
		}
		s.logger.Info("offer collision, rolling back local offer")
		if err := s.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}); err != nil {
			s.logger.Warn("failed to roll back local offer", "error", err)
			return
		}
		s.clearOffer()
	}

	if err := s.pc.SetRemoteDescription(o.Offer); err != nil {
		s.logger.Warn("failed to apply remote offer", "error", err)
		return
	}
	s.applyCandidates()

	answer, err := s.pc.CreateAnswer()
	if err != nil {
		s.logger.Warn("failed to create answer", "error", err)
		return
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		s.logger.Warn("failed to set local answer", "error", err)
		return
	}

	s.sendSignal(signaling.Answer{
		ApplicationID: s.opts.ApplicationID,
		Answer:        answer,
		To:            o.From,
		From:          s.opts.Credentials.UserID,
	})
	if !s.accepted {
		s.accepted = true
		s.sendSignal(signaling.CallAccepted{
			ApplicationID: s.opts.ApplicationID,
			From:          s.opts.Credentials.UserID,
		})
	}
	s.negotiating()
}

// handleAnswer ignores answers that arrive without a pending local offer;
// duplicates are expected around reconnects.
func (s *Session) handleAnswer(a signaling.Answer) {
	if s.pc == nil {
		return
	}
	if st := s.pc.SignalingState(); st != webrtc.SignalingStateHaveLocalOffer {
		s.logger.Debug("ignoring answer", "signaling_state", st.String())
		return
	}
	if err := s.pc.SetRemoteDescription(a.Answer); err != nil {
		s.logger.Warn("failed to apply remote answer", "error", err)
		return
	}
	s.clearOffer()
	s.applyCandidates()
	s.negotiating()
}

// handleCandidate holds candidates until a remote description exists.
func (s *Session) handleCandidate(c webrtc.ICECandidateInit) {
	if s.pc == nil || s.pc.RemoteDescription() == nil {
		s.candidates = append(s.candidates, c)
		return
	}
	if err := s.pc.AddICECandidate(c); err != nil {
		s.logger.Debug("ignoring ICE candidate", "error", err)
	}
}

func (s *Session) applyCandidates() {
	queued := s.candidates
	s.candidates = nil
	for _, c := range queued {
		if err := s.pc.AddICECandidate(c); err != nil {
			s.logger.Debug("ignoring queued ICE candidate", "error", err)
		}
	}
}

func (s *Session) negotiating() {
	if s.state == StateRinging {
		s.setState(StateConnecting)
	}
}

func (s *Session) handlePeerState(st webrtc.PeerConnectionState) {
	if s.state.Terminal() {
		return
	}
	s.logger.Debug("peer connection state changed", "state", st.String())

	switch st {
	case webrtc.PeerConnectionStateConnecting:
		s.negotiating()
	case webrtc.PeerConnectionStateConnected:
		s.everConnected = true
		stopTimer(&s.graceTimer)
		s.markConnected()
	case webrtc.PeerConnectionStateDisconnected:
		if s.state == StateConnected {
			s.setState(StateReconnecting)
			s.startGrace()
		}
	case webrtc.PeerConnectionStateFailed:
		if !s.everConnected {
			s.fail(ErrConnectionFailed)
			return
		}
		if s.state == StateConnected {
			s.setState(StateReconnecting)
		}
		s.startGrace()
		s.renegotiate()
	}
}

func (s *Session) markConnected() {
	if s.state == StateConnected || s.state.Terminal() {
		return
	}
	s.setState(StateConnected)
	if !s.connectedOnce {
		s.connectedOnce = true
		metric.ObserveCallSetup(time.Since(s.beganAt))
	}
	if !s.remoteVideo && s.videoTimer == nil {
		s.videoTimer = s.afterFunc(s.opts.RemoteVideoTimeout, s.remoteVideoTimedOut)
	}
}

func (s *Session) startGrace() {
	if s.graceTimer == nil {
		s.graceTimer = s.afterFunc(s.opts.ReconnectGrace, s.graceExpired)
	}
}

func (s *Session) graceExpired() {
	s.graceTimer = nil
	if s.state == StateReconnecting {
		s.fail(ErrConnectionLost)
	}
}

func (s *Session) renegotiate() {
	if s.initiator {
		s.logger.Info("restarting ICE")
		s.sendOffer(true)
		return
	}
	s.sendSignal(signaling.RequestOffer{
		ApplicationID: s.opts.ApplicationID,
		UserID:        s.opts.Credentials.UserID,
	})
}

func (s *Session) handleRemoteTrack(kind webrtc.RTPCodecType) {
	if s.state.Terminal() {
		return
	}
	if name := kind.String(); !slices.Contains(s.remoteTracks, name) {
		s.remoteTracks = append(s.remoteTracks, name)
	}
	if kind == webrtc.RTPCodecTypeVideo {
		s.remoteVideo = true
		stopTimer(&s.videoTimer)
		s.retryAvailable = false
		if s.message == msgNoRemoteVideo {
			s.message = ""
		}
	}
	s.publish()
}

func (s *Session) remoteVideoTimedOut() {
	s.videoTimer = nil
	if s.remoteVideo || s.state.Terminal() {
		return
	}
	s.logger.Warn("no remote video within timeout", "timeout", s.opts.RemoteVideoTimeout)
	s.retryAvailable = true
	s.message = msgNoRemoteVideo
	s.publish()
}

func (s *Session) screenShareEnded() {
	s.sendSignal(signaling.ScreenShareStopped{
		ApplicationID: s.opts.ApplicationID,
		Presenter:     s.opts.Credentials.UserID,
	})
	s.publish()
}

func (s *Session) end(reason string) {
	if s.state.Terminal() {
		return
	}
	s.beginClosing()

	if s.channel != nil {
		if err := s.channel.Send(signaling.CallEnded{ApplicationID: s.opts.ApplicationID, Reason: reason}); err != nil {
			s.logger.Debug("could not tell peer the call ended", "error", err)
		}
	}
	if s.registered {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.EndCallTimeout)
		if err := s.opts.Backend.EndCall(ctx, s.opts.ApplicationID, s.opts.Credentials.Token, reason); err != nil {
			s.logger.Warn("failed to notify backend of call end", "error", err)
		}
		cancel()
	}

	s.teardown()
	s.message = msgEnded
	s.setState(StateEnded)
}

func (s *Session) remoteEnded(reason string) {
	s.logger.Info("call ended by peer", "reason", reason)
	s.teardown()
	s.message = msgEnded
	s.setState(StateEnded)
}

func (s *Session) reject(reason string) {
	s.logger.Info("call rejected", "reason", reason)
	s.teardown()
	s.message = msgRejected
	if reason != "" {
		s.message = fmt.Sprintf("%s (%s)", msgRejected, reason)
	}
	s.setState(StateRejected)
}

func (s *Session) fail(err error) {
	if s.state.Terminal() {
		return
	}
	s.logger.Error("call failed", "error", err)
	s.err = err
	s.teardown()
	s.message = UserMessage(err)
	s.setState(StateFailed)
}

func (s *Session) beginClosing() {
	s.closeOnce.Do(func() { close(s.closing) })
}

// teardown releases signaling, then the peer connection, then the devices.
// The event loop exits after the current event.
func (s *Session) teardown() {
	if s.stopped {
		return
	}
	s.beginClosing()
	s.cancel()

	stopTimer(&s.offerTimer)
	stopTimer(&s.videoTimer)
	stopTimer(&s.graceTimer)

	for _, unsubscribe := range s.unsubscribe {
		unsubscribe()
	}
	s.unsubscribe = nil
	if s.channel != nil {
		if err := s.channel.Close(); err != nil {
			s.logger.Debug("closing signaling channel", "error", err)
		}
	}
	if s.pc != nil {
		if err := s.pc.Close(); err != nil {
			s.logger.Debug("closing peer connection", "error", err)
		}
	}
	s.media.Release()

	s.candidates = nil
	s.outbox = nil
	s.endedAt = time.Now()
	s.stopped = true
}

func (s *Session) setState(st State) {
	if s.state == st {
		return
	}
	s.logger.Info("call state changed", "from", s.state.String(), "to", st.String())
	s.state = st
	metric.RecordTransition(st.String())
	s.publish()
}

func (s *Session) remoteLevel() float64 {
	s.levelMu.Lock()
	defer s.levelMu.Unlock()
	if s.level == nil {
		return 0
	}
	return s.level.Level()
}

func (s *Session) publish() {
	snap := &Snapshot{
		SessionID:             s.id,
		ApplicationID:         s.opts.ApplicationID,
		State:                 s.state,
		StartedAt:             s.startedAt,
		MicEnabled:            s.media.MicrophoneEnabled(),
		CameraEnabled:         s.media.CameraEnabled(),
		CameraControlDisabled: s.media.ScreenSharing(),
		ScreenSharing:         s.media.ScreenSharing(),
		RemoteScreenSharing:   s.remoteScreenSharing,
		RemoteTracks:          append([]string(nil), s.remoteTracks...),
		RemoteStreamReady:     s.remoteVideo,
		Offline:               s.offline,
		RetryAvailable:        s.retryAvailable,
		Message:               s.message,
		endedAt:               s.endedAt,
	}
	if s.err != nil {
		snap.Error = s.err.Error()
	}
	s.snap.Store(snap)

	current := snap.at(time.Now(), s.remoteLevel())
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	for _, ch := range s.watchers {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- current:
		default:
		}
	}
}
