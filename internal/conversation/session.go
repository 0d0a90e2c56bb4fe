package conversation

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"mentorship-chat/internal/feed"
	"mentorship-chat/internal/models"
	"mentorship-chat/internal/observability"
)

// PendingSenderName labels the viewer's own messages until the sender lookup
// succeeds.
const PendingSenderName = "You"

const markReadTimeout = 10 * time.Second

var tracer = otel.Tracer("mentorship-chat/conversation")

// Store is the persistent message table.
type Store interface {
	ListMessages(ctx context.Context, connectionID string) ([]models.Message, error)
	CreateMessage(ctx context.Context, connectionID, senderID, content string) (models.Message, error)
	MarkRead(ctx context.Context, connectionID, readerID string, ids []string) (int64, error)
}

// Directory resolves sender ids to display names.
type Directory interface {
	DisplayNames(ctx context.Context, ids []string) (map[string]string, error)
}

// Feed hands out change feed subscriptions keyed by connection id.
type Feed interface {
	Subscribe(connectionID string) *feed.Subscription
}

// SessionConfig carries everything a session needs; nothing is read from globals.
type SessionConfig struct {
	ConnectionID string
	ViewerID     string
	Store        Store
	Directory    Directory
	Feed         Feed
	Logger       *zap.Logger

	// Now and NewLocalID default to time.Now and a temp-<uuid> generator.
	Now        func() time.Time
	NewLocalID func() string
}

// Session drives one open conversation view. All view mutations run on a
// single loop goroutine; store and directory calls run on the caller's
// goroutine (or the feed goroutine) and hand their results to the loop.
type Session struct {
	cfg SessionConfig
	log *zap.Logger

	view    View
	sending bool

	ops     chan func()
	changes chan struct{}
	sub     *feed.Subscription

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewSession subscribes to the connection's change feed and starts the loop.
// Feed events are held until Start has performed the initial load.
func NewSession(cfg SessionConfig) *Session {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewLocalID == nil {
		cfg.NewLocalID = func() string { return "temp-" + uuid.NewString() }
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:     cfg,
		log:     log.With(zap.String("connection_id", cfg.ConnectionID), zap.String("viewer_id", cfg.ViewerID)),
		ops:     make(chan func()),
		changes: make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	s.sub = cfg.Feed.Subscribe(cfg.ConnectionID)

	s.wg.Add(1)
	go s.loop()
	return s
}

// Start performs the initial load and then begins applying feed events. The
// feed is consumed even when the load fails so a later Load can recover.
func (s *Session) Start(ctx context.Context) error {
	err := s.Load(ctx)
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.consumeFeed()
	})
	return err
}

// Close tears down the subscription and stops the session's goroutines.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		close(s.done)
		s.cancel()
		s.sub.Close()
		s.wg.Wait()
	})
}

// Changes signals after every view mutation. Signals coalesce; read Entries
// after receiving one.
func (s *Session) Changes() <-chan struct{} {
	return s.changes
}

// Entries returns a snapshot of the view.
func (s *Session) Entries() []Entry {
	var out []Entry
	if err := s.do(func(v *View) bool {
		out = v.Entries()
		return false
	}); err != nil {
		return nil
	}
	return out
}

// Load fetches the whole thread and merges it into the view. Sends and feed
// inserts committed while the fetch was in flight survive the merge. Incoming
// unread messages are then marked read in the background.
func (s *Session) Load(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "conversation.load", trace.WithAttributes(attribute.String("connection_id", s.cfg.ConnectionID)))
	defer span.End()

	msgs, err := s.cfg.Store.ListMessages(ctx, s.cfg.ConnectionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		s.log.Warn("load messages failed", zap.Error(err))
		if doErr := s.do(func(v *View) bool {
			v.Reset(nil)
			return true
		}); doErr != nil {
			return doErr
		}
		return &StoreError{Op: "load", Err: err}
	}

	names := s.displayNames(ctx, distinctSenders(msgs))
	entries := make([]Entry, 0, len(msgs))
	var unread []string
	for _, m := range msgs {
		entries = append(entries, Entry{Ref: Durable(m.ID), Message: m, SenderName: names[m.SenderID]})
		if m.SenderID != s.cfg.ViewerID && !m.Read {
			unread = append(unread, m.ID)
		}
	}

	if err := s.do(func(v *View) bool {
		v.Merge(entries)
		return true
	}); err != nil {
		return err
	}
	span.SetAttributes(attribute.Int("messages", len(entries)))

	s.markRead(unread)
	return nil
}

// Send appends an optimistic entry, stores the message and swaps the entry for
// the stored row. Only one send may be in flight; a second call is rejected.
func (s *Session) Send(ctx context.Context, body string) (Entry, error) {
	text := strings.TrimSpace(body)
	if text == "" {
		observability.IncSend("rejected")
		return Entry{}, ErrEmptyBody
	}

	localID := s.cfg.NewLocalID()
	pending := Entry{
		Ref: Provisional(localID),
		Message: models.Message{
			ConnectionID: s.cfg.ConnectionID,
			SenderID:     s.cfg.ViewerID,
			Content:      text,
			CreatedAt:    s.cfg.Now(),
		},
		SenderName: PendingSenderName,
	}

	var busy bool
	if err := s.do(func(v *View) bool {
		if s.sending {
			busy = true
			return false
		}
		s.sending = true
		v.Append(pending)
		return true
	}); err != nil {
		return Entry{}, err
	}
	if busy {
		observability.IncSend("rejected")
		return Entry{}, ErrSendInFlight
	}

	ctx, span := tracer.Start(ctx, "conversation.send", trace.WithAttributes(attribute.String("connection_id", s.cfg.ConnectionID)))
	defer span.End()

	msg, err := s.cfg.Store.CreateMessage(ctx, s.cfg.ConnectionID, s.cfg.ViewerID, text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
		observability.IncSend("rolled_back")
		s.log.Warn("send failed, rolling back", zap.String("local_id", localID), zap.Error(err))
		if doErr := s.do(func(v *View) bool {
			s.sending = false
			_, removed := v.Remove(pending.Ref)
			return removed
		}); doErr != nil {
			return Entry{}, doErr
		}
		return Entry{}, &SendError{Body: text, Err: err}
	}

	name := s.displayNames(ctx, []string{s.cfg.ViewerID})[s.cfg.ViewerID]
	if name == "" {
		name = PendingSenderName
	}
	durable := Entry{Ref: Durable(msg.ID), Message: msg, SenderName: name}

	var outcome AckOutcome
	if err := s.do(func(v *View) bool {
		s.sending = false
		outcome = v.Acknowledge(localID, durable)
		return outcome != AckMissing
	}); err != nil {
		return Entry{}, err
	}
	if outcome == AckDeduplicated {
		s.log.Debug("feed echo arrived before insert ack", zap.String("message_id", msg.ID))
	}
	observability.IncSend("ok")
	span.SetAttributes(attribute.String("message_id", msg.ID))
	return durable, nil
}

// OnRemoteInsert applies a pushed insert. Rows already in the view, usually the
// echo of our own send, are discarded.
func (s *Session) OnRemoteInsert(ctx context.Context, msg models.Message) error {
	var present bool
	if err := s.do(func(v *View) bool {
		present = v.HasDurable(msg.ID)
		return false
	}); err != nil {
		return err
	}
	if present {
		observability.IncViewEvent("insert", "duplicate")
		return nil
	}

	name := s.displayNames(ctx, []string{msg.SenderID})[msg.SenderID]

	var applied bool
	if err := s.do(func(v *View) bool {
		applied = v.ApplyInsert(Entry{Ref: Durable(msg.ID), Message: msg, SenderName: name})
		return applied
	}); err != nil {
		return err
	}
	if !applied {
		observability.IncViewEvent("insert", "duplicate")
		return nil
	}
	observability.IncViewEvent("insert", "applied")

	if msg.SenderID != s.cfg.ViewerID && !msg.Read {
		s.markRead([]string{msg.ID})
	}
	return nil
}

// OnRemoteUpdate patches the read flag of a matching entry. Updates for rows
// not in the view are ignored.
func (s *Session) OnRemoteUpdate(msg models.Message) error {
	var found bool
	if err := s.do(func(v *View) bool {
		found = v.ApplyUpdate(msg)
		return found
	}); err != nil {
		return err
	}
	if found {
		observability.IncViewEvent("update", "applied")
	} else {
		observability.IncViewEvent("update", "miss")
	}
	return nil
}

func (s *Session) loop() {
	defer s.wg.Done()
	for {
		select {
		case op := <-s.ops:
			op()
		case <-s.done:
			return
		}
	}
}

// do runs fn on the loop goroutine and waits for it. fn reports whether it
// changed the view.
func (s *Session) do(fn func(v *View) bool) error {
	finished := make(chan struct{})
	op := func() {
		if fn(&s.view) {
			select {
			case s.changes <- struct{}{}:
			default:
			}
		}
		close(finished)
	}

	select {
	case s.ops <- op:
	case <-s.done:
		return ErrClosed
	}
	<-finished
	return nil
}

func (s *Session) consumeFeed() {
	defer s.wg.Done()
	events := s.sub.Events()
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Row.ConnectionID != s.cfg.ConnectionID {
				continue
			}
			var err error
			switch ev.Op {
			case models.OpInsert:
				err = s.OnRemoteInsert(s.ctx, ev.Row)
			case models.OpUpdate:
				err = s.OnRemoteUpdate(ev.Row)
			}
			if err != nil {
				return
			}
		}
	}
}

func (s *Session) displayNames(ctx context.Context, ids []string) map[string]string {
	if s.cfg.Directory == nil || len(ids) == 0 {
		return map[string]string{}
	}
	names, err := s.cfg.Directory.DisplayNames(ctx, ids)
	if err != nil {
		s.log.Warn("sender lookup failed", zap.Strings("sender_ids", ids), zap.Error(err))
		return map[string]string{}
	}
	return names
}

// markRead flags ids read without blocking the caller. Failures are logged.
// Close cancels and waits for outstanding calls.
func (s *Session) markRead(ids []string) {
	if len(ids) == 0 {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, markReadTimeout)
		defer cancel()
		if _, err := s.cfg.Store.MarkRead(ctx, s.cfg.ConnectionID, s.cfg.ViewerID, ids); err != nil {
			s.log.Warn("mark read failed", zap.Strings("message_ids", ids), zap.Error(err))
		}
	}()
}

func distinctSenders(msgs []models.Message) []string {
	seen := make(map[string]struct{}, len(msgs))
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if _, ok := seen[m.SenderID]; ok {
			continue
		}
		seen[m.SenderID] = struct{}{}
		ids = append(ids, m.SenderID)
	}
	return ids
}
