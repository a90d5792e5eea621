package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"isswatch/internal/pass"
	"isswatch/internal/storage"
	kit "isswatch/internal/transport"
	logx "isswatch/pkg/logx"
)

// ChannelPass tags pass alerts for dedup keys and audit actions.
const ChannelPass = "pass"

// Sink is the pass.NotificationSink over Service. Permission means "at least
// one chat is subscribed"; subscriptions are grants in storage.
type Sink struct {
	svc      *Service
	store    storage.Store
	log      logx.Logger
	mu       sync.Mutex
	fallback kit.ChatTarget
	buttons  [][]kit.Button
}

var _ pass.NotificationSink = (*Sink)(nil)

// NewSink binds svc to the grants in store. fallback is the chat that
// RequestPermission subscribes when auto-grant is on; a zero ChatID disables
// that path.
func NewSink(svc *Service, store storage.Store, fallback kit.ChatTarget, log logx.Logger) *Sink {
	if log.IsZero() {
		log = logx.Nop()
	}
	if store == nil {
		store = storage.NewMemory()
	}
	return &Sink{
		svc:      svc,
		store:    store,
		log:      log.With(logx.String("comp", "notifier.sink")),
		fallback: fallback,
		buttons:  [][]kit.Button{{{Text: "Status", Data: "status"}, {Text: "Cancel", Data: "cancel"}}},
	}
}

// SetFallback replaces the auto-grant chat after a config reload.
func (k *Sink) SetFallback(t kit.ChatTarget) {
	k.mu.Lock()
	k.fallback = t
	k.mu.Unlock()
}

func (k *Sink) fallbackTarget() kit.ChatTarget {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.fallback
}

// Subscribers lists granted chats.
func (k *Sink) Subscribers(ctx context.Context) ([]kit.ChatTarget, error) {
	grants, err := k.store.Grants(ctx)
	if err != nil {
		return nil, fmt.Errorf("load grants: %w", err)
	}
	out := make([]kit.ChatTarget, 0, len(grants))
	for _, g := range grants {
		if g.Granted {
			out = append(out, kit.ChatTarget{ChatID: g.ChatID, ThreadID: g.ThreadID})
		}
	}
	return out, nil
}

func (k *Sink) Subscribe(ctx context.Context, t kit.ChatTarget) error {
	if t.ChatID == 0 {
		return errors.New("chat id is required")
	}
	if err := k.store.PutGrant(ctx, storage.Grant{ChatID: t.ChatID, ThreadID: t.ThreadID, Granted: true, UpdatedAt: time.Now()}); err != nil {
		return err
	}
	k.log.Info("chat subscribed", logx.Int64("chat_id", t.ChatID), logx.Int("thread_id", t.ThreadID))
	return nil
}

func (k *Sink) Unsubscribe(ctx context.Context, t kit.ChatTarget) error {
	if err := k.store.DeleteGrant(ctx, t.ChatID, t.ThreadID); err != nil {
		return err
	}
	k.log.Info("chat unsubscribed", logx.Int64("chat_id", t.ChatID), logx.Int("thread_id", t.ThreadID))
	return nil
}

func (k *Sink) PermissionGranted(ctx context.Context) (bool, error) {
	if !k.svc.Enabled() {
		return false, nil
	}
	subs, err := k.Subscribers(ctx)
	if err != nil {
		return false, err
	}
	return len(subs) > 0, nil
}

// RequestPermission grants the fallback chat when auto-grant is enabled.
// Otherwise a chat has to opt in with /subscribe first.
func (k *Sink) RequestPermission(ctx context.Context) (pass.Permission, error) {
	if !k.svc.Enabled() {
		return pass.PermissionDenied, nil
	}
	fb := k.fallbackTarget()
	if !k.svc.Config().AutoGrant || fb.ChatID == 0 {
		return pass.PermissionDenied, nil
	}
	if err := k.Subscribe(ctx, fb); err != nil {
		return pass.PermissionDenied, err
	}
	return pass.PermissionGranted, nil
}

// Send queues the alert for every subscriber. A failure for one chat does not
// stop the others.
func (k *Sink) Send(ctx context.Context, title, body string) error {
	subs, err := k.Subscribers(ctx)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		return errors.New("no subscribers")
	}
	text := formatAlert(title, body)
	var errs []error
	for _, t := range subs {
		err := k.svc.Notify(ctx, kit.Notification{
			Channel:  ChannelPass,
			Priority: 7,
			Target:   t,
			Text:     text,
			Options:  &kit.SendOptions{DisablePreview: true, Buttons: k.buttons},
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("chat %d: %w", t.ChatID, err))
		}
	}
	return errors.Join(errs...)
}

func formatAlert(title, body string) string {
	title, body = strings.TrimSpace(title), strings.TrimSpace(body)
	switch {
	case body == "":
		return title
	case title == "":
		return body
	default:
		return title + "\n" + body
	}
}
