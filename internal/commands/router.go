// Package commands routes chat messages and inline-button callbacks to
// command handlers.
//
// A message "/name arg..." runs the command registered under name or one of
// its aliases. Callback data uses the same syntax without the slash, so a
// button with Data "status" behaves like typing /status.
package commands

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	rtsup "isswatch/internal/runtime/supervisor"
	"isswatch/internal/storage"
	kit "isswatch/internal/transport"
	logx "isswatch/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	// AccessOwnerOnly restricts a command to telegram.owner_user_ids. With no
	// owners configured everyone counts as an owner.
	AccessOwnerOnly
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	// Audited commands are written to the storage audit log.
	Audited bool
	Timeout time.Duration
	Handle  HandlerFunc
}

type Request struct {
	Update       kit.Update
	Chat         kit.ChatTarget
	FromID       int64
	FromUsername string
	Command      string
	Args         []string
	ReqID        string
	Log          logx.Logger

	adapter kit.Adapter
}

// Reply sends text to the chat the request came from.
func (r *Request) Reply(ctx context.Context, text string, opt *kit.SendOptions) error {
	if opt == nil {
		opt = &kit.SendOptions{DisablePreview: true}
	}
	_, err := r.adapter.SendText(ctx, r.Chat, text, opt)
	return err
}

type Router struct {
	log     logx.Logger
	adapter kit.Adapter
	store   storage.Store

	mu     sync.RWMutex
	cmds   map[string]*Command
	alias  map[string]string
	order  []string
	owners []int64

	jobs    chan func(context.Context)
	workers int
}

func NewRouter(adapter kit.Adapter, store storage.Store, owners []int64, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{
		log:     log.With(logx.String("comp", "commands")),
		adapter: adapter,
		store:   store,
		cmds:    map[string]*Command{},
		alias:   map[string]string{},
		owners:  append([]int64(nil), owners...),
		jobs:    make(chan func(context.Context), 64),
		workers: 2,
	}
	r.Register(Command{
		Name:        "help",
		Aliases:     []string{"start", "h"},
		Description: "list commands",
		Usage:       "/help",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, r.helpText(), nil)
		},
	})
	return r
}

// Register adds or replaces commands.
func (r *Router) Register(cmds ...Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		cc := c
		cc.Name = name
		if _, exists := r.cmds[name]; !exists {
			r.order = append(r.order, name)
		}
		r.cmds[name] = &cc
		for _, a := range c.Aliases {
			if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
				r.alias[a] = name
			}
		}
	}
}

// Commands lists registered commands in registration order.
func (r *Router) Commands() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Command, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, *r.cmds[n])
	}
	return out
}

func (r *Router) SetOwners(owners []int64) {
	r.mu.Lock()
	r.owners = append([]int64(nil), owners...)
	r.mu.Unlock()
}

func (r *Router) isOwner(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.owners) == 0 || slices.Contains(r.owners, id)
}

func (r *Router) lookup(word string) (*Command, bool) {
	word = strings.ToLower(word)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.cmds[word]; ok {
		return c, true
	}
	if n, ok := r.alias[word]; ok {
		return r.cmds[n], true
	}
	return nil, false
}

// UpdateMenu pushes the command list to adapters that show a command menu.
func (r *Router) UpdateMenu(ctx context.Context) error {
	up, ok := r.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return nil
	}
	var menu []kit.BotCommand
	for _, c := range r.Commands() {
		menu = append(menu, kit.BotCommand{Command: c.Name, Description: c.Description})
	}
	return up.UpdateMenuCommands(ctx, menu)
}

// Run dispatches updates to a small worker pool until ctx ends or updates is
// closed.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx, rtsup.WithLogger(r.log), rtsup.WithCancelOnError(false))
	for i := 0; i < r.workers; i++ {
		sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return c.Err()
				case job := <-r.jobs:
					job(c)
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	r.log.Info("command dispatcher started", logx.Int("workers", r.workers))
	defer func() {
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = sup.Stop(wctx)
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			job := r.prepare(up)
			if job == nil {
				continue
			}
			select {
			case r.jobs <- job:
			default:
				r.busy(ctx, up)
			}
		}
	}
}

// Handle runs one update inline.
func (r *Router) Handle(ctx context.Context, up kit.Update) {
	if job := r.prepare(up); job != nil {
		job(ctx)
	}
}

func (r *Router) busy(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		_, _ = r.adapter.SendText(ctx, kit.ChatTarget{ChatID: up.Message.ChatID, ThreadID: up.Message.ThreadID}, "busy, try again", nil)
	case kit.UpdateCallback:
		_ = r.adapter.AnswerCallback(ctx, up.Callback.ID, "busy")
	}
}

// prepare resolves an update to a runnable job, or nil when there is nothing
// to do.
func (r *Router) prepare(up kit.Update) func(context.Context) {
	var (
		line   string
		chat   kit.ChatTarget
		fromID int64
		fromUN string
		cbID   string
	)
	switch {
	case up.Kind == kit.UpdateMessage && up.Message != nil:
		line = strings.TrimSpace(up.Message.Text)
		if !strings.HasPrefix(line, "/") {
			return nil
		}
		line = line[1:]
		chat = kit.ChatTarget{ChatID: up.Message.ChatID, ThreadID: up.Message.ThreadID}
		fromID, fromUN = up.Message.FromID, up.Message.FromUsername
	case up.Kind == kit.UpdateCallback && up.Callback != nil:
		line = strings.TrimSpace(up.Callback.Data)
		chat = kit.ChatTarget{ChatID: up.Callback.ChatID, ThreadID: up.Callback.ThreadID}
		fromID, cbID = up.Callback.FromID, up.Callback.ID
	default:
		return nil
	}

	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	word := fields[0]
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}

	answer := func(ctx context.Context, text string) {
		if cbID != "" {
			_ = r.adapter.AnswerCallback(ctx, cbID, text)
		}
	}

	cmd, ok := r.lookup(word)
	if !ok {
		return func(ctx context.Context) {
			answer(ctx, "unknown")
			_, _ = r.adapter.SendText(ctx, chat, "Unknown command. Try /help", nil)
		}
	}
	if cmd.Access == AccessOwnerOnly && !r.isOwner(fromID) {
		return func(ctx context.Context) {
			answer(ctx, "forbidden")
			_, _ = r.adapter.SendText(ctx, chat, "unauthorized", nil)
		}
	}

	rid := newReqID()
	req := &Request{
		Update:       up,
		Chat:         chat,
		FromID:       fromID,
		FromUsername: fromUN,
		Command:      cmd.Name,
		Args:         fields[1:],
		ReqID:        rid,
		adapter:      r.adapter,
		Log: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", chat.ChatID),
			logx.Int64("from_id", fromID),
			logx.String("cmd", cmd.Name),
		),
	}
	mw := []Middleware{Recover(), RequestLog()}
	if cmd.Audited {
		mw = append(mw, Audit(r.store))
	}
	mw = append(mw, WithTimeout(cmd.Timeout))
	h := Chain(cmd.Handle, mw...)

	return func(ctx context.Context) {
		answer(ctx, "")
		if err := h(ctx, req); err != nil {
			_ = req.Reply(ctx, "Error: "+err.Error(), nil)
		}
	}
}

func (r *Router) helpText() string {
	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, c := range r.Commands() {
		usage := c.Usage
		if usage == "" {
			usage = "/" + c.Name
		}
		fmt.Fprintf(&b, "%s - %s\n", usage, c.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

func newReqID() string {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("%x", time.Now().UnixNano())
	}
	return hex.EncodeToString(b[:])
}
