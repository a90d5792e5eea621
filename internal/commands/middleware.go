package commands

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"isswatch/internal/storage"
	logx "isswatch/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// Chain wraps h so that m[0] runs first.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func WithTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func Recover() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					req.Log.Error("panic recovered", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func RequestLog() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			d := time.Since(start)
			if err != nil {
				req.Log.Warn("command failed", logx.Duration("dur", d), logx.Err(err))
				return err
			}
			if d >= time.Second {
				req.Log.Info("command ok", logx.Duration("dur", d))
			} else {
				req.Log.Debug("command ok", logx.Duration("dur", d))
			}
			return nil
		}
	}
}

// Audit records the outcome of state-changing commands. A nil store turns it
// into a pass-through.
func Audit(store storage.Store) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if store == nil {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			err := next(ctx, req)
			e := storage.AuditEntry{
				At:            time.Now(),
				ActorID:       req.FromID,
				ActorUsername: req.FromUsername,
				ChatID:        req.Chat.ChatID,
				ThreadID:      req.Chat.ThreadID,
				Action:        "command." + req.Command,
				OK:            err == nil,
			}
			if err != nil {
				e.Error = err.Error()
			}
			actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
			defer cancel()
			if aerr := store.AppendAudit(actx, e); aerr != nil {
				req.Log.Debug("audit append failed", logx.Err(aerr))
			}
			return err
		}
	}
}
