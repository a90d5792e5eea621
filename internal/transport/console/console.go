// Package console is a transport for running without a chat platform:
// commands are read line by line from an input stream and replies are
// written to an output stream.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	kit "isswatch/internal/transport"
	logx "isswatch/pkg/logx"
)

// ChatID is the synthetic chat every console update belongs to.
const ChatID int64 = 1

type Adapter struct {
	in  io.Reader
	out io.Writer
	log logx.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	msgID  atomic.Int64
}

func New(in io.Reader, out io.Writer, log logx.Logger) *Adapter {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{in: in, out: out, log: log}
}

func (a *Adapter) Name() string { return "console" }

func (a *Adapter) Start(ctx context.Context, updates chan<- kit.Update) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.done != nil {
		return nil
	}
	if a.in == nil {
		return nil
	}
	cctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})
	done := a.done

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(a.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-cctx.Done():
				return
			}
		}
		close(lines)
	}()

	go func() {
		defer close(done)
		for {
			select {
			case <-cctx.Done():
				return
			case line, ok := <-lines:
				if !ok {
					a.log.Debug("console input closed")
					return
				}
				line = strings.TrimSpace(line)
				if line == "" {
					continue
				}
				up := kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
					ID:     int(a.msgID.Add(1)),
					ChatID: ChatID,
					FromID: ChatID,
					Text:   line,
				}}
				select {
				case updates <- up:
				case <-cctx.Done():
					return
				}
			}
		}
	}()
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel, a.done = nil, nil
	a.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s\n", time.Now().Format("15:04:05"), text)
	if opt != nil {
		for _, row := range opt.Buttons {
			labels := make([]string, 0, len(row))
			for _, btn := range row {
				labels = append(labels, "["+btn.Text+": "+btn.Data+"]")
			}
			b.WriteString("  " + strings.Join(labels, " ") + "\n")
		}
	}
	a.mu.Lock()
	_, err := io.WriteString(a.out, b.String())
	a.mu.Unlock()
	if err != nil {
		return kit.MessageRef{}, err
	}
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: int(a.msgID.Add(1))}, nil
}

func (a *Adapter) AnswerCallback(context.Context, string, string) error { return nil }
