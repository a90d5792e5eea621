package console

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	kit "isswatch/internal/transport"
	logx "isswatch/pkg/logx"
)

func TestConsoleRoundTrip(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	a := New(strings.NewReader("/status\n\n  /arm  \n"), &out, logx.Nop())

	ch := make(chan kit.Update, 4)
	if err := a.Start(context.Background(), ch); err != nil {
		t.Fatal(err)
	}
	var got []string
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case up := <-ch:
			if up.Message.ChatID != ChatID {
				t.Fatalf("chat = %d", up.Message.ChatID)
			}
			got = append(got, up.Message.Text)
		case <-timeout:
			t.Fatalf("got %v before timeout", got)
		}
	}
	if got[0] != "/status" || got[1] != "/arm" {
		t.Fatalf("got %v", got)
	}

	_, err := a.SendText(context.Background(), kit.ChatTarget{ChatID: ChatID}, "ISS is in range",
		&kit.SendOptions{Buttons: [][]kit.Button{{{Text: "Cancel", Data: "cancel"}}}})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "ISS is in range") || !strings.Contains(out.String(), "[Cancel: cancel]") {
		t.Fatalf("output = %q", out.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := a.Stop(ctx); err != nil {
		t.Fatal(err)
	}
}
