package source

import (
	"context"
	"testing"
	"time"

	"github.com/hazyhaar/domguard/internal/htmldom"
)

func TestPoller_TicksAndStops(t *testing.T) {
	var live Live
	p := NewPoller(10*time.Millisecond, &live)
	if live.Pollers() != 1 {
		t.Fatalf("live pollers = %d, want 1", live.Pollers())
	}

	select {
	case <-p.C():
	case <-time.After(time.Second):
		t.Fatal("no tick")
	}

	p.Stop()
	p.Stop()
	if live.Pollers() != 0 {
		t.Fatalf("live pollers after stop = %d, want 0", live.Pollers())
	}
	select {
	case <-p.C():
		t.Fatal("tick after stop")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestObserver_ForwardsAndStops(t *testing.T) {
	doc, err := htmldom.ParseString(`<html><body><div id="app"></div></body></html>`)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := doc.Body(context.Background())

	var live Live
	out := make(chan Batch)
	o, err := Attach(context.Background(), doc, body, 7, out, &live)
	if err != nil {
		t.Fatal(err)
	}
	if live.Observers() != 1 || doc.Subscriptions() != 1 {
		t.Fatalf("live observers = %d, subscriptions = %d", live.Observers(), doc.Subscriptions())
	}

	if _, err := doc.Append(body, `<p>one</p>`); err != nil {
		t.Fatal(err)
	}
	select {
	case b := <-out:
		if b.Gen != 7 || len(b.Added) != 1 || b.Added[0].Tag() != "p" {
			t.Fatalf("unexpected batch: gen=%d added=%d", b.Gen, len(b.Added))
		}
	case <-time.After(time.Second):
		t.Fatal("no batch")
	}

	// A batch nobody receives must not block Stop.
	if _, err := doc.Append(body, `<p>two</p>`); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	stopped := make(chan struct{})
	go func() {
		o.Stop()
		o.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on a pending delivery")
	}
	if live.Observers() != 0 || doc.Subscriptions() != 0 {
		t.Fatalf("after stop: live observers = %d, subscriptions = %d", live.Observers(), doc.Subscriptions())
	}
	if o.Root() != body || o.Gen() != 7 {
		t.Error("accessors changed")
	}
}
