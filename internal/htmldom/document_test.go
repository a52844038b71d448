package htmldom

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/domguard/internal/dom"
)

const testPage = `<!DOCTYPE html>
<html><head><title>t</title></head>
<body>
<div id="app"><span>hello</span><button data-automation-id="shareButton">Share</button></div>
</body></html>`

func testDoc(t *testing.T) *Document {
	t.Helper()
	d, err := ParseString(testPage)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func body(t *testing.T, d *Document) dom.Node {
	t.Helper()
	b, err := d.Body(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if b == nil {
		t.Fatal("no body")
	}
	return b
}

// recorder collects delivered batches.
type recorder struct {
	mu      sync.Mutex
	batches [][]dom.Node
}

func (r *recorder) fn(added []dom.Node) {
	r.mu.Lock()
	r.batches = append(r.batches, added)
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func (r *recorder) all() []dom.Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []dom.Node
	for _, b := range r.batches {
		out = append(out, b...)
	}
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestBodyAndHandles(t *testing.T) {
	d := testDoc(t)
	b := body(t, d)
	if b.Tag() != "body" || b.Kind() != dom.KindElement {
		t.Fatalf("body: tag=%q kind=%v", b.Tag(), b.Kind())
	}
	again := body(t, d)
	if b != again {
		t.Error("handles should be stable for the same node")
	}
	if b.Path() != "/html[1]/body[1]" {
		t.Errorf("Path: got %q", b.Path())
	}
}

func TestBody_Synthesised(t *testing.T) {
	d, err := ParseString("")
	if err != nil {
		t.Fatal(err)
	}
	// html.Parse always synthesises html/head/body.
	if b, _ := d.Body(context.Background()); b == nil {
		t.Fatal("expected synthesised body")
	}
}

func TestRemove_Idempotent(t *testing.T) {
	d := testDoc(t)
	ctx := context.Background()
	btn := d.ElementsByAttr("data-automation-id", "shareButton")
	if len(btn) != 1 {
		t.Fatalf("found %d buttons", len(btn))
	}

	res, err := d.Remove(ctx, btn[0])
	if err != nil || res != dom.Done {
		t.Fatalf("first remove: res=%v err=%v", res, err)
	}
	if btn[0].Attached() {
		t.Error("removed node still attached")
	}
	res, err = d.Remove(ctx, btn[0])
	if err != nil || res != dom.Noop {
		t.Fatalf("second remove: res=%v err=%v", res, err)
	}
	if len(d.ElementsByAttr("data-automation-id", "shareButton")) != 0 {
		t.Error("button still in document")
	}
}

func TestRemove_Document(t *testing.T) {
	d := testDoc(t)
	if _, err := d.Remove(context.Background(), d.Root()); !errors.Is(err, dom.ErrUnsupported) {
		t.Fatalf("got %v, want ErrUnsupported", err)
	}
}

func TestHide_Idempotent(t *testing.T) {
	d := testDoc(t)
	ctx := context.Background()
	btn := d.ElementsByAttr("data-automation-id", "shareButton")[0]

	res, err := d.Hide(ctx, btn)
	if err != nil || res != dom.Done {
		t.Fatalf("first hide: res=%v err=%v", res, err)
	}
	style := btn.Attrs()["style"]
	if !strings.Contains(style, "display: none !important") {
		t.Errorf("style: got %q", style)
	}
	res, _ = d.Hide(ctx, btn)
	if res != dom.Noop {
		t.Errorf("second hide: got %v, want Noop", res)
	}
	if got := btn.Attrs()["style"]; got != style {
		t.Errorf("style changed on no-op hide: %q -> %q", style, got)
	}
	if !btn.Attached() {
		t.Error("hidden node should stay attached")
	}
}

func TestHide_TextNode(t *testing.T) {
	d := testDoc(t)
	kids := body(t, d).Children()
	var text dom.Node
	for _, c := range kids {
		if c.Kind() == dom.KindText {
			text = c
			break
		}
	}
	if text == nil {
		t.Fatal("no text child in body")
	}
	if _, err := d.Hide(context.Background(), text); !errors.Is(err, dom.ErrUnsupported) {
		t.Fatalf("got %v, want ErrUnsupported", err)
	}
}

func TestObserve_DeliversAddedNodes(t *testing.T) {
	d := testDoc(t)
	b := body(t, d)
	var rec recorder
	sub, err := d.Observe(context.Background(), b, rec.fn)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Disconnect()

	app := d.ElementsByAttr("id", "app")[0]
	if _, err := d.Append(app, `<p>one</p><!-- c --><div data-x="1">two</div>`); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(rec.all()) == 3 })

	got := rec.all()
	if got[0].Tag() != "p" || got[1].Kind() != dom.KindComment || got[2].Tag() != "div" {
		t.Errorf("unexpected delivery order: %v %v %v", got[0].Tag(), got[1].Kind(), got[2].Tag())
	}
}

func TestObserve_DisconnectStopsDelivery(t *testing.T) {
	d := testDoc(t)
	b := body(t, d)
	var rec recorder
	sub, err := d.Observe(context.Background(), b, rec.fn)
	if err != nil {
		t.Fatal(err)
	}
	if d.Subscriptions() != 1 {
		t.Fatalf("Subscriptions: got %d", d.Subscriptions())
	}
	sub.Disconnect()
	sub.Disconnect()
	if d.Subscriptions() != 0 {
		t.Fatalf("Subscriptions after disconnect: got %d", d.Subscriptions())
	}

	if _, err := d.Append(b, `<div>late</div>`); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if rec.count() != 0 {
		t.Errorf("got %d batches after disconnect", rec.count())
	}
}

func TestObserve_ScopedToRoot(t *testing.T) {
	d := testDoc(t)
	app := d.ElementsByAttr("id", "app")[0]
	var rec recorder
	sub, err := d.Observe(context.Background(), app, rec.fn)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Disconnect()

	if _, err := d.Append(body(t, d), `<div>outside</div>`); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Append(app, `<div>inside</div>`); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return rec.count() >= 1 })
	time.Sleep(20 * time.Millisecond)
	if n := len(rec.all()); n != 1 {
		t.Errorf("delivered %d nodes, want 1", n)
	}
}

func TestReplaceBody_DetachesOldBody(t *testing.T) {
	d := testDoc(t)
	old := body(t, d)
	var rec recorder
	sub, err := d.Observe(context.Background(), old, rec.fn)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Disconnect()

	nb, err := d.ReplaceBody(`<main>route two</main>`)
	if err != nil {
		t.Fatal(err)
	}
	if old.Attached() {
		t.Error("old body still attached")
	}
	if cur := body(t, d); cur != nb {
		t.Error("Body should return the new body")
	}
	if _, err := d.Append(nb, `<div>new route content</div>`); err != nil {
		t.Fatal(err)
	}
	time.Sleep(30 * time.Millisecond)
	if rec.count() != 0 {
		t.Errorf("observer on old body received %d batches", rec.count())
	}
}

func TestForeignNode(t *testing.T) {
	a := testDoc(t)
	b := testDoc(t)
	if _, err := a.Remove(context.Background(), body(t, b)); !errors.Is(err, dom.ErrForeignNode) {
		t.Fatalf("got %v, want ErrForeignNode", err)
	}
}

func TestOuterHTML(t *testing.T) {
	d := testDoc(t)
	btn := d.ElementsByAttr("data-automation-id", "shareButton")[0]
	out, err := d.OuterHTML(context.Background(), btn)
	if err != nil {
		t.Fatal(err)
	}
	if out != `<button data-automation-id="shareButton">Share</button>` {
		t.Errorf("OuterHTML: got %q", out)
	}
}
