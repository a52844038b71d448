package domguard

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hazyhaar/domguard/dbopen"
	"github.com/hazyhaar/domguard/idgen"
	"github.com/hazyhaar/domguard/internal/sink"

	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"
)

func do(t *testing.T, srv *httptest.Server, method, path, body string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var b strings.Builder
	if _, err := io.Copy(&b, resp.Body); err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, b.String()
}

func TestHandler_PageLifecycle(t *testing.T) {
	db := dbopen.OpenMemory(t)
	events, err := sink.NewSQLite(db)
	if err != nil {
		t.Fatal(err)
	}
	g, s := startGuard(t, testConfig("remove"), events)
	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	if code, body := do(t, srv, "GET", "/healthz", ""); code != 200 || !strings.Contains(body, "ok") {
		t.Fatalf("healthz: %d %s", code, body)
	}

	code, body := do(t, srv, "POST", "/pages", `{"id":"a","url":"https://a.test/"}`)
	if code != 200 || !strings.Contains(body, `"guarding"`) {
		t.Fatalf("guard: %d %s", code, body)
	}
	waitFor(t, "cleaned", func() bool { return len(g.Status()) == 1 && g.Status()[0].Stats.Suppressed == 1 })

	code, body = do(t, srv, "GET", "/pages", "")
	if code != 200 {
		t.Fatalf("status: %d %s", code, body)
	}
	var st []PageStatus
	if err := json.Unmarshal([]byte(body), &st); err != nil {
		t.Fatal(err)
	}
	if len(st) != 1 || st[0].ID != "a" || st[0].Stats.Suppressed != 1 {
		t.Errorf("status: %+v", st)
	}

	code, body = do(t, srv, "POST", "/pages/a/navigate", `{"url":"https://a.test/#chat"}`)
	if code != 200 {
		t.Fatalf("navigate: %d %s", code, body)
	}
	waitFor(t, "chat route cleaned", func() bool { return targets(s.target("a")) == 0 })

	waitFor(t, "events logged", func() bool {
		evs, _ := events.Recent(context.Background(), "a", 10)
		n := 0
		for _, ev := range evs {
			if ev.Message == "removed target element" {
				n++
			}
		}
		return n == 2
	})
	code, body = do(t, srv, "GET", "/events?page_id=a&limit=50", "")
	if code != 200 || !strings.Contains(body, `"removed target element"`) || !strings.Contains(body, `"xpath"`) {
		t.Errorf("events: %d %s", code, body)
	}

	if code, body := do(t, srv, "DELETE", "/pages/a", ""); code != 200 || !strings.Contains(body, "released") {
		t.Errorf("release: %d %s", code, body)
	}
	if code, _ := do(t, srv, "DELETE", "/pages/a", ""); code != 404 {
		t.Errorf("second release: %d, want 404", code)
	}
}

func TestHandler_BadRequests(t *testing.T) {
	g, _ := startGuard(t, testConfig("remove"))
	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	cases := []struct {
		method, path, body string
		want               int
	}{
		{"POST", "/pages", `{`, 400},
		{"POST", "/pages", `{"id":"a"}`, 400},
		{"POST", "/pages", `{"id":"a","url":""}`, 400},
		{"POST", "/pages/nope/navigate", `{"url":"https://a.test/"}`, 404},
		{"GET", "/events", "", 400},
	}
	for _, c := range cases {
		if code, body := do(t, srv, c.method, c.path, c.body); code != c.want {
			t.Errorf("%s %s: %d %s, want %d", c.method, c.path, code, body, c.want)
		}
	}
}

func TestHandler_GuardGeneratesID(t *testing.T) {
	g, _ := startGuard(t, testConfig("remove"))
	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	code, body := do(t, srv, "POST", "/pages", `{"url":"https://a.test/"}`)
	if code != 200 {
		t.Fatalf("POST /pages: %d %s", code, body)
	}
	var resp map[string]string
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(resp["id"], idgen.PagePrefix) {
		t.Fatalf("id = %q", resp["id"])
	}
	if len(g.Status()) != 1 {
		t.Fatalf("status = %+v", g.Status())
	}
}

func TestHandler_Token(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("tok"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	cfg := testConfig("remove")
	cfg.HTTP.TokenHash = string(hash)
	g, _ := startGuard(t, cfg)
	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	if code, _ := do(t, srv, "GET", "/healthz", ""); code != 200 {
		t.Errorf("healthz: %d", code)
	}
	if code, _ := do(t, srv, "GET", "/pages", ""); code != 401 {
		t.Errorf("GET /pages without token: %d", code)
	}
	req, _ := http.NewRequest("GET", srv.URL+"/pages", nil)
	req.Header.Set("Authorization", "Bearer tok")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Errorf("GET /pages with token: %d", resp.StatusCode)
	}
}
