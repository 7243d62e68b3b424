package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeStats struct {
	active   int
	total    int64
	messages int64
}

func (f fakeStats) ConnectionCount() int    { return f.active }
func (f fakeStats) TotalConnections() int64 { return f.total }
func (f fakeStats) TotalMessages() int64    { return f.messages }

type fakeRooms int

func (f fakeRooms) RoomCount() int { return int(f) }

func getHealth(t *testing.T, h *Handler) (int, Response) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode health response: %v", err)
	}
	return rec.Code, resp
}

func TestHealthBasic(t *testing.T) {
	h := NewHandler(fakeStats{active: 3, total: 10, messages: 100}, fakeRooms(2), "", "1.2.3", false)

	code, resp := getHealth(t, h)
	if code != http.StatusOK || resp.Status != "ok" {
		t.Fatalf("got %d %q, want 200 ok", code, resp.Status)
	}
	if resp.ActiveConnections != 3 || resp.ActiveRooms != 2 {
		t.Errorf("resp = %+v, want counters from stats", resp)
	}
	if resp.JudgeReachable != nil {
		t.Error("judge reachability must be omitted when execution is off")
	}
	if resp.Details != nil {
		t.Error("details must be omitted when detailed is off")
	}
}

func TestHealthDetailed(t *testing.T) {
	h := NewHandler(fakeStats{total: 42, messages: 7}, fakeRooms(0), "", "1.2.3", true)

	_, resp := getHealth(t, h)
	if resp.Version != "1.2.3" {
		t.Errorf("version = %q", resp.Version)
	}
	if resp.Details == nil {
		t.Fatal("detailed response missing details")
	}
	if resp.Details.TotalConnections != 42 || resp.Details.TotalMessages != 7 {
		t.Errorf("details = %+v", resp.Details)
	}
}

func TestHealthJudgeReachable(t *testing.T) {
	judge := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Even a 404 means the judge answers HTTP
		http.NotFound(w, r)
	}))
	defer judge.Close()

	h := NewHandler(fakeStats{}, fakeRooms(0), judge.URL, "", false)
	code, resp := getHealth(t, h)
	if code != http.StatusOK {
		t.Fatalf("code = %d, want 200", code)
	}
	if resp.JudgeReachable == nil || !*resp.JudgeReachable {
		t.Error("judge answering HTTP must report reachable")
	}
}

func TestHealthJudgeDown(t *testing.T) {
	h := NewHandler(fakeStats{}, fakeRooms(0), "http://127.0.0.1:1", "", false)

	code, resp := getHealth(t, h)
	if code != http.StatusServiceUnavailable || resp.Status != "degraded" {
		t.Fatalf("got %d %q, want 503 degraded", code, resp.Status)
	}
	if resp.JudgeReachable == nil || *resp.JudgeReachable {
		t.Error("unreachable judge must report false")
	}
}
