package execute

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cortexuvula/codeshare/internal/config"
)

// fakeJudge serves the two Judge0 endpoints the client uses: a
// submission returning a fixed token and a status whose responses are
// scripted per poll.
func fakeJudge(t *testing.T, statuses []Submission) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/submissions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var body struct {
			SourceCode string `json:"source_code"`
			LanguageID int    `json:"language_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.LanguageID == 0 {
			http.Error(w, "bad submission", http.StatusUnprocessableEntity)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"token": "tok-1"})
	})
	mux.HandleFunc("/submissions/tok-1", func(w http.ResponseWriter, r *http.Request) {
		n := int(polls.Add(1)) - 1
		if n >= len(statuses) {
			n = len(statuses) - 1
		}
		json.NewEncoder(w).Encode(statuses[n])
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &polls
}

func testClient(url string, maxAttempts int) *Client {
	return NewClient(config.ExecutionConfig{
		URL:          url,
		PollInterval: time.Millisecond,
		MaxAttempts:  maxAttempts,
	})
}

func submission(id int, desc, stdout, stderr, compileOut string) Submission {
	var s Submission
	s.Status.ID = id
	s.Status.Description = desc
	s.Stdout = stdout
	s.Stderr = stderr
	s.CompileOutput = compileOut
	return s
}

func TestExecuteSuccess(t *testing.T) {
	srv, _ := fakeJudge(t, []Submission{
		submission(1, "In Queue", "", "", ""),
		submission(2, "Processing", "", "", ""),
		submission(3, "Accepted", "hello\n", "", ""),
	})

	res, err := testClient(srv.URL, 10).Execute(context.Background(), "print('hello')", "python", "")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success || res.Output != "hello\n" || res.Error != "" {
		t.Errorf("result = %+v, want success with stdout", res)
	}
	if res.StatusID != 3 || res.Description != "Accepted" {
		t.Errorf("status = %d %q, want 3 Accepted", res.StatusID, res.Description)
	}
}

func TestExecuteRuntimeErrorPrefersStderr(t *testing.T) {
	srv, _ := fakeJudge(t, []Submission{
		submission(11, "Runtime Error (NZEC)", "partial", "Traceback: boom", ""),
	})

	res, err := testClient(srv.URL, 10).Execute(context.Background(), "x", "python", "")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success {
		t.Error("non-accepted status must not be success")
	}
	if res.Error != "Traceback: boom" || res.Output != "partial" {
		t.Errorf("result = %+v, want stderr as error and stdout kept", res)
	}
}

func TestExecuteCompileErrorFallsBack(t *testing.T) {
	srv, _ := fakeJudge(t, []Submission{
		submission(6, "Compilation Error", "", "", "main.cpp:1: expected ';'"),
	})

	res, err := testClient(srv.URL, 10).Execute(context.Background(), "int main(", "cpp", "")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success || res.Error != "main.cpp:1: expected ';'" {
		t.Errorf("result = %+v, want compile_output as error", res)
	}
}

func TestExecuteTimesOut(t *testing.T) {
	srv, polls := fakeJudge(t, []Submission{
		submission(2, "Processing", "", "", ""),
	})

	_, err := testClient(srv.URL, 4).Execute(context.Background(), "while True: pass", "python", "")
	if !errors.Is(err, ErrTimedOut) {
		t.Fatalf("err = %v, want ErrTimedOut", err)
	}
	if got := polls.Load(); got != 4 {
		t.Errorf("polled %d times, want exactly max attempts 4", got)
	}
}

func TestExecuteUnknownLanguage(t *testing.T) {
	srv, _ := fakeJudge(t, nil)

	_, err := testClient(srv.URL, 10).Execute(context.Background(), "x", "cobol", "")
	if !errors.Is(err, ErrUnknownLanguage) {
		t.Fatalf("err = %v, want ErrUnknownLanguage", err)
	}
}

func TestExecuteContextCancelled(t *testing.T) {
	srv, _ := fakeJudge(t, []Submission{
		submission(1, "In Queue", "", "", ""),
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewClient(config.ExecutionConfig{URL: srv.URL, PollInterval: time.Minute, MaxAttempts: 10})
	if _, err := c.Execute(ctx, "x", "python", ""); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestSupportedLanguage(t *testing.T) {
	for lang, want := range map[string]bool{
		"python": true, "cpp": true, "java": true,
		"rust": false, "": false,
	} {
		if got := SupportedLanguage(lang); got != want {
			t.Errorf("SupportedLanguage(%q) = %v, want %v", lang, got, want)
		}
	}
}

func TestSubmitSendsRapidAPIHeaders(t *testing.T) {
	var gotKey, gotHost string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-RapidAPI-Key")
		gotHost = r.Header.Get("X-RapidAPI-Host")
		json.NewEncoder(w).Encode(map[string]string{"token": "tok-1"})
	}))
	defer srv.Close()

	c := NewClient(config.ExecutionConfig{
		URL:     srv.URL,
		APIKey:  "secret",
		APIHost: "judge0-ce.p.rapidapi.com",
	})
	if _, err := c.Submit(context.Background(), "x", "python", ""); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if gotKey != "secret" || gotHost != "judge0-ce.p.rapidapi.com" {
		t.Errorf("headers = %q/%q, want credentials forwarded", gotKey, gotHost)
	}
}
