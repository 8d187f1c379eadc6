package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/ecociel/remind/domain"
	"github.com/ecociel/remind/lib/queue"
	"github.com/ecociel/remind/lib/token"
	"github.com/ecociel/remind/repos/memory"
	"github.com/ecociel/remind/uc"
	"github.com/emicklei/go-restful/v3"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type setup struct {
	repo      *memory.Repo
	jobs      *queue.Memory
	tokens    *token.Authority
	container *restful.Container
}

func newSetup(t *testing.T) *setup {
	t.Helper()
	tokens, err := token.New([]byte("callback-test-secret-0123456789ab"))
	if err != nil {
		t.Fatalf("token authority: %v", err)
	}
	s := &setup{repo: memory.New(), jobs: queue.NewMemory(), tokens: tokens}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := func() time.Time { return now }

	ctx := context.Background()
	s.repo.SaveTask(ctx, domain.Task{ID: "t1", OwnerID: "u1", Title: "Water plants"})
	s.repo.SaveReminder(ctx, domain.Reminder{ID: "r1", TaskID: "t1", OwnerID: "u1", TriggerAt: now, Status: domain.StatusSent})

	h := NewCallbackHandler(tokens, s.repo,
		uc.MakeRescheduleUseCase(s.repo, s.jobs, clock, logger),
		uc.MakeDismissUseCase(s.repo, s.repo, s.jobs, logger),
		logger)
	s.container = restful.NewContainer()
	s.container.Add(h.WebService())
	s.container.Add(HealthService())
	return s
}

func (s *setup) do(t *testing.T, method string, query url.Values) (int, Response) {
	t.Helper()
	req := httptest.NewRequest(method, "/callback?"+query.Encode(), nil)
	return serve(t, s.container, req)
}

func serve(t *testing.T, h http.Handler, req *http.Request) (int, Response) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var body Response
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body, got %q: %v", rec.Body.String(), err)
	}
	return rec.Code, body
}

func query(kv ...string) url.Values {
	q := url.Values{}
	for i := 0; i+1 < len(kv); i += 2 {
		q.Set(kv[i], kv[i+1])
	}
	return q
}

func TestCallback_Snooze(t *testing.T) {
	for _, method := range []string{http.MethodGet, http.MethodPost} {
		t.Run(method, func(t *testing.T) {
			s := newSetup(t)
			code, body := s.do(t, method, query("id", "r1", "token", s.tokens.Sign("r1"), "mins", "15"))

			if code != http.StatusOK {
				t.Fatalf("expected 200, got %d (%+v)", code, body)
			}
			want := Response{Success: true, Action: "snoozed", Minutes: 15}
			if body != want {
				t.Errorf("expected %+v, got %+v", want, body)
			}
			r, _ := s.repo.FindReminder(context.Background(), "r1")
			if r.Status != domain.StatusScheduled || !r.TriggerAt.Equal(now.Add(15*time.Minute)) {
				t.Errorf("expected reminder scheduled at now+15m, got %+v", r)
			}
			if n := len(s.jobs.Jobs()); n != 1 {
				t.Errorf("expected 1 job, got %d", n)
			}
		})
	}
}

func TestCallback_Done(t *testing.T) {
	s := newSetup(t)
	ctx := context.Background()
	s.repo.CompleteTask(ctx, "t1")

	code, body := s.do(t, http.MethodGet, query("id", "r1", "token", s.tokens.Sign("r1"), "done", "true"))
	if code != http.StatusOK || body != (Response{Success: true, Action: "done"}) {
		t.Fatalf("expected 200 done, got %d %+v", code, body)
	}
	r, _ := s.repo.FindReminder(ctx, "r1")
	if r.Status != domain.StatusDismissed {
		t.Errorf("expected dismissed, got %s", r.Status)
	}
}

func TestCallback_DoneWinsOverMins(t *testing.T) {
	s := newSetup(t)
	code, body := s.do(t, http.MethodGet, query("id", "r1", "token", s.tokens.Sign("r1"), "done", "true", "mins", "15"))

	if code != http.StatusOK || body.Action != "done" {
		t.Fatalf("expected 200 done, got %d %+v", code, body)
	}
	task, _ := s.repo.FindTask(context.Background(), "t1")
	if !task.Completed {
		t.Error("expected task completed")
	}
}

func TestCallback_FormBody(t *testing.T) {
	s := newSetup(t)
	form := query("id", "r1", "token", s.tokens.Sign("r1"), "mins", "5")
	req := httptest.NewRequest(http.MethodPost, "/callback", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	code, body := serve(t, s.container, req)
	if code != http.StatusOK || body.Minutes != 5 {
		t.Fatalf("expected 200 snoozed 5, got %d %+v", code, body)
	}
}

func TestCallback_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		query    func(s *setup) url.Values
		wantCode int
		wantErr  string
	}{
		{
			name:     "missing id",
			query:    func(s *setup) url.Values { return query("token", s.tokens.Sign("r1"), "mins", "15") },
			wantCode: http.StatusBadRequest,
			wantErr:  "Missing id or token",
		},
		{
			name:     "missing token",
			query:    func(s *setup) url.Values { return query("id", "r1", "mins", "15") },
			wantCode: http.StatusBadRequest,
			wantErr:  "Missing id or token",
		},
		{
			name:     "wrong token",
			query:    func(s *setup) url.Values { return query("id", "r1", "token", "wrong", "mins", "15") },
			wantCode: http.StatusForbidden,
			wantErr:  "Invalid token",
		},
		{
			name:     "token of other reminder",
			query:    func(s *setup) url.Values { return query("id", "r1", "token", s.tokens.Sign("r2"), "mins", "15") },
			wantCode: http.StatusForbidden,
			wantErr:  "Invalid token",
		},
		{
			name:     "no action",
			query:    func(s *setup) url.Values { return query("id", "r1", "token", s.tokens.Sign("r1")) },
			wantCode: http.StatusBadRequest,
			wantErr:  "Missing action: provide mins or done=true",
		},
		{
			name:     "done not true",
			query:    func(s *setup) url.Values { return query("id", "r1", "token", s.tokens.Sign("r1"), "done", "yes") },
			wantCode: http.StatusBadRequest,
			wantErr:  "Missing action: provide mins or done=true",
		},
		{
			name:     "mins not a number",
			query:    func(s *setup) url.Values { return query("id", "r1", "token", s.tokens.Sign("r1"), "mins", "soon") },
			wantCode: http.StatusBadRequest,
			wantErr:  "mins must be a positive integer",
		},
		{
			name:     "mins zero",
			query:    func(s *setup) url.Values { return query("id", "r1", "token", s.tokens.Sign("r1"), "mins", "0") },
			wantCode: http.StatusBadRequest,
			wantErr:  "mins must be a positive integer",
		},
		{
			name:     "unknown reminder",
			query:    func(s *setup) url.Values { return query("id", "r9", "token", s.tokens.Sign("r9"), "mins", "15") },
			wantCode: http.StatusNotFound,
			wantErr:  "Reminder not found",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSetup(t)
			code, body := s.do(t, http.MethodGet, tt.query(s))

			if code != tt.wantCode {
				t.Errorf("expected %d, got %d", tt.wantCode, code)
			}
			if body.Success || body.Error != tt.wantErr {
				t.Errorf("expected error %q, got %+v", tt.wantErr, body)
			}
			r, _ := s.repo.FindReminder(context.Background(), "r1")
			if r.Status != domain.StatusSent || !r.TriggerAt.Equal(now) {
				t.Errorf("expected reminder unchanged, got %+v", r)
			}
			if n := len(s.jobs.Jobs()); n != 0 {
				t.Errorf("expected no jobs, got %d", n)
			}
		})
	}
}

type mockVerifier struct{}

func (mockVerifier) Verify(string, string) bool { return true }

type mockFinder struct {
	findFunc func(ctx context.Context, id string) (domain.Reminder, error)
}

func (m mockFinder) FindReminder(ctx context.Context, id string) (domain.Reminder, error) {
	return m.findFunc(ctx, id)
}

func failingReschedule(context.Context, string, int) (time.Time, error) {
	return time.Time{}, errors.New("queue unavailable")
}

func TestCallback_InternalError(t *testing.T) {
	found := func(context.Context, string) (domain.Reminder, error) { return domain.Reminder{ID: "r1"}, nil }
	tests := []struct {
		name       string
		find       func(context.Context, string) (domain.Reminder, error)
		reschedule uc.RescheduleUseCase
		dismiss    uc.DismissUseCase
		query      url.Values
	}{
		{
			name:  "lookup",
			find:  func(context.Context, string) (domain.Reminder, error) { return domain.Reminder{}, errors.New("db down") },
			query: query("id", "r1", "token", "x", "mins", "15"),
		},
		{
			name:       "reschedule",
			find:       found,
			reschedule: failingReschedule,
			query:      query("id", "r1", "token", "x", "mins", "15"),
		},
		{
			name:    "dismiss",
			find:    found,
			dismiss: func(context.Context, string) error { return errors.New("db down") },
			query:   query("id", "r1", "token", "x", "done", "true"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			h := NewCallbackHandler(mockVerifier{}, mockFinder{findFunc: tt.find}, tt.reschedule, tt.dismiss, logger)
			container := restful.NewContainer()
			container.Add(h.WebService())

			req := httptest.NewRequest(http.MethodGet, "/callback?"+tt.query.Encode(), nil)
			code, body := serve(t, container, req)
			if code != http.StatusInternalServerError {
				t.Errorf("expected 500, got %d", code)
			}
			if body.Success || body.Error != "Internal error" {
				t.Errorf("unexpected body %+v", body)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	s := newSetup(t)
	rec := httptest.NewRecorder()
	s.container.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) && !strings.Contains(rec.Body.String(), `"status": "ok"`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}
