package reconcile

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/billing_backend/billing"
	"github.com/gin-gonic/gin"
)

func newTriggerRouter(eng *Engine) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/api/internal/billing/reconcile", ReconcileHandler(eng))
	r.POST("/api/internal/billing/recover-webhooks", RecoverWebhooksHandler(eng))
	return r
}

func TestReconcileHandler_RejectsWithoutSecret(t *testing.T) {
	t.Setenv("SYNC_SHARED_SECRET", "s3cret")

	subs := &fakeSubStore{}
	runs := &fakeRunStore{}
	eng, _, _ := newTestEngine(&fakeClient{}, subs, runs)
	r := newTriggerRouter(eng)

	for _, header := range []string{"", "wrong", "s3cret "} {
		req := httptest.NewRequest(http.MethodPost, "/api/internal/billing/reconcile", nil)
		if header != "" {
			req.Header.Set("X-Sync-Secret", header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: expected 401, got %d", header, w.Code)
		}
	}
	if len(runs.created) != 0 {
		t.Fatalf("no sync run may be created for rejected requests, got %v", runs.created)
	}
	if subs.listCalled {
		t.Fatal("no store read may happen for rejected requests")
	}
}

func TestReconcileHandler_RejectsWhenSecretUnset(t *testing.T) {
	t.Setenv("SYNC_SHARED_SECRET", "")

	runs := &fakeRunStore{}
	eng, _, _ := newTestEngine(&fakeClient{}, &fakeSubStore{}, runs)
	r := newTriggerRouter(eng)

	req := httptest.NewRequest(http.MethodPost, "/api/internal/billing/reconcile", nil)
	req.Header.Set("X-Sync-Secret", "")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unset secret must reject everything, got %d", w.Code)
	}
	if len(runs.created) != 0 {
		t.Fatal("no sync run may be created without a configured secret")
	}
}

func TestReconcileHandler_RunsSweepWithSecret(t *testing.T) {
	t.Setenv("SYNC_SHARED_SECRET", "s3cret")

	runs := &fakeRunStore{}
	eng, _, _ := newTestEngine(&fakeClient{}, &fakeSubStore{}, runs)
	r := newTriggerRouter(eng)

	req := httptest.NewRequest(http.MethodPost, "/api/internal/billing/reconcile", nil)
	req.Header.Set("X-Sync-Secret", "s3cret")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(runs.created) != 1 {
		t.Fatalf("expected one sync run, got %v", runs.created)
	}
	if !strings.Contains(w.Body.String(), `"success":true`) {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

func TestReconcileHandler_InvalidBodyRejected(t *testing.T) {
	t.Setenv("SYNC_SHARED_SECRET", "s3cret")

	runs := &fakeRunStore{}
	eng, _, _ := newTestEngine(&fakeClient{}, &fakeSubStore{}, runs)
	r := newTriggerRouter(eng)

	req := httptest.NewRequest(http.MethodPost, "/api/internal/billing/reconcile", strings.NewReader(`{"batchSize": -3}`))
	req.Header.Set("X-Sync-Secret", "s3cret")
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid overrides, got %d", w.Code)
	}
	if len(runs.created) != 0 {
		t.Fatal("no sweep may start with invalid overrides")
	}
}

func TestReconcileHandler_BatchSizeOverride(t *testing.T) {
	t.Setenv("SYNC_SHARED_SECRET", "s3cret")

	end := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	subs := &fakeSubStore{}
	client := &fakeClient{snapshots: map[string]*billing.SubscriptionSnapshot{}}
	for i := 0; i < 10; i++ {
		sub := liveSub(fmt.Sprintf("sub_%d", i), "price_basic", end)
		subs.subs = append(subs.subs, sub)
		client.snapshots[sub.SubscriptionID] = matchingSnapshot(sub)
	}

	runs := &fakeRunStore{}
	eng, _, _ := newTestEngine(client, subs, runs)
	r := newTriggerRouter(eng)

	req := httptest.NewRequest(http.MethodPost, "/api/internal/billing/reconcile", strings.NewReader(`{"batchSize": 3}`))
	req.Header.Set("X-Sync-Secret", "s3cret")
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"processed":3`) {
		t.Fatalf("override must cap the batch at 3: %s", w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"hasMore":true`) {
		t.Fatalf("capped sweep must report a remainder: %s", w.Body.String())
	}
}

func TestRecoverWebhooksHandler_RejectsWithoutSecret(t *testing.T) {
	t.Setenv("SYNC_SHARED_SECRET", "s3cret")

	runs := &fakeRunStore{}
	eng := newRecoveryEngine(&fakeClient{}, &fakeEventStore{}, &fakeProcessor{}, runs)
	r := newTriggerRouter(eng)

	req := httptest.NewRequest(http.MethodPost, "/api/internal/billing/recover-webhooks", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if len(runs.created) != 0 {
		t.Fatal("no sync run may be created for rejected requests")
	}
}

func TestRecoverWebhooksHandler_RunsSweepWithSecret(t *testing.T) {
	t.Setenv("SYNC_SHARED_SECRET", "s3cret")

	runs := &fakeRunStore{}
	eng := newRecoveryEngine(&fakeClient{}, &fakeEventStore{}, &fakeProcessor{}, runs)
	r := newTriggerRouter(eng)

	req := httptest.NewRequest(http.MethodPost, "/api/internal/billing/recover-webhooks", nil)
	req.Header.Set("X-Sync-Secret", "s3cret")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(runs.created) != 1 {
		t.Fatalf("expected one sync run, got %v", runs.created)
	}
}
