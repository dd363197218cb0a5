package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/billing_backend/billing"
	"bitbucket.org/mmdatafocus/billing_backend/models"
)

type fakeClient struct {
	snapshots map[string]*billing.SubscriptionSnapshot
	subErrs   map[string]error
	events    map[string]*billing.EventPayload
	eventErrs map[string]error
	subCalls  []string
}

func (c *fakeClient) RetrieveSubscription(ctx context.Context, id string) (*billing.SubscriptionSnapshot, error) {
	c.subCalls = append(c.subCalls, id)
	if err, ok := c.subErrs[id]; ok {
		return nil, err
	}
	if snap, ok := c.snapshots[id]; ok {
		return snap, nil
	}
	return nil, fmt.Errorf("retrieve %s: %w", id, billing.ErrNotFound)
}

func (c *fakeClient) RetrieveEvent(ctx context.Context, id string) (*billing.EventPayload, error) {
	if err, ok := c.eventErrs[id]; ok {
		return nil, err
	}
	if ev, ok := c.events[id]; ok {
		return ev, nil
	}
	return nil, fmt.Errorf("retrieve %s: %w", id, billing.ErrNotFound)
}

type fakeSubStore struct {
	subs       []models.Subscription
	total      int
	listErr    error
	upsertErr  map[string]error
	cancelErr  map[string]error
	upserts    []models.Subscription
	cancels    []string
	listCalled bool
}

func (s *fakeSubStore) ListByStatuses(ctx context.Context, statuses []string, limit int) ([]models.Subscription, int, error) {
	s.listCalled = true
	if s.listErr != nil {
		return nil, 0, s.listErr
	}
	total := s.total
	if total == 0 {
		total = len(s.subs)
	}
	if len(s.subs) > limit {
		return s.subs[:limit], total, nil
	}
	return s.subs, total, nil
}

func (s *fakeSubStore) Upsert(ctx context.Context, sub *models.Subscription) error {
	if err, ok := s.upsertErr[sub.SubscriptionID]; ok {
		return err
	}
	s.upserts = append(s.upserts, *sub)
	return nil
}

func (s *fakeSubStore) MarkCanceled(ctx context.Context, userID, subscriptionID string) error {
	if err, ok := s.cancelErr[subscriptionID]; ok {
		return err
	}
	s.cancels = append(s.cancels, subscriptionID)
	return nil
}

type fakeRunStore struct {
	nextID      uint
	createErr   error
	created     []string
	completions map[uint]RunCompletion
}

func (r *fakeRunStore) Create(ctx context.Context, runType string) (uint, error) {
	if r.createErr != nil {
		return 0, r.createErr
	}
	r.nextID++
	r.created = append(r.created, runType)
	return r.nextID, nil
}

func (r *fakeRunStore) Complete(ctx context.Context, id uint, res RunCompletion) {
	if r.completions == nil {
		r.completions = map[uint]RunCompletion{}
	}
	r.completions[id] = res
}

type fakeCredits struct {
	users []string
	err   error
}

func (c *fakeCredits) Recalculate(ctx context.Context, userID string) error {
	c.users = append(c.users, userID)
	return c.err
}

type noopPacer struct{ calls int }

func (p *noopPacer) Pace(ctx context.Context) { p.calls++ }

func liveSub(id string, planID string, periodEnd time.Time) models.Subscription {
	end := periodEnd
	return models.Subscription{
		SubscriptionID:   id,
		UserID:           "user_" + id,
		Status:           models.SubscriptionStatusActive,
		PlanID:           planID,
		CurrentPeriodEnd: &end,
	}
}

func matchingSnapshot(sub models.Subscription) *billing.SubscriptionSnapshot {
	return &billing.SubscriptionSnapshot{
		ID:               sub.SubscriptionID,
		Status:           sub.Status,
		CurrentPriceID:   sub.PlanID,
		CurrentPeriodEnd: *sub.CurrentPeriodEnd,
	}
}

func newTestEngine(client *fakeClient, subs *fakeSubStore, runs *fakeRunStore) (*Engine, *fakeCredits, *noopPacer) {
	credits := &fakeCredits{}
	pacer := &noopPacer{}
	cfg := DefaultConfig()
	cfg.PaceDelay = 0
	eng := &Engine{
		Client: client,
		Subs:   subs,
		Runs:   runs,
		Syncer: NewSyncer(subs, credits, nil),
		Pacer:  pacer,
		Config: cfg,
	}
	return eng, credits, pacer
}

func TestRunFullReconciliation_NoDiscrepancies(t *testing.T) {
	end := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := liveSub("sub_a", "price_basic", end)
	b := liveSub("sub_b", "price_pro", end)

	client := &fakeClient{snapshots: map[string]*billing.SubscriptionSnapshot{
		"sub_a": matchingSnapshot(a),
		"sub_b": matchingSnapshot(b),
	}}
	subs := &fakeSubStore{subs: []models.Subscription{a, b}}
	runs := &fakeRunStore{}
	eng, _, pacer := newTestEngine(client, subs, runs)

	result, err := eng.RunFullReconciliation(context.Background())
	if err != nil {
		t.Fatalf("RunFullReconciliation error: %v", err)
	}
	if !result.Success || result.Processed != 2 || result.Discrepancies != 0 || result.Fixed != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(subs.upserts) != 0 {
		t.Fatalf("clean records must not be rewritten, got %d upserts", len(subs.upserts))
	}
	if pacer.calls != 2 {
		t.Fatalf("expected pacing after every record, got %d calls", pacer.calls)
	}
	done := runs.completions[result.SyncRunID]
	if done.Status != models.SyncRunStatusCompleted || done.RecordsProcessed != 2 {
		t.Fatalf("unexpected run completion: %+v", done)
	}
}

func TestRunFullReconciliation_FixesDrift(t *testing.T) {
	end := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sub := liveSub("sub_a", "price_basic", end)
	snap := matchingSnapshot(sub)
	snap.Status = models.SubscriptionStatusPastDue
	snap.CurrentPriceID = "price_pro"

	client := &fakeClient{snapshots: map[string]*billing.SubscriptionSnapshot{"sub_a": snap}}
	subs := &fakeSubStore{subs: []models.Subscription{sub}}
	runs := &fakeRunStore{}
	eng, credits, _ := newTestEngine(client, subs, runs)

	result, err := eng.RunFullReconciliation(context.Background())
	if err != nil {
		t.Fatalf("RunFullReconciliation error: %v", err)
	}
	if result.Discrepancies != 2 {
		t.Fatalf("expected 2 field discrepancies, got %d", result.Discrepancies)
	}
	if result.Fixed != 1 {
		t.Fatalf("one record with two drifting fields is one fix, got %d", result.Fixed)
	}
	if len(subs.upserts) != 1 {
		t.Fatalf("expected a single sync write, got %d", len(subs.upserts))
	}
	got := subs.upserts[0]
	if got.Status != models.SubscriptionStatusPastDue || got.PlanID != "price_pro" {
		t.Fatalf("provider state must win: %+v", got)
	}
	if len(result.Issues) != 1 || result.Issues[0].Action != ActionAutoFixed {
		t.Fatalf("expected one auto-fixed issue, got %+v", result.Issues)
	}
	if len(credits.users) != 1 || credits.users[0] != "user_sub_a" {
		t.Fatalf("expected credit recalc for synced user, got %v", credits.users)
	}
}

func TestRunFullReconciliation_MissingAtProviderCancelsLocal(t *testing.T) {
	end := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sub := liveSub("sub_gone", "price_basic", end)

	client := &fakeClient{} // no snapshot registered -> not found
	subs := &fakeSubStore{subs: []models.Subscription{sub}}
	runs := &fakeRunStore{}
	eng, _, _ := newTestEngine(client, subs, runs)

	result, err := eng.RunFullReconciliation(context.Background())
	if err != nil {
		t.Fatalf("RunFullReconciliation error: %v", err)
	}
	if result.Discrepancies != 1 || result.Fixed != 1 {
		t.Fatalf("not-found should count one discrepancy and one fix, got %+v", result)
	}
	if len(subs.cancels) != 1 || subs.cancels[0] != "sub_gone" {
		t.Fatalf("expected local cancel, got %v", subs.cancels)
	}
	if len(result.Issues) != 1 || result.Issues[0].Action != ActionMarkedCanceled {
		t.Fatalf("expected marked-canceled issue, got %+v", result.Issues)
	}
}

func TestRunFullReconciliation_RecordFailureDoesNotAbortBatch(t *testing.T) {
	end := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := liveSub("sub_a", "price_basic", end)
	b := liveSub("sub_b", "price_basic", end)
	c := liveSub("sub_c", "price_basic", end)

	client := &fakeClient{
		snapshots: map[string]*billing.SubscriptionSnapshot{
			"sub_a": matchingSnapshot(a),
			"sub_c": matchingSnapshot(c),
		},
		subErrs: map[string]error{
			"sub_b": &billing.TransientError{StatusCode: 503, Err: errors.New("upstream unavailable")},
		},
	}
	subs := &fakeSubStore{subs: []models.Subscription{a, b, c}}
	runs := &fakeRunStore{}
	eng, _, _ := newTestEngine(client, subs, runs)

	result, err := eng.RunFullReconciliation(context.Background())
	if err != nil {
		t.Fatalf("record-level failures must not fail the sweep: %v", err)
	}
	if result.Processed != 3 {
		t.Fatalf("all records must be visited, got %d", result.Processed)
	}
	if len(result.Issues) != 1 || result.Issues[0].Action != ActionFailed {
		t.Fatalf("expected one failed issue for sub_b, got %+v", result.Issues)
	}
	if !strings.Contains(result.Issues[0].Issue, "provider fetch failed") {
		t.Fatalf("unexpected issue text: %q", result.Issues[0].Issue)
	}
	if calls := client.subCalls; len(calls) != 3 || calls[2] != "sub_c" {
		t.Fatalf("records after the failing one must still be fetched, got %v", calls)
	}
}

func TestRunFullReconciliation_BatchCapAndHasMore(t *testing.T) {
	end := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var all []models.Subscription
	client := &fakeClient{snapshots: map[string]*billing.SubscriptionSnapshot{}}
	for i := 0; i < 45; i++ {
		sub := liveSub(fmt.Sprintf("sub_%02d", i), "price_basic", end)
		all = append(all, sub)
		client.snapshots[sub.SubscriptionID] = matchingSnapshot(sub)
	}

	subs := &fakeSubStore{subs: all}
	runs := &fakeRunStore{}
	eng, _, _ := newTestEngine(client, subs, runs)

	result, err := eng.RunFullReconciliation(context.Background())
	if err != nil {
		t.Fatalf("RunFullReconciliation error: %v", err)
	}
	if result.Processed != eng.Config.BatchSize {
		t.Fatalf("expected the batch cap %d, processed %d", eng.Config.BatchSize, result.Processed)
	}
	if !result.HasMore || result.TotalSubscriptions != 45 {
		t.Fatalf("expected hasMore with total 45, got %+v", result)
	}
	if !strings.Contains(result.Message, "5 remaining") {
		t.Fatalf("message should name the remainder, got %q", result.Message)
	}
}

func TestRunFullReconciliation_CreateRunFailureAborts(t *testing.T) {
	client := &fakeClient{}
	subs := &fakeSubStore{subs: []models.Subscription{liveSub("sub_a", "price_basic", time.Now())}}
	runs := &fakeRunStore{createErr: errors.New("insert denied")}
	eng, _, _ := newTestEngine(client, subs, runs)

	result, err := eng.RunFullReconciliation(context.Background())
	if err == nil {
		t.Fatal("expected error when the audit row cannot be created")
	}
	if result.Success {
		t.Fatal("sweep must not report success without an audit row")
	}
	if subs.listCalled {
		t.Fatal("no store work may happen before the sync run exists")
	}
}

func TestRunFullReconciliation_ListFailureFailsRun(t *testing.T) {
	client := &fakeClient{}
	subs := &fakeSubStore{listErr: errors.New("connection reset")}
	runs := &fakeRunStore{}
	eng, _, _ := newTestEngine(client, subs, runs)

	result, err := eng.RunFullReconciliation(context.Background())
	if err == nil {
		t.Fatal("expected error when the eligible query fails")
	}
	done := runs.completions[result.SyncRunID]
	if done.Status != models.SyncRunStatusFailed {
		t.Fatalf("run must end failed, got %+v", done)
	}
	if done.ErrorMessage == nil || !strings.Contains(*done.ErrorMessage, "connection reset") {
		t.Fatalf("run must carry the cause, got %+v", done.ErrorMessage)
	}
}

func TestRunFullReconciliation_EmptySetShortCircuits(t *testing.T) {
	client := &fakeClient{}
	subs := &fakeSubStore{}
	runs := &fakeRunStore{}
	eng, _, _ := newTestEngine(client, subs, runs)

	result, err := eng.RunFullReconciliation(context.Background())
	if err != nil {
		t.Fatalf("RunFullReconciliation error: %v", err)
	}
	if !result.Success || result.Message != "No live subscriptions to reconcile" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(client.subCalls) != 0 {
		t.Fatalf("no provider calls expected for an empty set, got %v", client.subCalls)
	}
	if runs.completions[result.SyncRunID].Status != models.SyncRunStatusCompleted {
		t.Fatal("empty sweep still gets a completed audit row")
	}
}
