package poller

import (
	"context"
	"sync"
	"sync/atomic"
)

type fakeAuth struct {
	token string
	err   error
	calls atomic.Int32
}

func (f *fakeAuth) Token(ctx context.Context) (string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	return f.token, nil
}

type fakeFetcher struct {
	mu sync.Mutex

	training    map[string]any
	trainingErr error
	panicOnInfo bool

	activities    map[string]any
	activitiesErr error

	details     map[string]map[string]any
	detailErrs  map[string]error
	detailCalls []string
	tokens      []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		training:   map[string]any{"success": true, "status": "Fresh"},
		activities: map[string]any{"success": true, "activities": []any{}},
		details:    map[string]map[string]any{},
		detailErrs: map[string]error{},
	}
}

func (f *fakeFetcher) TrainingInfo(ctx context.Context, token string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.panicOnInfo {
		panic("fetcher exploded")
	}
	f.tokens = append(f.tokens, token)
	return f.training, f.trainingErr
}

func (f *fakeFetcher) Activities(ctx context.Context, token string, lookbackDays int) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.tokens = append(f.tokens, token)
	return f.activities, f.activitiesErr
}

func (f *fakeFetcher) ActivityDetail(ctx context.Context, token string, path string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.detailCalls = append(f.detailCalls, path)
	if err := f.detailErrs[path]; err != nil {
		return nil, err
	}
	return f.details[path], nil
}

func (f *fakeFetcher) update(fn func(f *fakeFetcher)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeFetcher) detailPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.detailCalls...)
}

type delivery struct {
	eventType string
	payload   map[string]any
}

type fakeNotifier struct {
	mu         sync.Mutex
	err        error
	deliveries []delivery
}

func (f *fakeNotifier) Deliver(ctx context.Context, eventType string, payload map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return f.err
	}
	f.deliveries = append(f.deliveries, delivery{eventType, payload})
	return nil
}

func (f *fakeNotifier) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeNotifier) delivered() []delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]delivery(nil), f.deliveries...)
}
