package categorysync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/deviceops/categorysync/internal/mdm"
)

type scriptedFetcher struct {
	categories []string
	errs       []error
	calls      int
}

func (f *scriptedFetcher) GetDevice(ctx context.Context, deviceID string) (*mdm.Device, error) {
	idx := f.calls
	f.calls++
	if idx < len(f.errs) && f.errs[idx] != nil {
		return nil, f.errs[idx]
	}
	category := ""
	if idx < len(f.categories) {
		category = f.categories[idx]
	} else if len(f.categories) > 0 {
		category = f.categories[len(f.categories)-1]
	}
	return &mdm.Device{ID: deviceID, CategoryDisplayName: category}, nil
}

func TestVerifySkippedWhenRetriesDisabled(t *testing.T) {
	fetcher := &scriptedFetcher{categories: []string{"Finance"}}
	outcome, err := VerifyDeviceCategory(context.Background(), fetcher, "d1", "Finance", 0, time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeSkipped {
		t.Fatalf("expected skipped, got %s", outcome)
	}
	if fetcher.calls != 0 {
		t.Fatalf("expected zero fetches, got %d", fetcher.calls)
	}
}

func TestVerifySucceedsOnFirstFetch(t *testing.T) {
	fetcher := &scriptedFetcher{categories: []string{"Finance"}}
	outcome, err := VerifyDeviceCategory(context.Background(), fetcher, "d1", "Finance", 3, time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeSuccess {
		t.Fatalf("expected success, got %s", outcome)
	}
	if fetcher.calls != 1 {
		t.Fatalf("expected exactly one fetch, got %d", fetcher.calls)
	}
}

func TestVerifyTimesOutAfterBudget(t *testing.T) {
	fetcher := &scriptedFetcher{categories: []string{"Unassigned"}}
	outcome, err := VerifyDeviceCategory(context.Background(), fetcher, "d1", "Finance", 2, time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeTimedOut {
		t.Fatalf("expected timed out, got %s", outcome)
	}
	if fetcher.calls != 3 {
		t.Fatalf("expected maxRetries+1 fetches, got %d", fetcher.calls)
	}
}

func TestVerifySucceedsAfterRetries(t *testing.T) {
	fetcher := &scriptedFetcher{categories: []string{"Unassigned", "Unassigned", "Finance"}}
	outcome, err := VerifyDeviceCategory(context.Background(), fetcher, "d1", "Finance", 5, time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeSuccess {
		t.Fatalf("expected success, got %s", outcome)
	}
	if fetcher.calls != 3 {
		t.Fatalf("expected three fetches, got %d", fetcher.calls)
	}
}

func TestVerifyFetchErrorCountsAsMismatch(t *testing.T) {
	fetcher := &scriptedFetcher{
		categories: []string{"", "Finance"},
		errs:       []error{errors.New("transient")},
	}
	outcome, err := VerifyDeviceCategory(context.Background(), fetcher, "d1", "Finance", 2, time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeSuccess {
		t.Fatalf("expected success after transient error, got %s", outcome)
	}
	if fetcher.calls != 2 {
		t.Fatalf("expected two fetches, got %d", fetcher.calls)
	}
}

func TestVerifyCanceledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fetcher := &scriptedFetcher{categories: []string{"Unassigned"}}
	outcome, err := VerifyDeviceCategory(ctx, fetcher, "d1", "Finance", 2, time.Minute)
	if err == nil {
		t.Fatal("expected context error")
	}
	if outcome != OutcomeTimedOut {
		t.Fatalf("expected timed out on cancellation, got %s", outcome)
	}
}
