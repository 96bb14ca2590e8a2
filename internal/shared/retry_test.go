package shared

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestRetryOnConflictRetriesBusy(t *testing.T) {
	calls := 0
	err := RetryOnConflict(context.Background(), "save", 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetryOnConflictStopsOnOtherErrors(t *testing.T) {
	calls := 0
	boom := errors.New("no such table")
	err := RetryOnConflict(context.Background(), "save", 3, time.Millisecond, func() error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestIsSQLiteConflictError(t *testing.T) {
	if IsSQLiteConflictError(nil) {
		t.Error("nil is not a conflict")
	}
	if !IsSQLiteConflictError(errors.New("SQLITE_BUSY: busy")) {
		t.Error("expected busy to be a conflict")
	}
	if IsSQLiteConflictError(errors.New("constraint failed")) {
		t.Error("constraint is not a conflict")
	}
}

func TestIsSQLiteConflictErrorWrapped(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{errors.New("database is locked"), true},
		{fmt.Errorf("save: %w", errors.New("SQLITE_BUSY")), true},
		{errors.New("constraint failed"), false},
	}
	for _, tc := range cases {
		if got := IsSQLiteConflictError(tc.err); got != tc.want {
			t.Errorf("IsSQLiteConflictError(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
