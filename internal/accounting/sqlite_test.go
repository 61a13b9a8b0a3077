package accounting

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"newsfan/pkg/logx"
)

func openTestSQLite(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "accounting.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSQLiteSetNXFirstClaimWins(t *testing.T) {
	t.Parallel()
	st := openTestSQLite(t)
	ctx := context.Background()

	won, err := st.SetNX(ctx, "fp:a", time.Hour)
	if err != nil {
		t.Fatalf("SetNX error: %v", err)
	}
	if !won {
		t.Fatal("first claim lost")
	}
	won, err = st.SetNX(ctx, "fp:a", time.Hour)
	if err != nil {
		t.Fatalf("SetNX error: %v", err)
	}
	if won {
		t.Fatal("second claim won against a live key")
	}
}

func TestSQLiteSetNXExpiredKeyReclaimed(t *testing.T) {
	t.Parallel()
	st := openTestSQLite(t)
	ctx := context.Background()

	if won, err := st.SetNX(ctx, "fp:b", 10*time.Millisecond); err != nil || !won {
		t.Fatalf("SetNX = (%v, %v), want first claim to win", won, err)
	}
	time.Sleep(30 * time.Millisecond)
	won, err := st.SetNX(ctx, "fp:b", time.Hour)
	if err != nil {
		t.Fatalf("SetNX error: %v", err)
	}
	if !won {
		t.Fatal("expired key was not reclaimed")
	}
}

func TestSQLiteSetNXConcurrentSingleWinner(t *testing.T) {
	t.Parallel()
	st := openTestSQLite(t)
	ctx := context.Background()

	const n = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := st.SetNX(ctx, "fp:c", time.Hour)
			if err != nil {
				t.Errorf("SetNX error: %v", err)
				return
			}
			if won {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("winners = %d, want exactly 1", wins)
	}
}

func TestSQLiteIncrDayAndBatchRead(t *testing.T) {
	t.Parallel()
	st := openTestSQLite(t)
	ctx := context.Background()
	day := Day(time.Now())

	for i := 0; i < 3; i++ {
		if _, err := st.IncrDay(ctx, 1, day); err != nil {
			t.Fatalf("IncrDay error: %v", err)
		}
	}
	if n, err := st.IncrDay(ctx, 2, day); err != nil || n != 1 {
		t.Fatalf("IncrDay = (%d, %v), want first increment = 1", n, err)
	}

	counts, err := st.CountsForDay(ctx, []int64{1, 2, 3}, day)
	if err != nil {
		t.Fatalf("CountsForDay error: %v", err)
	}
	if counts[1] != 3 || counts[2] != 1 {
		t.Fatalf("counts = %v, want 1:3 and 2:1", counts)
	}
	if _, ok := counts[3]; ok {
		t.Fatalf("counts = %v, untouched subscriber must be absent", counts)
	}
}

func TestSQLiteAppendRecentNewestFirstCapped(t *testing.T) {
	t.Parallel()
	st := openTestSQLite(t)
	ctx := context.Background()

	titles := []string{"one", "two", "three", "four"}
	for _, title := range titles {
		if err := st.AppendRecent(ctx, 7, title, 3); err != nil {
			t.Fatalf("AppendRecent(%q) error: %v", title, err)
		}
	}

	recents, err := st.RecentTitles(ctx, []int64{7})
	if err != nil {
		t.Fatalf("RecentTitles error: %v", err)
	}
	got := recents[7]
	want := []string{"four", "three", "two"}
	if len(got) != len(want) {
		t.Fatalf("recents = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("recents = %v, want %v", got, want)
		}
	}
}

func TestSQLitePruneDropsExpired(t *testing.T) {
	t.Parallel()
	st := openTestSQLite(t)
	ctx := context.Background()

	if _, err := st.SetNX(ctx, "fp:gone", 5*time.Millisecond); err != nil {
		t.Fatalf("SetNX error: %v", err)
	}
	if _, err := st.SetNX(ctx, "fp:live", time.Hour); err != nil {
		t.Fatalf("SetNX error: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	if err := st.Prune(ctx); err != nil {
		t.Fatalf("Prune error: %v", err)
	}

	// The expired key is claimable again, the live one is not.
	if won, err := st.SetNX(ctx, "fp:gone", time.Hour); err != nil || !won {
		t.Fatalf("SetNX after prune = (%v, %v), want reclaim", won, err)
	}
	if won, err := st.SetNX(ctx, "fp:live", time.Hour); err != nil || won {
		t.Fatalf("SetNX on live key = (%v, %v), want rejection", won, err)
	}
}
