package engine

import (
	"errors"
	"testing"
	"time"

	"curveledger/internal/curve"
	"curveledger/internal/ledger"
	"curveledger/internal/testutil"
)

func newTestEngine(t *testing.T) (*Engine, chan Output, chan Notification) {
	t.Helper()
	persist := make(chan Output, 256)
	publish := make(chan Notification, 256)
	eng := New(ledger.NewStore(), 60, persist, publish, nil)
	return eng, persist, publish
}

func drain(ch chan Notification) []Notification {
	var out []Notification
	for {
		select {
		case n := <-ch:
			out = append(out, n)
		default:
			return out
		}
	}
}

func kinds(ns []Notification) map[NotificationKind]int {
	m := make(map[NotificationKind]int)
	for _, n := range ns {
		m[n.Kind]++
	}
	return m
}

func TestCreateTokenIdempotent(t *testing.T) {
	eng, persist, _ := newTestEngine(t)
	cfg := testutil.DefaultConfig("tok-1", "creator")

	if err := eng.CreateToken(cfg); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if err := eng.CreateToken(cfg); err != nil {
		t.Fatalf("redelivered create should be a no-op, got %v", err)
	}

	if got := len(persist); got != 1 {
		t.Errorf("persist outputs = %d, want 1 (duplicate must not re-persist)", got)
	}
}

func TestProcessTradeAppendsAndNotifies(t *testing.T) {
	eng, persist, publish := newTestEngine(t)
	cfg := testutil.DefaultConfig("tok-1", "creator")
	if err := eng.CreateToken(cfg); err != nil {
		t.Fatalf("create: %v", err)
	}
	drain(publish)
	<-persist

	tc := testutil.NewCurve(cfg)
	trade := tc.Buy("alice", 1_000)

	if err := eng.ProcessTrade(trade); err != nil {
		t.Fatalf("ProcessTrade: %v", err)
	}

	out := <-persist
	if out.Trade == nil || out.Trade.Seq != 1 {
		t.Fatalf("persist output = %+v, want trade seq 1", out)
	}

	got := kinds(drain(publish))
	for _, want := range []NotificationKind{NotifyTrade, NotifyCurveUpdate, NotifyPnLUpdate} {
		if got[want] != 1 {
			t.Errorf("notification %s count = %d, want 1", want, got[want])
		}
	}
}

func TestDuplicateTradeSkippedConflictRejected(t *testing.T) {
	eng, persist, publish := newTestEngine(t)
	cfg := testutil.DefaultConfig("tok-1", "creator")
	if err := eng.CreateToken(cfg); err != nil {
		t.Fatalf("create: %v", err)
	}

	tc := testutil.NewCurve(cfg)
	trade := tc.Buy("alice", 1_000)
	if err := eng.ProcessTrade(trade); err != nil {
		t.Fatalf("ProcessTrade: %v", err)
	}
	for len(persist) > 0 {
		<-persist
	}
	drain(publish)

	// Exact redelivery: silent skip, no new outputs.
	if err := eng.ProcessTrade(trade); err != nil {
		t.Fatalf("redelivery should be skipped, got %v", err)
	}
	if got := len(persist); got != 0 {
		t.Errorf("redelivery persisted %d outputs, want 0", got)
	}

	// Same sequence, different content: reject.
	conflict := trade
	conflict.BaseAmount++
	if err := eng.ProcessTrade(conflict); !errors.Is(err, ledger.ErrStaleSequence) {
		t.Errorf("conflicting seq err = %v, want ErrStaleSequence", err)
	}
}

func TestSequenceGapRejected(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	cfg := testutil.DefaultConfig("tok-1", "creator")
	if err := eng.CreateToken(cfg); err != nil {
		t.Fatalf("create: %v", err)
	}

	tc := testutil.NewCurve(cfg)
	if err := eng.ProcessTrade(tc.Buy("alice", 1_000)); err != nil {
		t.Fatalf("seq 1: %v", err)
	}

	gap := tc.Buy("alice", 1_000)
	gap.Seq = 5
	if err := eng.ProcessTrade(gap); !errors.Is(err, ledger.ErrSequenceGap) {
		t.Errorf("gap err = %v, want ErrSequenceGap", err)
	}
}

func TestGraduationFiresExactlyOnce(t *testing.T) {
	eng, _, publish := newTestEngine(t)
	cfg := testutil.DefaultConfig("tok-1", "creator")
	if err := eng.CreateToken(cfg); err != nil {
		t.Fatalf("create: %v", err)
	}
	drain(publish)

	// Large enough to push token reserves past the lock boundary.
	tc := testutil.NewCurve(cfg)
	if err := eng.ProcessTrade(tc.Buy("whale", 50_000)); err != nil {
		t.Fatalf("graduating buy: %v", err)
	}

	ns := drain(publish)
	if got := kinds(ns)[NotifyGraduation]; got != 1 {
		t.Fatalf("graduation notifications = %d, want 1", got)
	}
	for _, n := range ns {
		if n.Kind == NotifyGraduation && !n.State.IsGraduated {
			t.Error("graduation notification carries non-graduated state")
		}
	}

	// Further trades must not re-graduate even though completion stays at max.
	if err := eng.ProcessTrade(tc.Buy("whale", 1_000)); err != nil {
		t.Fatalf("post-graduation buy: %v", err)
	}
	if got := kinds(drain(publish))[NotifyGraduation]; got != 0 {
		t.Errorf("graduation re-fired %d times after the flip", got)
	}
}

func TestGraduationSurvivesSellBelowThreshold(t *testing.T) {
	eng, _, publish := newTestEngine(t)
	cfg := testutil.DefaultConfig("tok-1", "creator")
	if err := eng.CreateToken(cfg); err != nil {
		t.Fatalf("create: %v", err)
	}

	tc := testutil.NewCurve(cfg)
	buy := tc.Buy("whale", 50_000)
	if err := eng.ProcessTrade(buy); err != nil {
		t.Fatalf("graduating buy: %v", err)
	}
	drain(publish)

	// Selling most of the position drops completion below 100%, but the
	// flag is one-way.
	if err := eng.ProcessTrade(tc.Sell("whale", buy.TokenAmount/2)); err != nil {
		t.Fatalf("sell: %v", err)
	}
	for _, n := range drain(publish) {
		if n.Kind == NotifyCurveUpdate && !n.State.IsGraduated {
			t.Error("curve state lost graduation after sell")
		}
	}
}

func TestBandCrossingNotification(t *testing.T) {
	eng, _, publish := newTestEngine(t)
	cfg := testutil.DefaultConfig("tok-1", "creator")
	if err := eng.CreateToken(cfg); err != nil {
		t.Fatalf("create: %v", err)
	}
	drain(publish)

	tc := testutil.NewCurve(cfg)
	// Small buy stays in the early band.
	if err := eng.ProcessTrade(tc.Buy("alice", 500)); err != nil {
		t.Fatalf("small buy: %v", err)
	}
	if got := kinds(drain(publish))[NotifyBandChange]; got != 0 {
		t.Fatalf("band change on early-band trade, got %d", got)
	}

	// Push completion past 50%.
	if err := eng.ProcessTrade(tc.Buy("alice", 8_000)); err != nil {
		t.Fatalf("near-band buy: %v", err)
	}
	ns := drain(publish)
	if got := kinds(ns)[NotifyBandChange]; got != 1 {
		t.Fatalf("band change notifications = %d, want 1", got)
	}
	for _, n := range ns {
		if n.Kind == NotifyBandChange && n.Band != curve.BandNear {
			t.Errorf("band = %v, want BandNear", n.Band)
		}
	}
}

func TestCandleBucketRollNotification(t *testing.T) {
	eng, _, publish := newTestEngine(t)
	cfg := testutil.DefaultConfig("tok-1", "creator")
	if err := eng.CreateToken(cfg); err != nil {
		t.Fatalf("create: %v", err)
	}
	drain(publish)

	tc := testutil.NewCurve(cfg)
	if err := eng.ProcessTrade(tc.Buy("alice", 100)); err != nil {
		t.Fatalf("trade 1: %v", err)
	}
	firstBucket := tc.Now.Unix() - tc.Now.Unix()%60
	drain(publish)

	tc.Advance(90 * time.Second)
	if err := eng.ProcessTrade(tc.Buy("alice", 100)); err != nil {
		t.Fatalf("trade 2: %v", err)
	}

	var rolled *Notification
	for _, n := range drain(publish) {
		if n.Kind == NotifyCandleBucket {
			m := n
			rolled = &m
		}
	}
	if rolled == nil {
		t.Fatal("no candle bucket notification after crossing a minute boundary")
	}
	if rolled.BucketStart != firstBucket {
		t.Errorf("closed bucket = %d, want %d", rolled.BucketStart, firstBucket)
	}
}

func TestRestoreDoesNotEmit(t *testing.T) {
	eng, persist, publish := newTestEngine(t)
	cfg := testutil.DefaultConfig("tok-1", "creator")

	if err := eng.RestoreToken(cfg); err != nil {
		t.Fatalf("RestoreToken: %v", err)
	}
	tc := testutil.NewCurve(cfg)
	if err := eng.RestoreTrade(tc.Buy("whale", 50_000)); err != nil {
		t.Fatalf("RestoreTrade: %v", err)
	}

	if got := len(persist); got != 0 {
		t.Errorf("restore persisted %d outputs, want 0", got)
	}
	if got := len(publish); got != 0 {
		t.Errorf("restore published %d notifications, want 0", got)
	}

	// Replayed graduation must not re-fire on the next live trade.
	if err := eng.ProcessTrade(tc.Buy("whale", 1_000)); err != nil {
		t.Fatalf("live trade after restore: %v", err)
	}
	if got := kinds(drain(publish))[NotifyGraduation]; got != 0 {
		t.Errorf("graduation re-fired %d times after replay", got)
	}
}

func TestPublishDropDoesNotBlock(t *testing.T) {
	persist := make(chan Output, 256)
	publish := make(chan Notification, 1) // tiny: forces drops
	eng := New(ledger.NewStore(), 60, persist, publish, nil)

	cfg := testutil.DefaultConfig("tok-1", "creator")
	if err := eng.CreateToken(cfg); err != nil {
		t.Fatalf("create: %v", err)
	}

	tc := testutil.NewCurve(cfg)
	done := make(chan error, 1)
	go func() {
		for i := 0; i < 10; i++ {
			if err := eng.ProcessTrade(tc.Buy("alice", 100)); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ProcessTrade: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("engine blocked on a full publish channel")
	}
}
