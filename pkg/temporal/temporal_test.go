package temporal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/juspay/hippocampus/pkg/store"
	"github.com/juspay/hippocampus/pkg/store/memstore"
)

func newTestService(t *testing.T) (*Service, *memstore.Store, *time.Time) {
	t.Helper()
	st := memstore.New()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	st.Clock = clock
	svc := New(st, nil, WithClock(clock))
	return svc, st, &now
}

func ptr[T any](v T) *T { return &v }

func TestRecordFactSupersedesCurrent(t *testing.T) {
	svc, _, now := newTestService(t)
	ctx := context.Background()

	first, err := svc.RecordFact(ctx, "u", RecordInput{
		Entity: "speaker", Attribute: "phone", Value: "Samsung",
	})
	if err != nil {
		t.Fatalf("record first: %v", err)
	}
	if first.EffectiveUntil != nil {
		t.Fatal("first fact must be open")
	}
	if first.Certainty != DefaultCertainty {
		t.Errorf("certainty = %f, want default 1", first.Certainty)
	}

	*now = now.Add(time.Hour)
	second, err := svc.RecordFact(ctx, "u", RecordInput{
		Entity: "speaker", Attribute: "phone", Value: "iPhone",
	})
	if err != nil {
		t.Fatalf("record second: %v", err)
	}

	// The old fact is closed at the supersession instant.
	old, err := svc.Get(ctx, "u", first.ID)
	if err != nil {
		t.Fatal(err)
	}
	if old.EffectiveUntil == nil || !old.EffectiveUntil.Equal(*now) {
		t.Errorf("superseded fact not closed at now: %v", old.EffectiveUntil)
	}

	current, err := svc.CurrentFact(ctx, "u", "speaker", "phone")
	if err != nil {
		t.Fatalf("current fact: %v", err)
	}
	if current.ID != second.ID || current.Value != "iPhone" {
		t.Errorf("current = %+v, want the second fact", current)
	}

	// Old fact links forward to its replacement.
	related, err := svc.Related(ctx, "u", first.ID)
	if err != nil {
		t.Fatalf("related: %v", err)
	}
	if len(related) != 1 || related[0].ID != second.ID {
		t.Errorf("related = %+v, want the superseding fact", related)
	}
}

func TestRecordFactExplicitEffectiveFromSkipsSupersession(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	open, err := svc.RecordFact(ctx, "u", RecordInput{
		Entity: "speaker", Attribute: "city", Value: "Austin",
	})
	if err != nil {
		t.Fatal(err)
	}

	past := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	backdated, err := svc.RecordFact(ctx, "u", RecordInput{
		Entity: "speaker", Attribute: "city", Value: "Boston",
		EffectiveFrom: &past,
	})
	if err != nil {
		t.Fatalf("backdated record: %v", err)
	}
	if !backdated.EffectiveFrom.Equal(past) {
		t.Errorf("effectiveFrom = %v, want %v", backdated.EffectiveFrom, past)
	}

	// The open fact must still be open: explicit effectiveFrom is an
	// archival insert, not a supersession.
	got, err := svc.Get(ctx, "u", open.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.EffectiveUntil != nil {
		t.Error("explicit effectiveFrom must not close the current fact")
	}
}

func TestRecordFactValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	cases := []RecordInput{
		{Attribute: "a", Value: "v"},
		{Entity: "e", Value: "v"},
		{Entity: "e", Attribute: "a"},
		{Entity: "e", Attribute: "a", Value: "v", Certainty: ptr(1.5)},
	}
	for i, in := range cases {
		if _, err := svc.RecordFact(ctx, "u", in); !errors.Is(err, store.ErrInvalidInput) {
			t.Errorf("case %d: expected validation error, got %v", i, err)
		}
	}
	if _, err := svc.RecordFact(ctx, "", RecordInput{Entity: "e", Attribute: "a", Value: "v"}); !errors.Is(err, store.ErrInvalidInput) {
		t.Errorf("missing owner: expected validation error, got %v", err)
	}
}

func TestTimelineAscending(t *testing.T) {
	svc, _, now := newTestService(t)
	ctx := context.Background()

	values := []string{"Samsung", "iPhone", "Pixel"}
	for _, v := range values {
		if _, err := svc.RecordFact(ctx, "u", RecordInput{
			Entity: "speaker", Attribute: "phone", Value: v,
		}); err != nil {
			t.Fatal(err)
		}
		*now = now.Add(time.Hour)
	}

	timeline, err := svc.Timeline(ctx, "u", "speaker")
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if len(timeline) != 3 {
		t.Fatalf("timeline length = %d, want 3", len(timeline))
	}
	for i, v := range values {
		if timeline[i].Value != v {
			t.Errorf("timeline[%d] = %s, want %s", i, timeline[i].Value, v)
		}
	}
	// Exactly one open fact survives three supersessions.
	open := 0
	for _, c := range timeline {
		if c.EffectiveUntil == nil {
			open++
		}
	}
	if open != 1 {
		t.Errorf("open facts = %d, want 1", open)
	}
}

func TestQueryAsOf(t *testing.T) {
	svc, _, now := newTestService(t)
	ctx := context.Background()

	t0 := *now
	if _, err := svc.RecordFact(ctx, "u", RecordInput{Entity: "speaker", Attribute: "phone", Value: "Samsung"}); err != nil {
		t.Fatal(err)
	}
	*now = t0.Add(2 * time.Hour)
	if _, err := svc.RecordFact(ctx, "u", RecordInput{Entity: "speaker", Attribute: "phone", Value: "iPhone"}); err != nil {
		t.Fatal(err)
	}

	// Between the two records, Samsung held.
	mid := t0.Add(time.Hour)
	got, err := svc.Query(ctx, "u", store.ChronicleQuery{Entity: "speaker", Attribute: "phone", At: &mid})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 || got[0].Value != "Samsung" {
		t.Errorf("as-of query = %+v, want the Samsung fact", got)
	}

	// Exactly at the supersession instant the new fact holds: intervals
	// are half-open.
	at := t0.Add(2 * time.Hour)
	got, err = svc.Query(ctx, "u", store.ChronicleQuery{Entity: "speaker", Attribute: "phone", At: &at})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Value != "iPhone" {
		t.Errorf("boundary query = %+v, want the iPhone fact", got)
	}
}

func TestExpireIsIdempotent(t *testing.T) {
	svc, _, now := newTestService(t)
	ctx := context.Background()

	c, err := svc.RecordFact(ctx, "u", RecordInput{Entity: "e", Attribute: "a", Value: "v"})
	if err != nil {
		t.Fatal(err)
	}

	*now = now.Add(time.Hour)
	expired, err := svc.Expire(ctx, "u", c.ID)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if expired.EffectiveUntil == nil || !expired.EffectiveUntil.Equal(*now) {
		t.Errorf("effectiveUntil = %v, want %v", expired.EffectiveUntil, *now)
	}

	*now = now.Add(time.Hour)
	again, err := svc.Expire(ctx, "u", c.ID)
	if err != nil {
		t.Fatalf("second expire: %v", err)
	}
	if !again.EffectiveUntil.Equal(*expired.EffectiveUntil) {
		t.Error("expiring a closed chronicle must not move effectiveUntil")
	}
}

func TestUpdatePatchesFields(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	c, err := svc.RecordFact(ctx, "u", RecordInput{Entity: "e", Attribute: "a", Value: "v"})
	if err != nil {
		t.Fatal(err)
	}

	got, err := svc.Update(ctx, "u", c.ID, UpdateInput{Value: ptr("v2"), Certainty: ptr(0.7)})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Value != "v2" || got.Certainty != 0.7 {
		t.Errorf("update result = %+v", got)
	}
	if got.EffectiveUntil != nil {
		t.Error("update must not touch validity")
	}

	if _, err := svc.Update(ctx, "u", c.ID, UpdateInput{Certainty: ptr(2.0)}); !errors.Is(err, store.ErrInvalidInput) {
		t.Errorf("expected validation error, got %v", err)
	}
	if _, err := svc.Update(ctx, "u", "ghost", UpdateInput{Value: ptr("x")}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected not-found, got %v", err)
	}
}

func TestLinkAndRelated(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	a, _ := svc.RecordFact(ctx, "u", RecordInput{Entity: "a", Attribute: "x", Value: "1"})
	b, _ := svc.RecordFact(ctx, "u", RecordInput{Entity: "b", Attribute: "x", Value: "2"})
	c, _ := svc.RecordFact(ctx, "u", RecordInput{Entity: "c", Attribute: "x", Value: "3"})

	if _, err := svc.Link(ctx, "u", LinkInput{OriginID: a.ID, LinkedID: b.ID, BondType: "caused_by"}); err != nil {
		t.Fatalf("link: %v", err)
	}
	if _, err := svc.Link(ctx, "u", LinkInput{OriginID: c.ID, LinkedID: a.ID, BondType: "related_to", Strength: ptr(0.4)}); err != nil {
		t.Fatalf("link: %v", err)
	}

	related, err := svc.Related(ctx, "u", a.ID)
	if err != nil {
		t.Fatalf("related: %v", err)
	}
	if len(related) != 2 {
		t.Fatalf("related = %d chronicles, want 2 (both directions)", len(related))
	}

	if _, err := svc.Link(ctx, "u", LinkInput{OriginID: a.ID, LinkedID: "ghost", BondType: "related_to"}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected not-found for dangling link, got %v", err)
	}
	if _, err := svc.Link(ctx, "u", LinkInput{OriginID: a.ID, LinkedID: b.ID}); !errors.Is(err, store.ErrInvalidInput) {
		t.Errorf("expected validation error for missing bondType, got %v", err)
	}
}

func TestOwnerIsolation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	c, err := svc.RecordFact(ctx, "alice", RecordInput{Entity: "e", Attribute: "a", Value: "v"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Get(ctx, "bob", c.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("cross-owner get must be not-found, got %v", err)
	}
	if _, err := svc.CurrentFact(ctx, "bob", "e", "a"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("cross-owner current fact must be not-found, got %v", err)
	}
}
