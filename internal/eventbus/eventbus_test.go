package eventbus

import "testing"

func TestPublishDeliversFIFOToAllSubscribers(t *testing.T) {
	b := New(nil)
	var order []int
	b.Subscribe(KindCombatEntered, func(Event) { order = append(order, 1) })
	b.Subscribe(KindCombatEntered, func(Event) { order = append(order, 2) })
	b.Subscribe(KindCombatEntered, func(Event) { order = append(order, 3) })

	b.Publish(Event{Kind: KindCombatEntered})

	want := []int{1, 2, 3}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestPublishOnlyReachesMatchingKind(t *testing.T) {
	b := New(nil)
	var got []Kind
	b.Subscribe(KindCombatEntered, func(ev Event) { got = append(got, ev.Kind) })
	b.Subscribe(KindCombatExited, func(ev Event) { got = append(got, ev.Kind) })

	b.Publish(Event{Kind: KindCombatEntered})

	if len(got) != 1 || got[0] != KindCombatEntered {
		t.Fatalf("got %v, want exactly one KindCombatEntered delivery", got)
	}
}

// TestPublishSurvivesSubscriberPanic covers spec.md §4.8's "a failing
// subscriber must not corrupt delivery to other subscribers" invariant.
func TestPublishSurvivesSubscriberPanic(t *testing.T) {
	b := New(nil)
	secondRan := false
	b.Subscribe(KindErrorOccurred, func(Event) { panic("boom") })
	b.Subscribe(KindErrorOccurred, func(Event) { secondRan = true })

	b.Publish(Event{Kind: KindErrorOccurred})

	if !secondRan {
		t.Fatal("expected second subscriber to run despite first subscriber's panic")
	}
}

func TestPublishWithNoSubscribersIsNoop(t *testing.T) {
	b := New(nil)
	b.Publish(Event{Kind: KindDetectionCompleted})
}

func TestSubscribeAfterPublishOnlyAffectsFutureEvents(t *testing.T) {
	b := New(nil)
	var count int
	b.Publish(Event{Kind: KindTargetClicked})
	b.Subscribe(KindTargetClicked, func(Event) { count++ })
	b.Publish(Event{Kind: KindTargetClicked})
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
}
