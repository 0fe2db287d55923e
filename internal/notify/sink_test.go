package notify

import "testing"

func TestSink_PublishDeliversToSubscriber(t *testing.T) {
	s := NewSink(8)
	ch, unsubscribe := s.Subscribe()
	defer unsubscribe()

	s.Notify(SeverityInfo, "hello")

	select {
	case n := <-ch:
		if n.Message != "hello" || n.Severity != SeverityInfo {
			t.Fatalf("got %+v", n)
		}
	default:
		t.Fatal("expected a buffered notification")
	}
}

func TestSink_PublishFansOutToMultipleSubscribers(t *testing.T) {
	s := NewSink(8)
	ch1, unsub1 := s.Subscribe()
	defer unsub1()
	ch2, unsub2 := s.Subscribe()
	defer unsub2()

	s.Notify(SeverityWarning, "fanout")

	for _, ch := range []<-chan Notification{ch1, ch2} {
		select {
		case n := <-ch:
			if n.Message != "fanout" {
				t.Fatalf("got %+v", n)
			}
		default:
			t.Fatal("expected every subscriber to receive the notification")
		}
	}
}

func TestSink_UnsubscribeStopsDelivery(t *testing.T) {
	s := NewSink(8)
	ch, unsubscribe := s.Subscribe()
	unsubscribe()

	s.Notify(SeverityError, "after unsubscribe")

	if _, ok := <-ch; ok {
		t.Fatal("expected channel closed with no further values")
	}
	if s.SubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers, got %d", s.SubscriberCount())
	}
}

func TestSink_FullBufferDropsWithoutBlocking(t *testing.T) {
	s := NewSink(1)
	_, unsubscribe := s.Subscribe()
	defer unsubscribe()

	// Fill the buffer, then publish again — must not block.
	s.Notify(SeverityInfo, "first")
	done := make(chan struct{})
	go func() {
		s.Notify(SeverityInfo, "second")
		close(done)
	}()
	<-done
}
