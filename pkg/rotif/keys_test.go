package rotif

import "testing"

func TestStreamKey(t *testing.T) {
	if got, want := streamKey("orders.*"), "rotif:stream:orders.*"; got != want {
		t.Errorf("streamKey() = %q, want %q", got, want)
	}
}

func TestPublisherDedupKey(t *testing.T) {
	got := publisherDedupKey("orders.*", "orders.created", "abc123")
	want := "rotif:dedup:pub:orders.*:orders.created:abc123"
	if got != want {
		t.Errorf("publisherDedupKey() = %q, want %q", got, want)
	}
}

func TestConsumerDedupKey(t *testing.T) {
	got := consumerDedupKey("billing-group", "orders.created", "abc123")
	want := "rotif:dedup:con:billing-group:orders.created:abc123"
	if got != want {
		t.Errorf("consumerDedupKey() = %q, want %q", got, want)
	}
}

func TestPublisherAndConsumerDedupKeysNeverCollide(t *testing.T) {
	pub := publisherDedupKey("g", "orders.created", "abc123")
	con := consumerDedupKey("g", "orders.created", "abc123")
	if pub == con {
		t.Errorf("publisher and consumer dedup keys collided: %q", pub)
	}
}

func TestArchiveListKey(t *testing.T) {
	if got, want := archiveListKey("2026-07-30"), "rotif:dlq:archive:2026-07-30"; got != want {
		t.Errorf("archiveListKey() = %q, want %q", got, want)
	}
}
