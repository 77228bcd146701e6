package gossip

import "testing"

func TestSeenSetFirstObservationIsNotSeen(t *testing.T) {
	s := NewSeenSet()
	id := []byte("envelope-id-1")
	if s.Seen(id) {
		t.Fatal("first observation of an id must report not-seen")
	}
}

func TestSeenSetSecondObservationIsSeen(t *testing.T) {
	s := NewSeenSet()
	id := []byte("envelope-id-1")
	s.Seen(id)
	if !s.Seen(id) {
		t.Fatal("second observation of the same id must report seen")
	}
}

func TestSeenSetDistinctIDsAreIndependent(t *testing.T) {
	s := NewSeenSet()
	a := []byte("envelope-a")
	b := []byte("envelope-b")
	s.Seen(a)
	if s.Seen(b) {
		t.Fatal("a distinct id must not be reported as already seen")
	}
}

func TestEncodeDecodeMessageRoundTrip(t *testing.T) {
	msg := Message{ID: []byte("id-123"), TTL: 17, Sender: "peer-x", Payload: []byte("hello")}
	encoded := encodeMessage(msg)
	decoded, err := decodeMessage(encoded)
	if err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if decoded.TTL != msg.TTL || decoded.Sender != msg.Sender || string(decoded.Payload) != string(msg.Payload) {
		t.Fatalf("round trip mismatch: got %+v", decoded)
	}
}
