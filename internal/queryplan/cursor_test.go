package queryplan

import (
	"errors"
	"testing"
	"time"

	"github.com/rpattn/querygate/internal/domain"
)

func TestCursorCodec_RoundTrip(t *testing.T) {
	codec := NewCursorCodec([]byte("secret"), time.Hour)

	token, err := codec.Encode(250)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	offset, err := codec.Decode(token)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if offset != 250 {
		t.Fatalf("expected offset 250, got %d", offset)
	}
}

func TestCursorCodec_Expired(t *testing.T) {
	codec := NewCursorCodec([]byte("secret"), time.Hour)

	token, err := codec.Encode(10)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	codec.WithClock(func() time.Time { return time.Now().Add(2 * time.Hour) })
	if _, err := codec.Decode(token); !errors.Is(err, domain.ErrExpiredOrInvalidCursor) {
		t.Fatalf("expected ErrExpiredOrInvalidCursor, got %v", err)
	}
}

func TestCursorCodec_Garbage(t *testing.T) {
	codec := NewCursorCodec([]byte("secret"), time.Hour)

	for _, token := range []string{"", "not-a-token", "a.b.c"} {
		if _, err := codec.Decode(token); !errors.Is(err, domain.ErrExpiredOrInvalidCursor) {
			t.Fatalf("token %q: expected ErrExpiredOrInvalidCursor, got %v", token, err)
		}
	}
}

func TestCursorCodec_WrongSecret(t *testing.T) {
	token, err := NewCursorCodec([]byte("secret-a"), time.Hour).Encode(5)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := NewCursorCodec([]byte("secret-b"), time.Hour).Decode(token); !errors.Is(err, domain.ErrExpiredOrInvalidCursor) {
		t.Fatalf("expected ErrExpiredOrInvalidCursor for wrong secret, got %v", err)
	}
}
