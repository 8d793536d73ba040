package token

import (
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
)

func newTestCodec() *Codec {
	return NewCodec([]byte("test-secret-at-least-32-bytes-long"))
}

func TestSignAndVerifyRoundTrip(t *testing.T) {
	c := newTestCodec()
	userID := uuid.Must(uuid.NewV7())

	t.Run("plain payload survives round trip", func(t *testing.T) {
		p := Payload{ID: userID, Identifier: "user@example.com", Role: "USER"}

		raw, err := c.Sign(p, time.Hour)
		if err != nil {
			t.Fatalf("Sign failed: %v", err)
		}

		got, err := c.Verify(raw)
		if err != nil {
			t.Fatalf("Verify failed: %v", err)
		}
		if got.ID != p.ID {
			t.Errorf("ID: expected %v, got %v", p.ID, got.ID)
		}
		if got.Identifier != p.Identifier {
			t.Errorf("Identifier: expected %q, got %q", p.Identifier, got.Identifier)
		}
		if got.Role != p.Role {
			t.Errorf("Role: expected %q, got %q", p.Role, got.Role)
		}
		if got.TempKey != nil {
			t.Errorf("TempKey: expected nil, got %+v", got.TempKey)
		}
	})

	t.Run("temp key data survives round trip", func(t *testing.T) {
		p := Payload{
			ID:         userID,
			Identifier: "user@example.com",
			Role:       "USER",
			TempKey:    &TempKeyData{ID: uuid.Must(uuid.NewV7()).String(), Type: "RESET_PASSWORD"},
		}

		raw, err := c.Sign(p, time.Hour)
		if err != nil {
			t.Fatalf("Sign failed: %v", err)
		}

		got, err := c.Verify(raw)
		if err != nil {
			t.Fatalf("Verify failed: %v", err)
		}
		if got.TempKey == nil {
			t.Fatal("TempKey: expected data, got nil")
		}
		if got.TempKey.ID != p.TempKey.ID {
			t.Errorf("TempKey.ID: expected %q, got %q", p.TempKey.ID, got.TempKey.ID)
		}
		if got.TempKey.Type != p.TempKey.Type {
			t.Errorf("TempKey.Type: expected %q, got %q", p.TempKey.Type, got.TempKey.Type)
		}
	})
}

func TestVerifyExpired(t *testing.T) {
	c := newTestCodec()

	t.Run("stale token classified as expired, not invalid", func(t *testing.T) {
		raw, err := c.Sign(Payload{ID: uuid.Must(uuid.NewV7()), Identifier: "a@b.co", Role: "USER"}, -1*time.Second)
		if err != nil {
			t.Fatalf("Sign failed: %v", err)
		}

		_, err = c.Verify(raw)
		if !errors.Is(err, ErrExpired) {
			t.Fatalf("expected ErrExpired, got %v", err)
		}
		if errors.Is(err, ErrInvalid) {
			t.Fatal("expired token must not also classify as invalid")
		}
	})
}

func TestVerifyInvalid(t *testing.T) {
	c := newTestCodec()

	t.Run("garbage token", func(t *testing.T) {
		_, err := c.Verify("not.a.token")
		if !errors.Is(err, ErrInvalid) {
			t.Fatalf("expected ErrInvalid, got %v", err)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewCodec([]byte("a-completely-different-secret-key"))
		raw, err := other.Sign(Payload{ID: uuid.Must(uuid.NewV7()), Identifier: "a@b.co", Role: "USER"}, time.Hour)
		if err != nil {
			t.Fatalf("Sign failed: %v", err)
		}

		_, err = c.Verify(raw)
		if !errors.Is(err, ErrInvalid) {
			t.Fatalf("expected ErrInvalid, got %v", err)
		}
		if errors.Is(err, ErrExpired) {
			t.Fatal("bad signature must not classify as expired")
		}
	})

	t.Run("zero uuid subject still parses", func(t *testing.T) {
		raw, err := c.Sign(Payload{Identifier: "a@b.co", Role: "USER"}, time.Hour)
		if err != nil {
			t.Fatalf("Sign failed: %v", err)
		}
		got, err := c.Verify(raw)
		if err != nil {
			t.Fatalf("Verify failed: %v", err)
		}
		if !got.ID.IsNil() {
			t.Errorf("expected zero UUID, got %v", got.ID)
		}
	})
}
