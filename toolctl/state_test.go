package toolctl

import (
	"context"
	"encoding/json"
	"testing"
)

func TestMemoryStateStore_RoundTrip(t *testing.T) {
	store := NewMemoryStateStore()
	ctx := context.Background()

	if _, ok, err := store.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("Get(missing) = (_, %v, %v), want (_, false, nil)", ok, err)
	}

	if err := store.Set(ctx, "k", 42); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	v, ok, err := store.Get(ctx, "k")
	if err != nil || !ok || v != 42 {
		t.Fatalf("Get(k) = (%v, %v, %v), want (42, true, nil)", v, ok, err)
	}

	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok, _ := store.Get(ctx, "k"); ok {
		t.Errorf("Get(k) after Delete still found")
	}
}

func TestTenantStore_Isolation(t *testing.T) {
	backing := NewMemoryStateStore()
	ctx := context.Background()

	a := newTenantStore(backing, "tenant-a")
	b := newTenantStore(backing, "tenant-b")

	if err := a.Set(ctx, "shared-key", "a-value"); err != nil {
		t.Fatalf("a.Set() error = %v", err)
	}
	if err := b.Set(ctx, "shared-key", "b-value"); err != nil {
		t.Fatalf("b.Set() error = %v", err)
	}

	va, _, _ := a.Get(ctx, "shared-key")
	vb, _, _ := b.Get(ctx, "shared-key")
	if va != "a-value" || vb != "b-value" {
		t.Errorf("tenant isolation violated: a=%v b=%v", va, vb)
	}

	keys, err := a.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if len(keys) != 1 || keys[0] != "shared-key" {
		t.Errorf("a.Keys() = %v, want [shared-key] with tenant prefix stripped", keys)
	}
}

func TestKeyTrackingStore_TracksWrittenKeys(t *testing.T) {
	backing := &noKeysStore{data: map[string]any{}}
	store := WrapWithKeyTracking(backing)
	ctx := context.Background()

	_ = store.Set(ctx, "a", 1)
	_ = store.Set(ctx, "b", 2)
	_ = store.Delete(ctx, "a")

	keys, err := store.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if len(keys) != 1 || keys[0] != "b" {
		t.Errorf("Keys() = %v, want [b]", keys)
	}
}

// noKeysStore is a partialStore with no Keys method, forcing
// WrapWithKeyTracking to wrap it rather than pass it through.
type noKeysStore struct {
	data map[string]any
}

func (s *noKeysStore) Get(_ context.Context, key string) (any, bool, error) {
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *noKeysStore) Set(_ context.Context, key string, value any) error {
	s.data[key] = value
	return nil
}

func (s *noKeysStore) Delete(_ context.Context, key string) error {
	delete(s.data, key)
	return nil
}

// jsonRoundTrippedRecord mirrors a gate's persisted struct to exercise
// decodeStored's fallback path the way a JSON-backed StateStore (e.g.
// RedisStateStore) would: the value arrives back as a generic
// map[string]any, never as the original Go type.
type jsonRoundTrippedRecord struct {
	Owner     string `json:"owner"`
	ExpiresAt int64  `json:"expiresAt"`
}

func TestDecodeStored_DirectAssertion(t *testing.T) {
	original := jsonRoundTrippedRecord{Owner: "a", ExpiresAt: 100}
	got, ok := decodeStored[jsonRoundTrippedRecord](original)
	if !ok {
		t.Fatalf("decodeStored() ok = false, want true for a directly-typed value")
	}
	if got != original {
		t.Errorf("decodeStored() = %+v, want %+v", got, original)
	}
}

func TestDecodeStored_JSONFallback(t *testing.T) {
	original := jsonRoundTrippedRecord{Owner: "b", ExpiresAt: 200}

	// Simulate what a JSON-backed adapter's Get returns: the stored value
	// decoded into `any`, which encoding/json always represents as
	// map[string]any for an object.
	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if _, ok := generic.(jsonRoundTrippedRecord); ok {
		t.Fatalf("test setup invalid: generic decoded directly into the concrete type")
	}

	got, ok := decodeStored[jsonRoundTrippedRecord](generic)
	if !ok {
		t.Fatalf("decodeStored() ok = false, want true via JSON fallback")
	}
	if got != original {
		t.Errorf("decodeStored() = %+v, want %+v", got, original)
	}
}

func TestDecodeStored_Nil(t *testing.T) {
	if _, ok := decodeStored[jsonRoundTrippedRecord](nil); ok {
		t.Errorf("decodeStored(nil) ok = true, want false")
	}
}

func TestDecodeStored_IntFromFloat64(t *testing.T) {
	// Budget counters are stored as plain int but a JSON round trip always
	// produces float64 for numbers; decodeStored must still recover int.
	var generic any = float64(7)
	got, ok := decodeStored[int](generic)
	if !ok || got != 7 {
		t.Errorf("decodeStored[int](float64(7)) = (%v, %v), want (7, true)", got, ok)
	}
}
