package contact_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/lifeline/internal/contact"
)

func names(cs []contact.Contact) string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Name
	}
	return strings.Join(out, ",")
}

func TestMemStore_AddPreservesOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := contact.NewMemStore()

	for _, n := range []string{"Carol", "Alice", "Bob"} {
		if _, err := s.Add(ctx, contact.Contact{Name: n, Phone: "+1"}); err != nil {
			t.Fatalf("Add(%s): %v", n, err)
		}
	}
	got, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if names(got) != "Carol,Alice,Bob" {
		t.Errorf("order = %s, want Carol,Alice,Bob", names(got))
	}
}

func TestMemStore_Add(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("generates id and timestamp", func(t *testing.T) {
		t.Parallel()
		s := contact.NewMemStore()
		c, err := s.Add(ctx, contact.Contact{Name: "Alice"})
		if err != nil {
			t.Fatal(err)
		}
		if c.ID == "" || c.CreatedAt.IsZero() {
			t.Errorf("got %+v, want generated ID and CreatedAt", c)
		}
	})

	t.Run("duplicate id", func(t *testing.T) {
		t.Parallel()
		s := contact.NewMemStore()
		c := contact.Contact{ID: "c1", Name: "Alice"}
		if _, err := s.Add(ctx, c); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Add(ctx, c); !errors.Is(err, contact.ErrDuplicateID) {
			t.Errorf("err = %v, want ErrDuplicateID", err)
		}
	})

	t.Run("empty name rejected", func(t *testing.T) {
		t.Parallel()
		s := contact.NewMemStore()
		if _, err := s.Add(ctx, contact.Contact{Phone: "+1"}); err == nil {
			t.Error("expected validation error")
		}
	})
}

func TestMemStore_UpdateRemove(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := contact.NewMemStore()
	a, _ := s.Add(ctx, contact.Contact{Name: "Alice"})
	b, _ := s.Add(ctx, contact.Contact{Name: "Bob"})

	a.Phone = "+4912345"
	a.Name = "Alice Doe"
	if err := s.Update(ctx, a); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Get(ctx, a.ID)
	if got.Phone != "+4912345" || got.Name != "Alice Doe" {
		t.Errorf("after update = %+v", got)
	}
	list, _ := s.List(ctx)
	if names(list) != "Alice Doe,Bob" {
		t.Errorf("update moved contact: %s", names(list))
	}

	if err := s.Update(ctx, contact.Contact{ID: "missing", Name: "x"}); !errors.Is(err, contact.ErrNotFound) {
		t.Errorf("update missing = %v", err)
	}
	if err := s.Remove(ctx, b.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.Remove(ctx, b.ID); !errors.Is(err, contact.ErrNotFound) {
		t.Errorf("second remove = %v", err)
	}
	if _, err := s.Get(ctx, b.ID); !errors.Is(err, contact.ErrNotFound) {
		t.Errorf("get removed = %v", err)
	}
}

func TestMemStore_ListIsCopy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := contact.NewMemStore()
	_, _ = s.Add(ctx, contact.Contact{Name: "Alice"})

	list, _ := s.List(ctx)
	list[0].Name = "Mallory"
	_, _ = s.Add(ctx, contact.Contact{Name: "Bob"})

	if len(list) != 1 {
		t.Errorf("snapshot grew to %d", len(list))
	}
	again, _ := s.List(ctx)
	if again[0].Name != "Alice" {
		t.Errorf("store mutated through snapshot: %s", again[0].Name)
	}
}

func TestMemStore_Concurrent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := contact.NewMemStore()

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Add(ctx, contact.Contact{Name: "x"})
			_, _ = s.List(ctx)
		}()
	}
	wg.Wait()
	list, _ := s.List(ctx)
	if len(list) != 50 {
		t.Errorf("len = %d, want 50", len(list))
	}
}

func TestContact_Dispatchable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		phone string
		want  bool
	}{
		{"+15551234", true},
		{"", false},
		{"   ", false},
	}
	for _, tt := range tests {
		if got := (contact.Contact{Name: "x", Phone: tt.phone}).Dispatchable(); got != tt.want {
			t.Errorf("Dispatchable(%q) = %v, want %v", tt.phone, got, tt.want)
		}
	}
}

func TestLoadAndImport(t *testing.T) {
	t.Parallel()
	const doc = `
contacts:
  - id: "sis"
    name: "Alice"
    phone: "+15551234567"
    relationship: "sister"
  - name: "Bob"
`
	cf, err := contact.LoadFromReader(strings.NewReader(doc))
	if err != nil {
		t.Fatal(err)
	}
	s := contact.NewMemStore()
	n, err := contact.Import(context.Background(), s, cf)
	if err != nil || n != 2 {
		t.Fatalf("Import = %d, %v", n, err)
	}

	// Re-import skips the contact with a fixed ID.
	n, err = contact.Import(context.Background(), s, cf)
	if err != nil || n != 1 {
		t.Fatalf("re-import = %d, %v; want 1 new", n, err)
	}
	list, _ := s.List(context.Background())
	if names(list) != "Alice,Bob,Bob" {
		t.Errorf("contacts = %s", names(list))
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := contact.LoadFromReader(strings.NewReader("contacts:\n  - name: a\n    email: x\n"))
	if err == nil {
		t.Error("expected error for unknown field")
	}
}
