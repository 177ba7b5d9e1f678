package settings

import (
	"context"
	"testing"

	"github.com/hazyhaar/a11ypanel/dbopen"
)

func TestSQLite_LoadEmpty(t *testing.T) {
	s, err := NewSQLite(dbopen.OpenMemory(t))
	if err != nil {
		t.Fatal(err)
	}
	o, err := s.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if o != (Options{}) {
		t.Fatalf("got %+v, want zero options", o)
	}
}

func TestSQLite_SaveOverwrites(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLite(dbopen.OpenMemory(t))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Save(ctx, Options{SelectedArchive: "2024", SelectedRuleset: "WCAG_2_1"}); err != nil {
		t.Fatal(err)
	}
	want := Options{SelectedArchive: "latest", SelectedRuleset: "IBM_Accessibility"}
	if err := s.Save(ctx, want); err != nil {
		t.Fatal(err)
	}
	got, err := s.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	var n int
	s.db.QueryRow(`SELECT COUNT(*) FROM options`).Scan(&n)
	if n != 1 {
		t.Fatalf("rows = %d, want 1", n)
	}
}

func TestMemory(t *testing.T) {
	var m Memory
	ctx := context.Background()
	m.Save(ctx, Options{SelectedArchive: "a"})
	o, _ := m.Load(ctx)
	if o.SelectedArchive != "a" {
		t.Fatalf("got %+v", o)
	}
}
