package params

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestSetPreservesInsertionOrder(t *testing.T) {
	s := New()
	s.Set("name", "vm1")
	s.Set("cpus", "2")
	s.Set("memory", "1024")
	s.Set("cpus", "4")

	want := []string{"name", "cpus", "memory"}
	if got := s.Keys(); !reflect.DeepEqual(got, want) {
		t.Errorf("Keys() = %v, want %v", got, want)
	}
	if v, _ := s.Get("cpus"); v != "4" {
		t.Errorf("cpus = %q, want %q", v, "4")
	}
}

func TestReplaceMovesKeyToEnd(t *testing.T) {
	s := New()
	s.Set("a", "1")
	s.Set("b", "2")
	s.Replace("a", "3")

	want := []string{"b", "a"}
	if got := s.Keys(); !reflect.DeepEqual(got, want) {
		t.Errorf("Keys() = %v, want %v", got, want)
	}
	if v, _ := s.Get("a"); v != "3" {
		t.Errorf("a = %q, want 3", v)
	}
}

func TestAddMissingKeepsExisting(t *testing.T) {
	s := New()
	s.Set("cpus", "8")

	src := New()
	src.Set("cpus", "1")
	src.Set("memory", "2048")

	s.AddMissing(src)

	if v, _ := s.Get("cpus"); v != "8" {
		t.Errorf("cpus = %q, want 8", v)
	}
	if v, _ := s.Get("memory"); v != "2048" {
		t.Errorf("memory = %q, want 2048", v)
	}
}

func TestDelete(t *testing.T) {
	s := New()
	s.Set("userData", "x")
	if !s.Delete("userData") {
		t.Fatal("Delete should report a present key")
	}
	if s.Delete("userData") {
		t.Error("second Delete should report absence")
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}
}

func TestInt(t *testing.T) {
	s := New()
	s.Set("flags", "49")
	s.Set("bad", "4x")

	n, ok, err := s.Int("flags")
	if err != nil || !ok || n != 49 {
		t.Errorf("Int(flags) = %d, %v, %v", n, ok, err)
	}
	if _, ok, err := s.Int("missing"); ok || err != nil {
		t.Errorf("Int(missing) = %v, %v; want false, nil", ok, err)
	}
	if _, _, err := s.Int("bad"); err == nil {
		t.Error("Int(bad) should fail")
	}
}

func TestJSONKeepsOrder(t *testing.T) {
	s := New()
	s.Set("z", "1")
	s.Set("a", "2")

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	loaded := New()
	if err := json.Unmarshal(data, loaded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got := loaded.Keys(); !reflect.DeepEqual(got, []string{"z", "a"}) {
		t.Errorf("Keys() after round-trip = %v", got)
	}
}

func TestNilSetIsEmpty(t *testing.T) {
	var s *Set
	if s.Len() != 0 || s.Has("x") || s.Keys() != nil {
		t.Error("nil Set should behave as empty")
	}
}
