package config

import "testing"

func TestByteSizeAbsolute(t *testing.T) {
	var s ByteSize
	if err := s.UnmarshalText([]byte("250GB")); err != nil {
		t.Fatal(err)
	}
	if s.IsPercent() {
		t.Fatal("expected absolute byte size, not a percentage")
	}
	if s.ResolveAgainst(0) != 250*1000*1000*1000 {
		t.Fatalf("unexpected byte count: %d", s.ResolveAgainst(0))
	}
}

func TestByteSizePercent(t *testing.T) {
	var s ByteSize
	if err := s.UnmarshalText([]byte("50%")); err != nil {
		t.Fatal(err)
	}
	if !s.IsPercent() {
		t.Fatal("expected percentage byte size")
	}
	if got := s.ResolveAgainst(1000); got != 500 {
		t.Fatalf("expected 500, got %d", got)
	}
}

func TestByteSizeEmptyIsZero(t *testing.T) {
	var s ByteSize
	if err := s.UnmarshalText([]byte("")); err != nil {
		t.Fatal(err)
	}
	if s != 0 {
		t.Fatalf("expected zero value for empty string, got %d", s)
	}
}

func TestByteSizeInvalidPercent(t *testing.T) {
	var s ByteSize
	if err := s.UnmarshalText([]byte("150%")); err == nil {
		t.Fatal("expected error for out-of-range percentage")
	}
}

func TestByteSizePlainNumberIsRawBytes(t *testing.T) {
	var s ByteSize
	if err := s.UnmarshalText([]byte("250")); err != nil {
		t.Fatal(err)
	}
	if s.IsPercent() {
		t.Fatal("expected absolute byte size")
	}
	if s.ResolveAgainst(0) != 250 {
		t.Fatalf("expected humanize.ParseBytes to treat bare numbers as raw bytes, got %d", s.ResolveAgainst(0))
	}
}
