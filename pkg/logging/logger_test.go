package logging

import "testing"

func TestNilLoggerIsSilent(t *testing.T) {
	var l *Logger
	// None of these should panic on a nil receiver.
	l.Print("hello")
	l.Printf("hello %d", 1)
	l.Println("hello")
	l.Debug("hello")
	l.Warn(nil)
	l.Error(nil)
	if l.Level() != LevelDisabled {
		t.Fatalf("expected nil logger to report LevelDisabled, got %v", l.Level())
	}
	if l.Sublogger("x") != nil {
		t.Fatalf("expected nil logger's sublogger to also be nil")
	}
}

func TestSubloggerSharesLevel(t *testing.T) {
	root := NewLogger(LevelInfo)
	child := root.Sublogger("child")
	grandchild := child.Sublogger("grandchild")

	if grandchild.prefix != "child.grandchild" {
		t.Fatalf("expected prefix child.grandchild, got %q", grandchild.prefix)
	}

	root.SetLevel(LevelDebug)
	if child.Level() != LevelDebug || grandchild.Level() != LevelDebug {
		t.Fatalf("expected level change on root to propagate to subloggers")
	}
}

func TestNameToLevelRoundTrip(t *testing.T) {
	for _, name := range []string{"disabled", "error", "warn", "info", "debug", "trace"} {
		level, ok := NameToLevel(name)
		if !ok {
			t.Fatalf("expected %q to be a valid level name", name)
		}
		if level.String() != name {
			t.Fatalf("expected round trip for %q, got %q", name, level.String())
		}
	}
	if _, ok := NameToLevel("bogus"); ok {
		t.Fatalf("expected bogus level name to be rejected")
	}
}
