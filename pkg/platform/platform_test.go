package platform

import "testing"

func TestUnraidShareRelativeBase(t *testing.T) {
	cases := []struct {
		path string
		want string
		ok   bool
	}{
		{"/mnt/user0/data/media/tv/Show/S01E01.mkv", "data", true},
		{"/mnt/user/data/media/tv/Show/S01E01.mkv", "data", true},
		{"/mnt/user0/data", "data", true},
		{"/mnt/user0/", "", false},
		{"/other/path", "", false},
	}
	for _, c := range cases {
		got, ok := unraidShareRelativeBase(c.path)
		if ok != c.ok || got != c.want {
			t.Errorf("unraidShareRelativeBase(%q) = (%q, %v), want (%q, %v)", c.path, got, ok, c.want, c.ok)
		}
	}
}

func TestDiskNumberFromPath(t *testing.T) {
	cases := []struct {
		path string
		want string
	}{
		{"/mnt/disk3/data/file.mkv", "disk3"},
		{"/mnt/disk17", "disk17"},
		{"/mnt/user0/data/file.mkv", ""},
		{"/not/a/disk/path", ""},
	}
	for _, c := range cases {
		if got := diskNumberFromPath(c.path); got != c.want {
			t.Errorf("diskNumberFromPath(%q) = %q, want %q", c.path, got, c.want)
		}
	}
}

func TestCheckArraySpaceSkippedOnNonUnraid(t *testing.T) {
	a := &Adapter{IsUnraid: false}
	check, err := a.CheckArraySpace("/nonexistent/cache", "/nonexistent/backup", "/nonexistent/array")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !check.Sufficient {
		t.Fatalf("expected space check to be skipped (sufficient=true) on non-Unraid host")
	}
}

func TestFindFileByInodeRejectsNonUnraidPath(t *testing.T) {
	a := &Adapter{IsUnraid: true}
	if path, ok := a.FindFileByInode(12345, "/data/not/a/share/path.mkv"); ok {
		t.Fatalf("expected no match for a non-share path, got %q", path)
	}
}

func TestFindFileByInodeRejectsZeroInode(t *testing.T) {
	a := &Adapter{IsUnraid: true}
	if path, ok := a.FindFileByInode(0, "/mnt/user0/data/file.mkv"); ok {
		t.Fatalf("expected no match for inode 0, got %q", path)
	}
}

func TestIsMoverRunningFalseOnNonUnraid(t *testing.T) {
	a := &Adapter{IsUnraid: false}
	if a.IsMoverRunning() {
		t.Fatalf("expected no mover-running check on a non-Unraid host")
	}
}

func TestFormatBytes(t *testing.T) {
	cases := []struct {
		n    int64
		want string
	}{
		{500, "500 B"},
		{1536, "1.5 KiB"},
		{100 * 1024 * 1024, "100.0 MiB"},
	}
	for _, c := range cases {
		if got := formatBytes(c.n); got != c.want {
			t.Errorf("formatBytes(%d) = %q, want %q", c.n, got, c.want)
		}
	}
}
