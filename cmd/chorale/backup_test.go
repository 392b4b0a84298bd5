package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTestState(t *testing.T, dataDir string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(dataDir, "nats", "jetstream"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dataDir, "chorale.db"), []byte("sqlite-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dataDir, "nats", "jetstream", "stream.dat"), []byte("jetstream-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func pointConfigAt(t *testing.T, dataDir string) {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "chorale.yaml")
	cfg := "store:\n  path: " + filepath.Join(dataDir, "chorale.db") + "\nnats:\n  data_dir: " + filepath.Join(dataDir, "nats") + "\n"
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CHORALE_CONFIG", cfgPath)
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	src := t.TempDir()
	writeTestState(t, src)
	pointConfigAt(t, src)

	archive := filepath.Join(t.TempDir(), "backup.tar.zst")
	if err := runBackup([]string{"-f", archive}); err != nil {
		t.Fatalf("backup: %v", err)
	}

	dst := t.TempDir()
	pointConfigAt(t, dst)
	if err := runRestore([]string{"-f", archive}); err != nil {
		t.Fatalf("restore: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dst, "chorale.db"))
	if err != nil {
		t.Fatalf("restored db missing: %v", err)
	}
	if string(got) != "sqlite-bytes" {
		t.Errorf("unexpected db content: %q", got)
	}
	got, err = os.ReadFile(filepath.Join(dst, "nats", "jetstream", "stream.dat"))
	if err != nil {
		t.Fatalf("restored stream missing: %v", err)
	}
	if string(got) != "jetstream-bytes" {
		t.Errorf("unexpected stream content: %q", got)
	}
}

func TestRestoreRefusesExistingState(t *testing.T) {
	src := t.TempDir()
	writeTestState(t, src)
	pointConfigAt(t, src)

	archive := filepath.Join(t.TempDir(), "backup.tar.zst")
	if err := runBackup([]string{"-f", archive}); err != nil {
		t.Fatalf("backup: %v", err)
	}

	if err := runRestore([]string{"-f", archive}); err == nil {
		t.Fatal("expected an error restoring over existing state")
	}
	if err := runRestore([]string{"-f", archive, "-overwrite"}); err != nil {
		t.Fatalf("restore with -overwrite: %v", err)
	}
}

func TestBackupRequiresOutputPath(t *testing.T) {
	if err := runBackup(nil); err == nil {
		t.Fatal("expected an error without -f")
	}
}

func TestSplitUnitPath(t *testing.T) {
	cases := []struct {
		name, unit, rel string
	}{
		{"store/chorale.db", "store", "chorale.db"},
		{"nats/jetstream/stream.dat", "nats", "jetstream/stream.dat"},
		{"store", "store", ""},
		{"./store/chorale.db", "store", "chorale.db"},
		{"", "", ""},
	}
	for _, c := range cases {
		unit, rel := splitUnitPath(c.name)
		if unit != c.unit || rel != c.rel {
			t.Errorf("splitUnitPath(%q) = (%q, %q), want (%q, %q)", c.name, unit, rel, c.unit, c.rel)
		}
	}
}
