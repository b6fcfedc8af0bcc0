package skillkit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/metahuman-os/operator/pkg/skill"
)

func TestFSListSortsEntries(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"b.txt", "a.txt"} {
		if err := os.WriteFile(filepath.Join(root, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := os.Mkdir(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	res, err := NewFSList(root).Invoke(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %+v", res.Error)
	}
	want := []string{"a.txt", "b.txt", "sub/"}
	if !reflect.DeepEqual(res.Data, want) {
		t.Errorf("listing = %v, want %v", res.Data, want)
	}
}

func TestFSListMissingDirIsNotFound(t *testing.T) {
	res, err := NewFSList(t.TempDir()).Invoke(context.Background(), map[string]any{"path": "nope"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Error.Code != "NOT_FOUND" {
		t.Errorf("code = %s", res.Error.Code)
	}
	if res.Error.Context["path"] != "nope" {
		t.Errorf("context = %v", res.Error.Context)
	}
}

func TestFSReadCapsSize(t *testing.T) {
	root := t.TempDir()
	big := make([]byte, maxReadBytes+100)
	for i := range big {
		big[i] = 'a'
	}
	if err := os.WriteFile(filepath.Join(root, "big.txt"), big, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	res, err := NewFSRead(root).Invoke(context.Background(), map[string]any{"path": "big.txt"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %+v", res.Error)
	}
	content := res.Data.(string)
	marker := fmt.Sprintf("[truncated: showing %d of %d bytes]", maxReadBytes, len(big))
	if !strings.HasSuffix(content, marker) {
		t.Errorf("truncated read carries no marker, tail = %q", content[len(content)-60:])
	}
	if got := strings.TrimSuffix(content, "\n"+marker); len(got) != maxReadBytes {
		t.Errorf("read %d bytes, want %d", len(got), maxReadBytes)
	}
}

func TestFSReadSmallFileHasNoMarker(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "small.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	res, err := NewFSRead(root).Invoke(context.Background(), map[string]any{"path": "small.txt"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.Data.(string) != "hello" {
		t.Errorf("data = %q, want %q", res.Data, "hello")
	}
}

func TestFSWriteAndReadBack(t *testing.T) {
	root := t.TempDir()
	res, err := NewFSWrite(root).Invoke(context.Background(), map[string]any{
		"path":    "notes/today.md",
		"content": "ship it",
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !res.Success {
		t.Fatalf("write failed: %+v", res.Error)
	}

	read, err := NewFSRead(root).Invoke(context.Background(), map[string]any{"path": "notes/today.md"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if read.Data != "ship it" {
		t.Errorf("read back %v", read.Data)
	}
}

func TestResolveRejectsEscape(t *testing.T) {
	root := t.TempDir()
	res, err := NewFSRead(root).Invoke(context.Background(), map[string]any{"path": "../../etc/passwd"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	// Clean("/../../etc/passwd") folds back under root, so the read
	// stays inside it and simply misses.
	if res.Success {
		t.Fatal("expected failure")
	}
}

func TestRespond(t *testing.T) {
	res, err := NewRespond().Invoke(context.Background(), map[string]any{"message": "all done"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !res.Success || res.Data != "all done" {
		t.Errorf("result = %+v", res)
	}
}

func TestRegisterBuiltins(t *testing.T) {
	reg := skill.NewRegistry()
	if err := RegisterBuiltins(reg, t.TempDir()); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}
	for _, id := range []string{"respond", "fs_list", "fs_read", "fs_write"} {
		if _, err := reg.Lookup(id); err != nil {
			t.Errorf("missing builtin %s: %v", id, err)
		}
	}
}
