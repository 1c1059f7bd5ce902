package fsutil

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
)

func TestAtomicWriteFile_CreatesParentAndWrites(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := filepath.Join("/base", "nested", "file.properties")

	if err := AtomicWriteFile(fs, path, []byte("a=1\n"), 0644); err != nil {
		t.Fatalf("AtomicWriteFile failed: %v", err)
	}

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "a=1\n" {
		t.Errorf("content = %q, want %q", data, "a=1\n")
	}
}

func TestAtomicWriteFile_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	fs := afero.NewOsFs()
	path := filepath.Join(dir, "data.txt")

	for i := 0; i < 3; i++ {
		if err := AtomicWriteFile(fs, path, []byte("x"), 0644); err != nil {
			t.Fatalf("AtomicWriteFile failed: %v", err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("directory contains %v, want only data.txt", names)
	}
}

func TestCopyFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/src.txt", []byte("payload"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := CopyFile(fs, "/src.txt", "/backups/dst.txt"); err != nil {
		t.Fatalf("CopyFile failed: %v", err)
	}

	data, _ := afero.ReadFile(fs, "/backups/dst.txt")
	if string(data) != "payload" {
		t.Errorf("copy = %q, want %q", data, "payload")
	}
}

func TestCopyFile_MissingSource(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := CopyFile(fs, "/nope", "/dst"); err == nil {
		t.Fatal("expected error for missing source")
	}
}

func TestRemoveIfExists(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := RemoveIfExists(fs, "/missing"); err != nil {
		t.Errorf("RemoveIfExists on missing file = %v, want nil", err)
	}

	_ = afero.WriteFile(fs, "/present", []byte("x"), 0644)
	if err := RemoveIfExists(fs, "/present"); err != nil {
		t.Fatalf("RemoveIfExists failed: %v", err)
	}
	if ok, _ := Exists(fs, "/present"); ok {
		t.Error("file should be gone")
	}
}

func TestRetryOnce(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeds on second attempt", func(t *testing.T) {
		calls := 0
		err := RetryOnce(ctx, func() error {
			calls++
			if calls == 1 {
				return errors.New("disk busy")
			}
			return nil
		})
		if err != nil {
			t.Errorf("RetryOnce = %v, want nil", err)
		}
		if calls != 2 {
			t.Errorf("calls = %d, want 2", calls)
		}
	})

	t.Run("gives up after two attempts", func(t *testing.T) {
		calls := 0
		err := RetryOnce(ctx, func() error {
			calls++
			return errors.New("disk busy")
		})
		if err == nil {
			t.Error("RetryOnce should return the last error")
		}
		if calls != 2 {
			t.Errorf("calls = %d, want 2", calls)
		}
	})

	t.Run("does not retry missing files", func(t *testing.T) {
		calls := 0
		err := RetryOnce(ctx, func() error {
			calls++
			return os.ErrNotExist
		})
		if !errors.Is(err, os.ErrNotExist) {
			t.Errorf("RetryOnce = %v, want os.ErrNotExist", err)
		}
		if calls != 1 {
			t.Errorf("calls = %d, want 1", calls)
		}
	})
}
