package storage

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"
)

func TestFileStoreWriteRead(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	data := []byte{0x89, 0x50, 0x4e, 0x47}
	key, err := store.Write(context.Background(), "generated/job-1/image-01.png", data)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if key != "generated/job-1/image-01.png" {
		t.Fatalf("key = %q", key)
	}

	got, err := store.Read(context.Background(), key)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("read bytes mismatch")
	}
}

func TestFileStoreReadMissing(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := store.Read(context.Background(), "absent.png"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected os.ErrNotExist, got %v", err)
	}
}

func TestSanitizeKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		want    string
		wantErr bool
	}{
		{name: "plain", key: "a/b.png", want: "a/b.png"},
		{name: "leading slash", key: "/a/b.png", want: "a/b.png"},
		{name: "dot prefix", key: "./a/b.png", want: "a/b.png"},
		{name: "backslashes", key: "a\\b.png", want: "a/b.png"},
		{name: "traversal", key: "../etc/passwd", wantErr: true},
		{name: "empty", key: "  ", wantErr: true},
		{name: "dot only", key: ".", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := sanitizeKey(tc.key)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("sanitizeKey(%q) expected error, got %q", tc.key, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("sanitizeKey(%q): %v", tc.key, err)
			}
			if got != tc.want {
				t.Fatalf("sanitizeKey(%q) = %q, want %q", tc.key, got, tc.want)
			}
		})
	}
}

func TestFileStoreRequiresBasePath(t *testing.T) {
	if _, err := NewFileStore("   "); err == nil {
		t.Fatalf("expected error for empty base path")
	}
}

func TestFileStoreRemove(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	key, err := store.Write(context.Background(), "generated/job-1/image-01.png", []byte{0x89})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := store.Remove(context.Background(), key); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := store.Read(context.Background(), key); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("read after remove = %v, want os.ErrNotExist", err)
	}
	if err := store.Remove(context.Background(), key); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("second remove = %v, want os.ErrNotExist", err)
	}
}
