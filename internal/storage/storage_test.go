/*
Copyright (C) 2026 Backline HQ

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestAttachmentKey(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		want     string
	}{
		{"pdf", "chart.pdf", "bands/b1/attachments/a1.pdf"},
		{"uppercase extension", "Tab.PDF", "bands/b1/attachments/a1.pdf"},
		{"no extension", "notes", "bands/b1/attachments/a1"},
		{"multiple dots", "song.final.mp3", "bands/b1/attachments/a1.mp3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := attachmentKey("b1", "a1", tt.filename)
			if got != tt.want {
				t.Errorf("attachmentKey(%q) = %q, want %q", tt.filename, got, tt.want)
			}
		})
	}
}

func TestFilesystemStorageRoundTrip(t *testing.T) {
	root := t.TempDir()
	fs := NewFilesystemStorage(root, zerolog.Nop())
	ctx := context.Background()

	key, err := fs.Store(ctx, "band-1", "att-1", "riff.mp3", strings.NewReader("audio-bytes"))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if key != "bands/band-1/attachments/att-1.mp3" {
		t.Fatalf("unexpected key %q", key)
	}

	if _, err := os.Stat(filepath.Join(root, key)); err != nil {
		t.Fatalf("stored file missing: %v", err)
	}

	rc, err := fs.Open(ctx, key)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "audio-bytes" {
		t.Errorf("content = %q, want %q", data, "audio-bytes")
	}

	if err := fs.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := fs.Open(ctx, key); err == nil {
		t.Error("expected error opening deleted object")
	}

	// Deleting an already-removed object is not an error.
	if err := fs.Delete(ctx, key); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}

func TestFilesystemStorageCheckAccess(t *testing.T) {
	fs := NewFilesystemStorage(t.TempDir(), zerolog.Nop())
	if err := fs.CheckAccess(context.Background()); err != nil {
		t.Errorf("CheckAccess on valid root: %v", err)
	}

	missing := NewFilesystemStorage(filepath.Join(t.TempDir(), "nope"), zerolog.Nop())
	if err := missing.CheckAccess(context.Background()); err == nil {
		t.Error("expected error for missing root")
	}
}
