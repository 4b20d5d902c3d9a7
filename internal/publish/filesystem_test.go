package publish

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewFileSystemTarget(t *testing.T) {
	t.Run("creates the root", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "public")

		target, err := NewFileSystemTarget(root)
		if err != nil {
			t.Fatalf("NewFileSystemTarget() error = %v", err)
		}
		if err := target.ValidateSetup(context.Background()); err != nil {
			t.Errorf("ValidateSetup() error = %v", err)
		}
	})

	t.Run("root is a file", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "public")
		if err := os.WriteFile(root, nil, 0644); err != nil {
			t.Fatal(err)
		}

		if _, err := NewFileSystemTarget(root); err == nil {
			t.Error("NewFileSystemTarget() expected error")
		}
	})
}

func TestFileSystemTarget_Put(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		content string
		size    int64
		wantErr bool
	}{
		{name: "top level", key: "index.html", content: "<h1>hi</h1>", size: 11},
		{name: "nested", key: "blog/article/index.html", content: "post", size: 4},
		{name: "size mismatch", key: "bad.txt", content: "hello", size: 100, wantErr: true},
		{name: "escapes root", key: "../outside.txt", content: "x", size: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			target, err := NewFileSystemTarget(root)
			if err != nil {
				t.Fatalf("NewFileSystemTarget() error = %v", err)
			}

			err = target.Put(context.Background(), tt.key, strings.NewReader(tt.content), tt.size)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Put() error = %v, wantErr %v", err, tt.wantErr)
			}

			dest := filepath.Join(root, filepath.FromSlash(tt.key))
			if tt.wantErr {
				if _, err := os.Stat(dest); err == nil {
					t.Errorf("%s written despite error", dest)
				}
				entries, _ := os.ReadDir(root)
				for _, e := range entries {
					if strings.HasPrefix(e.Name(), ".tmp-") {
						t.Errorf("temp file %s left behind", e.Name())
					}
				}
				return
			}

			got, err := os.ReadFile(dest)
			if err != nil {
				t.Fatalf("ReadFile() error = %v", err)
			}
			if string(got) != tt.content {
				t.Errorf("content = %q, want %q", got, tt.content)
			}
		})
	}
}
