package server

import (
	"path/filepath"
	"testing"
)

// TestUploadLocation covers where avatar URLs point for different directory
// layouts.
func TestUploadLocation(t *testing.T) {
	root := t.TempDir()

	cases := []struct {
		name      string
		static    string
		upload    string
		wantURL   string
		wantMount bool
	}{
		{"inside static", "static", "static/uploads", "/static/uploads", false},
		{"nested inside static", "static", "static/media/avatars", "/static/media/avatars", false},
		{"same as static", "static", "static", "/static", false},
		{"absolute inside static", filepath.Join(root, "static"), filepath.Join(root, "static", "uploads"), "/static/uploads", false},
		{"absolute outside static", filepath.Join(root, "static"), filepath.Join(root, "uploads"), "/uploads", true},
		{"sibling with shared prefix", "static", "static-uploads", "/uploads", true},
		{"no static dir", "", "/var/lib/gochat/uploads", "/uploads", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			url, mount := uploadLocation(tc.static, tc.upload)
			if url != tc.wantURL || mount != tc.wantMount {
				t.Errorf("uploadLocation(%q, %q) = (%q, %v), want (%q, %v)",
					tc.static, tc.upload, url, mount, tc.wantURL, tc.wantMount)
			}
		})
	}
}
