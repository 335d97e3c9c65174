package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestParseRange(t *testing.T) {
	tests := []struct {
		name      string
		header    string
		size      int64
		wantStart int64
		wantEnd   int64
		wantNil   bool
		wantErr   error
	}{
		{"empty header", "", 1000, 0, 0, true, nil},
		{"full range", "bytes=0-999", 1000, 0, 999, false, nil},
		{"partial start", "bytes=500-", 1000, 500, 999, false, nil},
		{"suffix range", "bytes=-500", 1000, 500, 999, false, nil},
		{"single byte", "bytes=0-0", 1000, 0, 0, false, nil},
		{"beyond size clamped", "bytes=0-2000", 1000, 0, 999, false, nil},
		{"suffix larger than file", "bytes=-2000", 500, 0, 499, false, nil},
		{"multi range takes first", "bytes=0-99, 200-299", 1000, 0, 99, false, nil},

		{"unsatisfiable start", "bytes=1000-", 1000, 0, 0, false, errUnsatisfiable},
		{"unsatisfiable reversed", "bytes=500-100", 1000, 0, 0, false, errUnsatisfiable},
		{"wrong unit", "chars=0-100", 1000, 0, 0, false, errInvalidRange},
		{"no dash", "bytes=100", 1000, 0, 0, false, errInvalidRange},
		{"invalid start", "bytes=abc-100", 1000, 0, 0, false, errInvalidRange},
		{"invalid end", "bytes=0-abc", 1000, 0, 0, false, errInvalidRange},
		{"zero suffix", "bytes=-0", 1000, 0, 0, false, errInvalidRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseRange(tt.header, tt.size)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantNil {
				if got != nil {
					t.Fatalf("range = %+v, want nil", got)
				}
				return
			}
			if got.Start != tt.wantStart || got.End != tt.wantEnd {
				t.Errorf("range = %d-%d, want %d-%d", got.Start, got.End, tt.wantStart, tt.wantEnd)
			}
		})
	}
}

func writeDownload(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "talk_EDIT.mp4")
	if err := os.WriteFile(path, []byte("0123456789"), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestServeFile(t *testing.T) {
	path := writeDownload(t)

	cases := []struct {
		name       string
		method     string
		rangeHdr   string
		wantStatus int
		wantBody   string
		wantRange  string
		wantLength string
	}{
		{"full body", http.MethodGet, "", http.StatusOK, "0123456789", "", "10"},
		{"partial", http.MethodGet, "bytes=2-4", http.StatusPartialContent, "234", "bytes 2-4/10", "3"},
		{"suffix", http.MethodGet, "bytes=-3", http.StatusPartialContent, "789", "bytes 7-9/10", "3"},
		{"malformed range serves all", http.MethodGet, "items=1-2", http.StatusOK, "0123456789", "", "10"},
		{"unsatisfiable", http.MethodGet, "bytes=50-", http.StatusRequestedRangeNotSatisfiable, "", "bytes */10", ""},
		{"head has no body", http.MethodHead, "", http.StatusOK, "", "", "10"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, "/exports/x/file", nil)
			if tc.rangeHdr != "" {
				req.Header.Set("Range", tc.rangeHdr)
			}
			rr := httptest.NewRecorder()

			if err := serveFile(rr, req, path); err != nil {
				t.Fatalf("serveFile: %v", err)
			}

			if rr.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tc.wantStatus)
			}
			if tc.wantStatus != http.StatusRequestedRangeNotSatisfiable && rr.Body.String() != tc.wantBody {
				t.Errorf("body = %q, want %q", rr.Body.String(), tc.wantBody)
			}
			if got := rr.Header().Get("Content-Range"); got != tc.wantRange {
				t.Errorf("Content-Range = %q, want %q", got, tc.wantRange)
			}
			if tc.wantLength != "" {
				if got := rr.Header().Get("Content-Length"); got != tc.wantLength {
					t.Errorf("Content-Length = %q, want %q", got, tc.wantLength)
				}
			}
		})
	}
}

func TestServeFile_Missing(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/exports/x/file", nil)

	if err := serveFile(rr, req, filepath.Join(t.TempDir(), "gone.mp4")); err != nil {
		t.Fatalf("serveFile: %v", err)
	}
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestServeFile_Disposition(t *testing.T) {
	path := writeDownload(t)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/exports/x/file", nil)

	if err := serveFile(rr, req, path); err != nil {
		t.Fatalf("serveFile: %v", err)
	}
	want := `attachment; filename=talk_EDIT.mp4`
	if got := rr.Header().Get("Content-Disposition"); got != want {
		t.Errorf("Content-Disposition = %q, want %q", got, want)
	}
}
