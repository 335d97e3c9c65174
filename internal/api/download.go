package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var (
	errInvalidRange  = errors.New("invalid range format")
	errUnsatisfiable = errors.New("range not satisfiable")
)

type byteRange struct {
	Start int64
	End   int64
}

func (r byteRange) ContentLength() int64 {
	return r.End - r.Start + 1
}

func (r byteRange) ContentRange(total int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, total)
}

// parseRange parses a single-range Range header against a body of size
// bytes. Only the first range of a multi-range request is honored. A nil
// range with a nil error means the header was empty.
func parseRange(header string, size int64) (*byteRange, error) {
	if header == "" {
		return nil, nil
	}
	if !strings.HasPrefix(header, "bytes=") {
		return nil, errInvalidRange
	}

	ranges := strings.TrimPrefix(header, "bytes=")
	if idx := strings.Index(ranges, ","); idx != -1 {
		ranges = strings.TrimSpace(ranges[:idx])
	}

	first, last, ok := strings.Cut(ranges, "-")
	if !ok {
		return nil, errInvalidRange
	}

	var start, end int64
	if first == "" {
		suffix, err := strconv.ParseInt(last, 10, 64)
		if err != nil || suffix <= 0 {
			return nil, errInvalidRange
		}
		start = max(size-suffix, 0)
		end = size - 1
	} else {
		var err error
		start, err = strconv.ParseInt(first, 10, 64)
		if err != nil || start < 0 {
			return nil, errInvalidRange
		}
		if last == "" {
			end = size - 1
		} else {
			end, err = strconv.ParseInt(last, 10, 64)
			if err != nil {
				return nil, errInvalidRange
			}
		}
	}

	if start > end || start >= size {
		return nil, errUnsatisfiable
	}
	end = min(end, size-1)
	return &byteRange{Start: start, End: end}, nil
}

// serveFile streams an export result to the client, honoring a single
// Range and answering HEAD with headers only. Malformed ranges fall back
// to the full body.
func serveFile(w http.ResponseWriter, r *http.Request, path string) error {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			WriteError(w, http.StatusNotFound, "export file is gone", "NOT_FOUND")
			return nil
		}
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	size := stat.Size()
	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	h := w.Header()
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Type", contentType)
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filepath.Base(path)}))

	rng, err := parseRange(r.Header.Get("Range"), size)
	if errors.Is(err, errUnsatisfiable) {
		h.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		WriteError(w, http.StatusRequestedRangeNotSatisfiable, "range not satisfiable", "RANGE_NOT_SATISFIABLE")
		return nil
	}

	if rng == nil {
		h.Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodHead {
			return nil
		}
		_, err := io.Copy(w, file)
		return err
	}

	h.Set("Content-Length", strconv.FormatInt(rng.ContentLength(), 10))
	h.Set("Content-Range", rng.ContentRange(size))
	w.WriteHeader(http.StatusPartialContent)
	if r.Method == http.MethodHead {
		return nil
	}

	if _, err := file.Seek(rng.Start, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}
	_, err = io.CopyN(w, file, rng.ContentLength())
	return err
}
