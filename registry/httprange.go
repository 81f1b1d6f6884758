package registry

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// httpRangeReaderAt reads a remote archive with HTTP Range requests,
// implementing the same io.ReaderAt+io.Closer contract containers/
// pmtiles.source and containers/versatiles.source expect of a local
// *os.File (spec.md §6: "http(s):// URIs for PMTiles and VersaTiles
// (range requests required)").
type httpRangeReaderAt struct {
	ctx    context.Context
	client *http.Client
	url    string
	size   int64
}

// openHTTPRangeReaderAt issues a HEAD request to learn the resource's
// size (needed by PMTiles/VersaTiles header parsing). It does not check
// whether the server honours range requests; ReadAt fails on the first
// reply that is not 206 Partial Content (a 200 is accepted only for a
// read at offset 0).
func openHTTPRangeReaderAt(ctx context.Context, client *http.Client, url string) (*httpRangeReaderAt, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry: HEAD %s: %w", url, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registry: HEAD %s: unexpected status %s", url, resp.Status)
	}
	if resp.ContentLength < 0 {
		return nil, fmt.Errorf("registry: %s did not report Content-Length", url)
	}
	return &httpRangeReaderAt{ctx: ctx, client: client, url: url, size: resp.ContentLength}, nil
}

// ReadAt fetches exactly len(p) bytes starting at off via a single
// Range request.
func (h *httpRangeReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	req, err := http.NewRequestWithContext(h.ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, off+int64(len(p))-1))

	resp, err := h.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("registry: range request to %s: %w", h.url, err)
	}
	defer resp.Body.Close()
	// A 200 carries the whole resource from byte 0, so it only answers a
	// read that starts there.
	if resp.StatusCode != http.StatusPartialContent && !(resp.StatusCode == http.StatusOK && off == 0) {
		return 0, fmt.Errorf("registry: range request to %s: unexpected status %s", h.url, resp.Status)
	}
	n, err := io.ReadFull(resp.Body, p)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		return n, io.EOF
	}
	if err != nil {
		return n, fmt.Errorf("registry: reading range response from %s: %w", h.url, err)
	}
	return n, nil
}

// Close is a no-op: each ReadAt opens and closes its own response body.
func (h *httpRangeReaderAt) Close() error { return nil }
