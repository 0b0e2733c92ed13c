package source

import (
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/indrora/payload-extract/payload"
)

const (
	// rangeRetryMax is the N=3 retry budget for a single range request.
	rangeRetryMax = 3
	// rangeRequestTimeout is the wall-clock timeout per range request.
	rangeRequestTimeout = 600 * time.Second
	defaultUserAgent    = "payload-extract/1.0"
)

// HttpRange serves bytes from a remote URL via ranged GET requests
// (Range: bytes=A-B). A single retryablehttp.Client is shared by all reads
// and is not cleavable: the transport itself can run concurrent requests,
// but the capability probe and one-shot warning need to serialize around a
// single check, so the caller must wrap HttpRange in Locked when reads from
// multiple workers must not race on the probe.
type HttpRange struct {
	url        string
	client     *retryablehttp.Client
	userAgent  string
	cookie     string
	length     int64
	rangesOK   bool
	warnOnce   sync.Once
	probeCache []byte
}

// NewHttpRange probes url for Content-Length and Range support (a GET for
// bytes 0-1023, checking for 206 Partial Content or an Accept-Ranges: bytes
// header on a 200). The first 1024 bytes of the probe response are kept and
// used to satisfy the source's first ReadAt instead of being discarded.
func NewHttpRange(url, userAgent, cookie string) (*HttpRange, []byte, error) {
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	client := retryablehttp.NewClient()
	client.RetryMax = rangeRetryMax
	client.Backoff = exponentialRangeBackoff
	client.HTTPClient.Timeout = rangeRequestTimeout
	client.Logger = nil

	h := &HttpRange{url: url, client: client, userAgent: userAgent, cookie: cookie}

	req, err := retryablehttp.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, payload.Wrap(payload.KindInvalidArgument, err, "build probe request for %s", url)
	}
	h.applyHeaders(req.Request)
	req.Header.Set("Range", "bytes=0-1023")

	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, payload.Wrap(payload.KindNetworkFatal, err, "probe %s", url)
	}
	defer resp.Body.Close()

	probe, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, payload.Wrap(payload.KindNetworkFatal, err, "read probe body from %s", url)
	}

	switch resp.StatusCode {
	case http.StatusPartialContent:
		h.rangesOK = true
		h.length = parseContentRangeTotal(resp.Header.Get("Content-Range"), int64(len(probe)))
	case http.StatusOK:
		h.rangesOK = resp.Header.Get("Accept-Ranges") == "bytes"
		h.length = resp.ContentLength
		if h.length < 0 {
			h.length = int64(len(probe))
		}
	default:
		return nil, nil, payload.Wrap(payload.KindNetworkFatal, nil, "probe %s: unexpected status %d", url, resp.StatusCode)
	}

	if !h.rangesOK {
		h.warnRangesUnsupported()
	}
	h.probeCache = probe

	return h, probe, nil
}

func (h *HttpRange) applyHeaders(req *http.Request) {
	req.Header.Set("User-Agent", h.userAgent)
	if h.cookie != "" {
		req.Header.Set("Cookie", h.cookie)
	}
}

// warnRangesUnsupported logs the "falling back" warning at most once per
// HttpRange instance (spec's open question on warning scope, resolved as
// per-instance rather than process-global).
func (h *HttpRange) warnRangesUnsupported() {
	h.warnOnce.Do(func() {
		plog.Warningf("%s does not support range requests; use --prefetch or downgrade to a full download", h.url)
	})
}

func (h *HttpRange) Len() int64 { return h.length }

// RangesSupported reports the capability discovered by the probe in
// NewHttpRange. Callers should downgrade to Prefetched or fail with
// RangeNotSupported when this is false.
func (h *HttpRange) RangesSupported() bool { return h.rangesOK }

func (h *HttpRange) ReadAt(buf []byte, offset int64) (int, error) {
	if !h.rangesOK {
		return 0, payload.NewError(payload.KindRangeNotSupported)
	}
	want := int64(len(buf))
	if offset+want > h.length {
		want = h.length - offset
	}
	if want <= 0 {
		return 0, nil
	}
	if offset >= 0 && offset+want <= int64(len(h.probeCache)) {
		n := copy(buf[:want], h.probeCache[offset:offset+want])
		return n, nil
	}
	end := offset + want - 1

	req, err := retryablehttp.NewRequest(http.MethodGet, h.url, nil)
	if err != nil {
		return 0, payload.Wrap(payload.KindNetworkFatal, err, "build range request")
	}
	h.applyHeaders(req.Request)
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, end))

	resp, err := h.client.Do(req)
	if err != nil {
		return 0, payload.Wrap(payload.KindNetworkFatal, err, "range request bytes=%d-%d", offset, end)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return 0, payload.Wrap(payload.KindNetworkFatal, nil, "range request bytes=%d-%d: status %d", offset, end, resp.StatusCode)
	}

	n, err := io.ReadFull(resp.Body, buf[:want])
	if err != nil {
		return n, payload.Wrap(payload.KindNetworkTransient, err, "read range body bytes=%d-%d", offset, end)
	}
	return n, nil
}

func (h *HttpRange) Close() error {
	h.client.HTTPClient.CloseIdleConnections()
	return nil
}

// Cleavable is false: a shared retryablehttp.Client may run concurrent
// requests fine, but the spec models a non-cleavable single-handle source
// as requiring a source-level mutex; HttpRange is wrapped in Locked by the
// driver so that range requests from different partitions are individually
// atomic and do not need per-call client pooling logic here.
func (h *HttpRange) Cleavable() bool { return false }

// exponentialRangeBackoff implements the spec's fixed 2s/4s schedule
// instead of retryablehttp's default jittered backoff.
func exponentialRangeBackoff(_, _ time.Duration, attemptNum int, _ *http.Response) time.Duration {
	switch attemptNum {
	case 0:
		return 2 * time.Second
	default:
		return 4 * time.Second
	}
}

func parseContentRangeTotal(header string, fallback int64) int64 {
	// Content-Range: bytes 0-1023/123456
	var start, end, total int64
	if n, err := fmt.Sscanf(header, "bytes %d-%d/%d", &start, &end, &total); err == nil && n == 3 {
		return total
	}
	return fallback
}
