package source

import (
	"bytes"
	"io"
	"net/http"
	"os"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/indrora/payload-extract/payload"
)

// prefetchSpillThreshold is the size above which Prefetched spills the
// downloaded body to a temp file instead of holding it in memory.
const prefetchSpillThreshold = 256 << 20 // 256 MiB

// Prefetched mirrors a remote body by downloading it once, then serves
// ReadAt locally (from memory or a temp file). Used when the caller passes
// --prefetch, or automatically when an HttpRange probe finds no range
// support.
type Prefetched struct {
	mem    []byte
	file   *os.File
	length int64
}

// NewPrefetched downloads url in full.
func NewPrefetched(url, userAgent, cookie string) (*Prefetched, error) {
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	client := retryablehttp.NewClient()
	client.RetryMax = rangeRetryMax
	client.Backoff = exponentialRangeBackoff
	client.HTTPClient.Timeout = rangeRequestTimeout
	client.Logger = nil

	req, err := retryablehttp.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, payload.Wrap(payload.KindInvalidArgument, err, "build prefetch request for %s", url)
	}
	req.Header.Set("User-Agent", userAgent)
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, payload.Wrap(payload.KindNetworkFatal, err, "prefetch %s", url)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, payload.Wrap(payload.KindNetworkFatal, nil, "prefetch %s: status %d", url, resp.StatusCode)
	}

	if resp.ContentLength > 0 && resp.ContentLength > prefetchSpillThreshold {
		return prefetchToTempFile(resp.Body)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, payload.Wrap(payload.KindNetworkTransient, err, "read prefetch body from %s", url)
	}
	if int64(len(body)) > prefetchSpillThreshold {
		f, err := spillToTemp(body)
		if err != nil {
			return nil, err
		}
		return f, nil
	}
	return &Prefetched{mem: body, length: int64(len(body))}, nil
}

// NewPrefetchedFromReader builds a Prefetched mirror of any reader, used to
// downgrade an HttpRange with unsupported ranges without a second network
// round trip: the caller streams the same body it already has open.
func NewPrefetchedFromReader(r io.Reader) (*Prefetched, error) {
	return prefetchToTempFile(r)
}

func prefetchToTempFile(r io.Reader) (*Prefetched, error) {
	f, err := os.CreateTemp("", "payload-extract-prefetch-*.bin")
	if err != nil {
		return nil, payload.Wrap(payload.KindIoWrite, err, "create prefetch temp file")
	}
	os.Remove(f.Name()) // unlinked; held open for the process lifetime
	n, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		return nil, payload.Wrap(payload.KindNetworkTransient, err, "spill prefetch body to disk")
	}
	return &Prefetched{file: f, length: n}, nil
}

func spillToTemp(body []byte) (*Prefetched, error) {
	return prefetchToTempFile(bytes.NewReader(body))
}

func (p *Prefetched) Len() int64 { return p.length }

func (p *Prefetched) ReadAt(buf []byte, offset int64) (int, error) {
	if offset < 0 || offset > p.length {
		return 0, payload.Wrap(payload.KindIoWrite, nil, "offset %d out of range [0,%d]", offset, p.length)
	}
	want := len(buf)
	if offset+int64(want) > p.length {
		want = int(p.length - offset)
	}
	if want == 0 {
		return 0, nil
	}
	if p.mem != nil {
		n := copy(buf[:want], p.mem[offset:offset+int64(want)])
		return n, nil
	}
	n, err := p.file.ReadAt(buf[:want], offset)
	if err == io.EOF && n == want {
		err = nil
	}
	return n, err
}

func (p *Prefetched) Close() error {
	if p.file != nil {
		return p.file.Close()
	}
	return nil
}

// Cleavable is true: memory reads are trivially concurrent, and os.File.ReadAt
// is safe for concurrent use across goroutines (each call carries its own offset).
func (p *Prefetched) Cleavable() bool { return true }
