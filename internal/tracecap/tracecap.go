// Package tracecap records one JSON line per evaluated pipeline batch to
// a zstd-compressed file: submission indices, command names, and replies
// rendered as text (request arguments are not recorded). It is a pure side channel, wired optionally into
// clusterconn.Connection, and never influences routing or reply content.
package tracecap

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/klauspost/compress/zstd"

	"redicore/internal/respwire"
	"redicore/internal/rpipeline"
)

// Writer appends one trace record per Record call.
type Writer struct {
	mu  sync.Mutex
	f   *os.File
	enc *zstd.Encoder
}

// Open creates (or truncates) path and wraps it in a zstd encoder.
func Open(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("tracecap: open %s: %w", path, err)
	}
	enc, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("tracecap: new encoder: %w", err)
	}
	return &Writer{f: f, enc: enc}, nil
}

type record struct {
	Requests []recordRequest `json:"requests"`
	Replies  []string        `json:"replies"`
}

type recordRequest struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
}

// Record appends one JSON line describing this batch's requests (by
// submission index and command name) and their replies rendered as text.
func (w *Writer) Record(pending []rpipeline.PendingRequest, replies []respwire.Reply) {
	reqs := make([]recordRequest, len(pending))
	for i, pr := range pending {
		reqs[i] = recordRequest{Index: pr.Index, Name: pr.Req.Name}
	}
	renders := make([]string, len(replies))
	for i, r := range replies {
		renders[i] = renderReply(r)
	}
	line, err := json.Marshal(record{Requests: reqs, Replies: renders})
	if err != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.enc.Write(line)
	w.enc.Write([]byte("\n"))
}

// Close flushes the zstd frame and closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Close(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}

func renderReply(r respwire.Reply) string {
	switch r.Kind {
	case respwire.KindError:
		return "ERR " + r.ErrText
	case respwire.KindSimpleString:
		return r.Str
	case respwire.KindInteger:
		return fmt.Sprintf("%d", r.Int)
	case respwire.KindBulk:
		if !r.BulkOK {
			return "(nil)"
		}
		return string(r.Bulk)
	case respwire.KindArray:
		if !r.ArrayOK {
			return "(nil array)"
		}
		return fmt.Sprintf("(array of %d)", len(r.Array))
	default:
		return "?"
	}
}
