package server

import (
	"encoding/json"
	"net/http"
	"time"

	"streamchat/pkg/domain"
)

const ndjsonContentType = "application/x-ndjson"

// streamRecord is one line of the NDJSON reply stream.
type streamRecord struct {
	ChunkType domain.ChunkType `json:"chunkType"`
	Content   string           `json:"content"`
}

// ndjsonWriter writes one JSON record per line and flushes after each.
type ndjsonWriter struct {
	enc *json.Encoder
	rc  *http.ResponseController
}

// startStream sends the response header for an NDJSON stream and lifts the
// server write deadline, which would otherwise cut long replies.
func startStream(w http.ResponseWriter) *ndjsonWriter {
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})
	h := w.Header()
	h.Set("Content-Type", ndjsonContentType)
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_ = rc.Flush()
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &ndjsonWriter{enc: enc, rc: rc}
}

// WriteChunk implements app.ChunkWriter.
func (n *ndjsonWriter) WriteChunk(chunkType domain.ChunkType, content string) error {
	if err := n.enc.Encode(streamRecord{ChunkType: chunkType, Content: content}); err != nil {
		return err
	}
	return n.rc.Flush()
}
