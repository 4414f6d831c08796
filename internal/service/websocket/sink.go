package websocket

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"sync"

	"github.com/disintegration/imaging"
)

// PreviewQuality is the JPEG quality of broadcast frames.
const PreviewQuality = 70

// PreviewMessage is the JSON payload sent to viewers for each frame.
type PreviewMessage struct {
	Source string `json:"source"`
	Frame  int    `json:"frame"`
	Image  string `json:"image"`
}

// FrameSink publishes annotated frames of one run to the hub.
type FrameSink struct {
	hub    *HubService
	source string
	frame  int
	mu     sync.Mutex
}

// Sink returns a frame sink labelled with source.
func (h *HubService) Sink(source string) *FrameSink {
	return &FrameSink{hub: h, source: source}
}

// WriteFrame encodes the frame and queues it. Frames are skipped while nobody is watching.
func (s *FrameSink) WriteFrame(frame image.Image) error {
	s.mu.Lock()
	index := s.frame
	s.frame++
	s.mu.Unlock()

	if s.hub.GetClientCount() == 0 {
		return nil
	}

	message, err := EncodeFrame(s.source, index, frame)
	if err != nil {
		return err
	}
	s.hub.Broadcast(message)
	return nil
}

// Close is a no-op; the hub outlives the runs that feed it.
func (s *FrameSink) Close() error {
	return nil
}

// EncodeFrame builds the JSON preview message for a frame.
func EncodeFrame(source string, index int, frame image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, frame, imaging.JPEG, imaging.JPEGQuality(PreviewQuality)); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}

	return json.Marshal(PreviewMessage{
		Source: source,
		Frame:  index,
		Image:  base64.StdEncoding.EncodeToString(buf.Bytes()),
	})
}
