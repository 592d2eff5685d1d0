package capture

import (
	"sync"
	"time"
)

// Image is a captured reference frame. Its bytes are dropped on Release and
// cannot be read afterwards.
type Image struct {
	mu          sync.RWMutex
	data        []byte
	contentType string
	capturedAt  time.Time
	released    bool
}

func NewImage(data []byte, contentType string, capturedAt time.Time) *Image {
	if contentType == "" {
		contentType = "image/jpeg"
	}
	return &Image{data: data, contentType: contentType, capturedAt: capturedAt}
}

// Bytes returns the image payload, or false once the image was released.
func (i *Image) Bytes() ([]byte, string, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.released {
		return nil, "", false
	}
	return i.data, i.contentType, true
}

func (i *Image) CapturedAt() time.Time {
	return i.capturedAt
}

func (i *Image) Released() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.released
}

func (i *Image) Release() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.released = true
	i.data = nil
}

// Holder owns at most one image at a time. Every capture attempt takes a
// generation from Begin; Install only accepts the latest generation, so a
// slow attempt can never replace the result of a newer one.
type Holder struct {
	mu         sync.Mutex
	current    *Image
	generation uint64
	closed     bool
}

func (h *Holder) Begin() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.generation++
	return h.generation
}

// Install makes img current and releases the previous image. A stale or
// post-close install releases img instead and returns false.
func (h *Holder) Install(generation uint64, img *Image) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || generation != h.generation {
		img.Release()
		return false
	}
	if h.current != nil && h.current != img {
		h.current.Release()
	}
	h.current = img
	return true
}

// Latest reports whether generation is still the newest attempt.
func (h *Holder) Latest(generation uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.closed && generation == h.generation
}

func (h *Holder) Current() *Image {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

// Close releases the current image and rejects every later install.
func (h *Holder) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current != nil {
		h.current.Release()
		h.current = nil
	}
	h.closed = true
	h.generation++
}
