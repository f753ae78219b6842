package engine

import (
	"fmt"
	"sync"

	"mirrorhub/pkg/models"
)

// Registry maps source and destination tags onto the engines that service
// them. New backends register an implementation; scheduler logic never
// changes.
type Registry struct {
	mu          sync.RWMutex
	downloaders map[models.SourceTag]Engine
	uploaders   map[models.DestTag]Engine
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		downloaders: make(map[models.SourceTag]Engine),
		uploaders:   make(map[models.DestTag]Engine),
	}
}

// RegisterDownloader binds a download engine to a source tag, replacing any
// previous binding.
func (r *Registry) RegisterDownloader(tag models.SourceTag, e Engine) {
	r.mu.Lock()
	r.downloaders[tag] = e
	r.mu.Unlock()
}

// RegisterUploader binds an upload engine to a destination tag.
func (r *Registry) RegisterUploader(tag models.DestTag, e Engine) {
	r.mu.Lock()
	r.uploaders[tag] = e
	r.mu.Unlock()
}

// Downloader resolves the engine for a source tag.
func (r *Registry) Downloader(tag models.SourceTag) (Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.downloaders[tag]
	if !ok {
		return nil, fmt.Errorf("%w: download %s", models.ErrEngineUnavailable, tag)
	}
	return e, nil
}

// Uploader resolves the engine for a destination tag.
func (r *Registry) Uploader(tag models.DestTag) (Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.uploaders[tag]
	if !ok {
		return nil, fmt.Errorf("%w: upload %s", models.ErrEngineUnavailable, tag)
	}
	return e, nil
}
