package loader

import (
	"sync"

	"github.com/pictureloader/pictureloader/internal/imaging"
)

// Target is the display slot a picture is delivered to. The loader tags the
// target with the locator of the latest request and offers each result
// through Apply, which must compare the tag and store the picture as one
// step: SetTag runs on the goroutine calling Load while Apply may run on the
// delivery goroutine at the same time.
type Target interface {
	Tag() string
	SetTag(locator string)
	// Apply stores p only if the target is still tagged with locator and
	// reports whether it did.
	Apply(locator string, p *imaging.Picture) bool
}

// View is a thread-safe Target that remembers the last picture applied.
type View struct {
	mu       sync.Mutex
	tag      string
	picture  *imaging.Picture
	updates  int
	onUpdate func(tag string, p *imaging.Picture)
}

// NewView creates a view. onUpdate, if set, runs after each applied picture.
func NewView(onUpdate func(tag string, p *imaging.Picture)) *View {
	return &View{onUpdate: onUpdate}
}

// Tag returns the locator of the latest request.
func (v *View) Tag() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.tag
}

// SetTag records the locator of a new request.
func (v *View) SetTag(locator string) {
	v.mu.Lock()
	v.tag = locator
	v.mu.Unlock()
}

// Apply replaces the displayed picture when the view is still tagged with
// locator.
func (v *View) Apply(locator string, p *imaging.Picture) bool {
	v.mu.Lock()
	if v.tag != locator {
		v.mu.Unlock()
		return false
	}
	v.picture = p
	v.updates++
	cb := v.onUpdate
	v.mu.Unlock()

	if cb != nil {
		cb(locator, p)
	}
	return true
}

// Picture returns the displayed picture, nil if none was applied yet.
func (v *View) Picture() *imaging.Picture {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.picture
}

// Updates counts applied pictures.
func (v *View) Updates() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.updates
}
