// Package track maps track URIs to the renderers that draw them.
package track

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"honnef.co/go/tracedeck/dataset"
	"honnef.co/go/tracedeck/mysync"
)

var ErrDuplicateTrack = errors.New("track already registered")

// Tags describe a track to code that doesn't know its renderer, such as aggregators deciding whether they apply to a
// selection.
type Tags struct {
	Kinds    []string
	TrackIDs []int64
	Type     string
	Extra    map[string]string
}

func (tags Tags) HasKind(kind string) bool {
	return slices.Contains(tags.Kinds, kind)
}

// Common track kinds.
const (
	SliceKind   = "slice"
	CounterKind = "counter"
)

// Details describes a single row of a track, for display in a details panel.
type Details struct {
	ID     int64
	Fields map[string]string
}

// Renderer draws a track and answers questions about its rows.
type Renderer interface {
	Dataset() dataset.Dataset
	SelectionDetails(ctx context.Context, id int64) (Details, error)
}

type Track struct {
	URI      string
	Renderer Renderer
	Tags     Tags
	// Owner is the ID of the plugin that registered the track.
	Owner string
}

func (t Track) String() string { return t.URI }

type registry struct {
	byURI map[string]Track
	order []string
}

// Registry holds the tracks of one trace. It is safe for concurrent use.
type Registry struct {
	mu *mysync.Mutex[*registry]
}

func NewRegistry() *Registry {
	return &Registry{mu: mysync.NewMutex(&registry{byURI: map[string]Track{}})}
}

func (r *Registry) RegisterTrack(t Track) error {
	if t.URI == "" {
		return errors.New("track has no URI")
	}
	if t.Renderer == nil {
		return errors.Errorf("track %s has no renderer", t.URI)
	}
	var err error
	r.mu.Do(func(reg *registry) {
		if _, ok := reg.byURI[t.URI]; ok {
			err = errors.Wrap(ErrDuplicateTrack, t.URI)
			return
		}
		reg.byURI[t.URI] = t
		reg.order = append(reg.order, t.URI)
	})
	return err
}

// MustRegisterTrack is like RegisterTrack but panics on error.
func (r *Registry) MustRegisterTrack(t Track) {
	if err := r.RegisterTrack(t); err != nil {
		panic(fmt.Sprintf("registering track: %s", err))
	}
}

func (r *Registry) Get(uri string) (Track, bool) {
	var (
		t  Track
		ok bool
	)
	r.mu.View(func(reg *registry) { t, ok = reg.byURI[uri] })
	return t, ok
}

// FindTrack returns the first track, in registration order, for which pred returns true.
func (r *Registry) FindTrack(pred func(Track) bool) (Track, bool) {
	for _, t := range r.All() {
		if pred(t) {
			return t, true
		}
	}
	return Track{}, false
}

// Unregister removes the track with the given URI and reports whether it existed.
func (r *Registry) Unregister(uri string) bool {
	var ok bool
	r.mu.Do(func(reg *registry) {
		if _, ok = reg.byURI[uri]; !ok {
			return
		}
		delete(reg.byURI, uri)
		if i := slices.Index(reg.order, uri); i >= 0 {
			reg.order = slices.Delete(reg.order, i, i+1)
		}
	})
	return ok
}

// All returns all tracks in registration order.
func (r *Registry) All() []Track {
	var out []Track
	r.mu.View(func(reg *registry) {
		out = make([]Track, 0, len(reg.order))
		for _, uri := range reg.order {
			out = append(out, reg.byURI[uri])
		}
	})
	return out
}

func (r *Registry) Len() int {
	var n int
	r.mu.View(func(reg *registry) { n = len(reg.order) })
	return n
}
