package views

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"inquirydesk/internal/app/conversations"
	"inquirydesk/internal/app/session"
	"inquirydesk/internal/domain/inquiry"
)

var (
	ErrViewNotFound = errors.New("views: view not found")
	ErrTooManyViews = errors.New("views: too many mounted views")
)

type Kind string

const (
	KindInbox Kind = "inbox"
	KindChat  Kind = "chat"
)

const (
	defaultMaxViews = 32
	defaultBuffer   = 64
)

// ViewerSource resolves who the daemon currently acts for.
type ViewerSource interface {
	Viewer(ctx context.Context) (conversations.Viewer, error)
}

// Registry owns the mounted views of the daemon. Every view runs its own
// synchronizer; all of them share one gateway.
type Registry struct {
	Viewers  ViewerSource
	API      conversations.API
	Gateway  conversations.Gateway
	OnGuest  func(email string)
	Logger   *slog.Logger
	MaxViews int
	Buffer   int

	mu       sync.Mutex
	views    map[string]*View
	mounting int
}

// View is one mounted screen.
type View struct {
	ID   string
	Kind Kind
	Sync *conversations.Synchronizer

	feed *feed
}

// Subscribe streams the view's change events until cancel is called or the view is unmounted.
func (v *View) Subscribe() (<-chan conversations.Event, func()) {
	return v.feed.subscribe()
}

func (r *Registry) MountInbox(ctx context.Context) (*View, error) {
	viewer, err := r.viewer(ctx, false)
	if err != nil {
		return nil, err
	}
	return r.mount(KindInbox, viewer, func(s *conversations.Synchronizer) error {
		return s.MountInbox(ctx)
	})
}

// MountChat mounts a detail chat. Without a session the viewer is a guest client.
func (r *Registry) MountChat(ctx context.Context, target conversations.ChatTarget) (*View, error) {
	viewer, err := r.viewer(ctx, true)
	if err != nil {
		return nil, err
	}
	return r.mount(KindChat, viewer, func(s *conversations.Synchronizer) error {
		return s.MountChat(ctx, target)
	})
}

func (r *Registry) Get(id string) (*View, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.views[id]
	if !ok {
		return nil, ErrViewNotFound
	}
	return v, nil
}

func (r *Registry) Unmount(id string) error {
	r.mu.Lock()
	v, ok := r.views[id]
	delete(r.views, id)
	r.mu.Unlock()
	if !ok {
		return ErrViewNotFound
	}
	r.release(v)
	return nil
}

// CloseAll unmounts every view, e.g. on sign-out or shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	views := make([]*View, 0, len(r.views))
	for _, v := range r.views {
		views = append(views, v)
	}
	r.views = nil
	r.mu.Unlock()
	for _, v := range views {
		r.release(v)
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.views)
}

func (r *Registry) mount(kind Kind, viewer conversations.Viewer, start func(*conversations.Synchronizer) error) (*View, error) {
	r.mu.Lock()
	if len(r.views)+r.mounting >= r.maxViews() {
		r.mu.Unlock()
		return nil, ErrTooManyViews
	}
	r.mounting++
	r.mu.Unlock()

	v, err := r.start(kind, viewer, start)

	r.mu.Lock()
	r.mounting--
	if err == nil {
		if r.views == nil {
			r.views = make(map[string]*View)
		}
		r.views[v.ID] = v
	}
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if r.Logger != nil {
		r.Logger.Debug("view mounted", "view_id", v.ID, "kind", kind, "role", viewer.Role, "guest", viewer.Guest())
	}
	return v, nil
}

func (r *Registry) start(kind Kind, viewer conversations.Viewer, start func(*conversations.Synchronizer) error) (*View, error) {
	f := newFeed(r.buffer(), r.Logger)
	s, err := conversations.NewSynchronizer(conversations.Options{
		Viewer:   viewer,
		API:      r.API,
		Gateway:  r.Gateway,
		Observer: f,
		OnGuest:  r.OnGuest,
		Logger:   r.Logger,
	})
	if err != nil {
		f.close()
		return nil, err
	}
	if err := start(s); err != nil {
		s.Unmount()
		f.close()
		return nil, err
	}
	return &View{ID: uuid.NewString(), Kind: kind, Sync: s, feed: f}, nil
}

func (r *Registry) release(v *View) {
	v.Sync.Unmount()
	v.feed.close()
	if r.Logger != nil {
		r.Logger.Debug("view unmounted", "view_id", v.ID)
	}
}

func (r *Registry) viewer(ctx context.Context, allowGuest bool) (conversations.Viewer, error) {
	if r.Viewers == nil {
		if allowGuest {
			return conversations.Viewer{Role: inquiry.RoleClient}, nil
		}
		return conversations.Viewer{}, session.ErrSignedOut
	}
	viewer, err := r.Viewers.Viewer(ctx)
	if errors.Is(err, session.ErrSignedOut) && allowGuest {
		return conversations.Viewer{Role: inquiry.RoleClient}, nil
	}
	return viewer, err
}

func (r *Registry) maxViews() int {
	if r.MaxViews > 0 {
		return r.MaxViews
	}
	return defaultMaxViews
}

func (r *Registry) buffer() int {
	if r.Buffer > 0 {
		return r.Buffer
	}
	return defaultBuffer
}
