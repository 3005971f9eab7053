package services

import (
	"context"
	"fmt"

	"github.com/desertthunder/reelsync/internal/dispatch"
	"github.com/desertthunder/reelsync/internal/models"
	"github.com/desertthunder/reelsync/internal/shared"
	"golang.org/x/oauth2"
)

// Service is one side of the sync: it captures snapshots and applies mutations.
type Service interface {
	// ID returns which side of the sync this service is.
	ID() models.Service

	// Name returns the display name of the service (e.g., "Trakt", "IMDb")
	Name() string

	// Snapshot captures the current records of one category.
	Snapshot(ctx context.Context, cat models.Category) (models.Snapshot, error)

	// Mutation returns how the service applies action to cat.
	// Unsupported combinations return an error wrapping [shared.ErrNotImplemented].
	Mutation(cat models.Category, action dispatch.Action) (Mutation, error)

	// Close releases external resources such as a browser session.
	Close(ctx context.Context) error
}

// OAuthService extends [Service] for providers using the authorization-code flow.
type OAuthService interface {
	Service
	Authenticate(ctx context.Context, credentials map[string]string) error
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	// Token returns the current token, refreshed if it had expired.
	Token() (*oauth2.Token, error)
}

// Mutation applies a job either in batches through Sink or one record at a time through Apply.
// Exactly one of the two is set.
type Mutation struct {
	Sink  dispatch.Sink
	Apply dispatch.Apply
}

// Batched reports whether the mutation goes through a bulk sink.
func (m Mutation) Batched() bool { return m.Sink != nil }

// Run dispatches job through d using whichever path the mutation provides.
func (m Mutation) Run(ctx context.Context, d *dispatch.Dispatcher, job dispatch.Job) (dispatch.Report, error) {
	switch {
	case m.Sink != nil:
		return d.Submit(ctx, job, m.Sink)
	case m.Apply != nil:
		return d.Each(ctx, job, m.Apply)
	default:
		return dispatch.Report{}, fmt.Errorf("%w: empty mutation for %s %s", shared.ErrNotImplemented, job.Action, job.Category)
	}
}

func unsupported(svc Service, cat models.Category, action dispatch.Action) error {
	return fmt.Errorf("%w: %s %s on %s", shared.ErrNotImplemented, action, cat.Label(), svc.Name())
}
