package firestore

import (
	"errors"

	pfirestore "github.com/kbkonsulting/Safe2Tow/internal/platform/firestore"
	"github.com/kbkonsulting/Safe2Tow/internal/repositories"
)

// Registry bundles the Firestore repositories over one provider.
type Registry struct {
	provider *pfirestore.Provider
	users    *UserRepository
	searches *SearchLogRepository
	feedback *FeedbackRepository
	health   repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry wires every repository to provider. health may be nil.
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository, opts ...Option) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}
	users, err := NewUserRepository(provider, opts...)
	if err != nil {
		return nil, err
	}
	searches, err := NewSearchLogRepository(provider, opts...)
	if err != nil {
		return nil, err
	}
	feedback, err := NewFeedbackRepository(provider, opts...)
	if err != nil {
		return nil, err
	}
	return &Registry{provider: provider, users: users, searches: searches, feedback: feedback, health: health}, nil
}

func (r *Registry) Close() error { return r.provider.Close() }

func (r *Registry) Users() repositories.UserRepository { return r.users }

func (r *Registry) SearchLogs() repositories.SearchLogRepository { return r.searches }

func (r *Registry) Feedback() repositories.FeedbackRepository { return r.feedback }

func (r *Registry) Health() repositories.HealthRepository { return r.health }
