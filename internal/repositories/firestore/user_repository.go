package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/kbkonsulting/Safe2Tow/internal/domain"
	pfirestore "github.com/kbkonsulting/Safe2Tow/internal/platform/firestore"
)

const userCollection = "users"

// UserRepository persists users/{uid} documents.
type UserRepository struct {
	provider *pfirestore.Provider
	users    *pfirestore.Collection[userDocument]
	now      func() time.Time
}

// NewUserRepository constructs a Firestore-backed user repository.
func NewUserRepository(provider *pfirestore.Provider, opts ...Option) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository requires firestore provider")
	}
	o := applyOptions(opts)
	return &UserRepository{
		provider: provider,
		users:    pfirestore.NewCollection(provider, userCollection, pfirestore.StructCodec[userDocument]()),
		now:      o.now,
	}, nil
}

// FindByID loads the profile for uid.
func (r *UserRepository) FindByID(ctx context.Context, uid string) (domain.UserProfile, error) {
	if strings.TrimSpace(uid) == "" {
		return domain.UserProfile{}, errors.New("user id is required")
	}
	doc, err := r.users.Get(ctx, uid)
	if err != nil {
		return domain.UserProfile{}, err
	}
	return doc.Data.profile(doc.ID), nil
}

// CreateIfNotExists stores profile in a transaction unless the document already exists.
func (r *UserRepository) CreateIfNotExists(ctx context.Context, profile domain.UserProfile) (domain.UserProfile, bool, error) {
	uid := strings.TrimSpace(profile.UID)
	if uid == "" {
		return domain.UserProfile{}, false, errors.New("user id is required")
	}

	var (
		stored  domain.UserProfile
		created bool
	)
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		created = false
		ref, err := r.users.Doc(ctx, uid)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err == nil {
			doc, err := r.users.Decode(snap)
			if err != nil {
				return err
			}
			stored = doc.Data.profile(uid)
			return nil
		}
		if !pfirestore.IsNotFound(pfirestore.WrapError("users.get", err)) {
			return err
		}

		now := r.now().UTC()
		doc := userDocument{
			UID:       uid,
			Email:     strings.ToLower(strings.TrimSpace(profile.Email)),
			Name:      strings.TrimSpace(profile.Name),
			CreatedAt: now,
			UpdatedAt: now,
		}
		created = true
		stored = doc.profile(uid)
		return tx.Create(ref, doc)
	})
	if err != nil {
		return domain.UserProfile{}, false, err
	}
	return stored, created, nil
}

// SetStripeCustomerID records the PSP customer for uid.
func (r *UserRepository) SetStripeCustomerID(ctx context.Context, uid, customerID string) (domain.UserProfile, error) {
	return r.update(ctx, uid, []firestore.Update{
		{Path: "stripe_customer_id", Value: strings.TrimSpace(customerID)},
	})
}

// UpgradeToPro marks uid as a Pro member paid for by customerID.
func (r *UserRepository) UpgradeToPro(ctx context.Context, uid, customerID string) (domain.UserProfile, error) {
	updates := []firestore.Update{{Path: "is_pro_member", Value: true}}
	if customerID = strings.TrimSpace(customerID); customerID != "" {
		updates = append(updates, firestore.Update{Path: "stripe_customer_id", Value: customerID})
	}
	return r.update(ctx, uid, updates)
}

// SetProStatus overwrites the Pro flag.
func (r *UserRepository) SetProStatus(ctx context.Context, uid string, isPro bool) (domain.UserProfile, error) {
	return r.update(ctx, uid, []firestore.Update{{Path: "is_pro_member", Value: isPro}})
}

func (r *UserRepository) update(ctx context.Context, uid string, updates []firestore.Update) (domain.UserProfile, error) {
	if strings.TrimSpace(uid) == "" {
		return domain.UserProfile{}, errors.New("user id is required")
	}
	updates = append(updates, firestore.Update{Path: "updated_at", Value: r.now().UTC()})
	if err := r.users.Update(ctx, uid, updates); err != nil {
		return domain.UserProfile{}, err
	}
	return r.FindByID(ctx, uid)
}

type userDocument struct {
	UID              string    `firestore:"uid"`
	Email            string    `firestore:"email"`
	Name             string    `firestore:"name"`
	IsProMember      bool      `firestore:"is_pro_member"`
	StripeCustomerID string    `firestore:"stripe_customer_id,omitempty"`
	CreatedAt        time.Time `firestore:"created_at"`
	UpdatedAt        time.Time `firestore:"updated_at"`
}

func (d userDocument) profile(id string) domain.UserProfile {
	uid := strings.TrimSpace(d.UID)
	if uid == "" {
		uid = id
	}
	return domain.UserProfile{
		UID:              uid,
		Email:            d.Email,
		Name:             d.Name,
		IsProMember:      d.IsProMember,
		StripeCustomerID: d.StripeCustomerID,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
}
