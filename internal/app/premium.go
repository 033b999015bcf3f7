package app

import (
	"context"

	"github.com/dinewise/billing-service/internal/domain"
)

// PremiumStatus reports whether userID currently holds premium and the
// package they can buy to extend it.
func (s *Service) PremiumStatus(ctx context.Context, userID string) (*domain.PremiumStatus, error) {
	user, err := s.repo.FindUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &domain.PremiumStatus{
		Active:    user.IsPremium(s.now()),
		ExpiresAt: user.PremiumExpiresAt,
		Package:   s.PremiumPackage(),
	}, nil
}
