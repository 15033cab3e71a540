package staff

import (
	"context"

	"golang.org/x/crypto/bcrypt"

	mdshared "github.com/meridian-erp/meridian-erp/internal/masterdata/shared"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context, filters mdshared.ListFilters) ([]Member, int, error) {
	return s.repo.List(ctx, filters)
}

func (s *Service) Get(ctx context.Context, id int64) (Member, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) Create(ctx context.Context, member Member, password string) (Member, error) {
	if member.Name == "" {
		return Member{}, shared.Invalid("invalid staff member", "name")
	}
	if member.Email == "" {
		return Member{}, shared.Invalid("invalid staff member", "email")
	}
	if len(password) < 8 {
		return Member{}, shared.Invalid("password must be at least 8 characters", "password")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Member{}, err
	}
	member.PasswordHash = string(hash)
	return s.repo.Create(ctx, member)
}

func (s *Service) Update(ctx context.Context, id int64, member Member) (Member, error) {
	if member.Name == "" {
		return Member{}, shared.Invalid("invalid staff member", "name")
	}
	if err := s.repo.Update(ctx, id, member); err != nil {
		return Member{}, err
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) ChangePassword(ctx context.Context, id int64, password string) error {
	if len(password) < 8 {
		return shared.Invalid("password must be at least 8 characters", "password")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return s.repo.UpdatePasswordHash(ctx, id, string(hash))
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.repo.Delete(ctx, id)
}

// Authenticate validates email/password credentials. Inactive accounts and
// unknown emails fail the same way as a wrong password.
func (s *Service) Authenticate(ctx context.Context, email, password string) (Member, error) {
	member, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return Member{}, shared.Invalid("invalid credentials")
	}
	if !member.IsActive {
		return Member{}, shared.Invalid("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(member.PasswordHash), []byte(password)); err != nil {
		return Member{}, shared.Invalid("invalid credentials")
	}
	return member, nil
}
