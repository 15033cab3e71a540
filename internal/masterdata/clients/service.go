package clients

import (
	"context"

	mdshared "github.com/meridian-erp/meridian-erp/internal/masterdata/shared"
	"github.com/meridian-erp/meridian-erp/internal/pricing"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context, filters mdshared.ListFilters) ([]Client, int, error) {
	return s.repo.List(ctx, filters)
}

func (s *Service) Get(ctx context.Context, id int64) (Client, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) Create(ctx context.Context, client Client) (Client, error) {
	if err := validate(&client); err != nil {
		return Client{}, err
	}
	return s.repo.Create(ctx, client)
}

func (s *Service) Update(ctx context.Context, id int64, client Client) (Client, error) {
	if err := validate(&client); err != nil {
		return Client{}, err
	}
	if err := s.repo.Update(ctx, id, client); err != nil {
		return Client{}, err
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.repo.Delete(ctx, id)
}

func validate(client *Client) error {
	var fields []string
	if client.Name == "" {
		fields = append(fields, "name")
	}
	if client.CreditLimit < 0 {
		fields = append(fields, "credit_limit")
	}
	if len(fields) > 0 {
		return shared.Invalid("invalid client", fields...)
	}
	client.PriceCategory = pricing.ParseCategory(string(client.PriceCategory))
	return nil
}
