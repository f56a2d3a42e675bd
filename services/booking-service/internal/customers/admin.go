package customers

import (
	"context"
	"errors"
	"strings"

	"github.com/bookwell/bookwell/services/booking-service/internal/model"
	"github.com/bookwell/bookwell/services/booking-service/internal/storage"
)

var ErrCustomerNotFound = errors.New("customer not found")

const listLimit = 100

// List returns the business's customers, optionally filtered by name, phone
// or email.
func (s *Service) List(ctx context.Context, businessID, query string) ([]model.Customer, error) {
	return s.store.ListCustomers(ctx, businessID, strings.TrimSpace(query), listLimit)
}

// SetStatus blocks or unblocks a customer. Blocked customers keep their
// sessions but can no longer book.
func (s *Service) SetStatus(ctx context.Context, businessID, customerID string, status model.CustomerStatus) (model.Customer, error) {
	c, err := s.store.GetCustomer(ctx, businessID, customerID)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Customer{}, ErrCustomerNotFound
	}
	if err != nil {
		return model.Customer{}, err
	}
	if c.Status == status {
		return c, nil
	}
	c.Status = status
	c.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateCustomer(ctx, c); err != nil {
		return model.Customer{}, err
	}
	return c, nil
}
