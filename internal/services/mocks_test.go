package services

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/clubledger/backend/internal/provider"
	"github.com/clubledger/backend/internal/store"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Filter(ctx context.Context, entity string, where map[string]string, opts *store.FilterOptions) ([]store.Record, error) {
	args := m.Called(ctx, entity, where, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]store.Record), args.Error(1)
}

func (m *MockStore) Create(ctx context.Context, entity string, rec store.Record) (store.Record, error) {
	args := m.Called(ctx, entity, rec)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(store.Record), args.Error(1)
}

func (m *MockStore) Update(ctx context.Context, entity string, id string, patch map[string]any) (store.Record, error) {
	args := m.Called(ctx, entity, id, patch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(store.Record), args.Error(1)
}

func (m *MockStore) Remove(ctx context.Context, entity string, id string) error {
	args := m.Called(ctx, entity, id)
	return args.Error(0)
}

type MockProviderClient struct {
	mock.Mock
}

func (m *MockProviderClient) VerifyEvent(payload []byte, sigHeader string) (*provider.Event, error) {
	args := m.Called(payload, sigHeader)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.Event), args.Error(1)
}

func (m *MockProviderClient) RetrieveSubscription(ctx context.Context, id string) (*provider.Subscription, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.Subscription), args.Error(1)
}

func (m *MockProviderClient) RetrieveInvoice(ctx context.Context, id string) (*provider.Invoice, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.Invoice), args.Error(1)
}

func (m *MockProviderClient) CancelSubscription(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockProviderClient) CreateSubscription(ctx context.Context, customerID string, amountCents int64, metadata map[string]string) (*provider.Subscription, error) {
	args := m.Called(ctx, customerID, amountCents, metadata)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.Subscription), args.Error(1)
}
