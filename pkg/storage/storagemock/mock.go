package storagemock

import (
	"context"

	"github.com/gridrater/gridrater/pkg/storage"
	"github.com/gridrater/gridrater/pkg/types"
	"github.com/stretchr/testify/mock"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) UpsertContract(ctx context.Context, c types.TariffContract) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *MockDatabase) GetContract(ctx context.Context, id string) (types.TariffContract, error) {
	args := m.Called(ctx, id)
	if len(args) > 0 {
		return args.Get(0).(types.TariffContract), args.Error(1)
	}
	return types.TariffContract{}, nil
}

func (m *MockDatabase) ListContracts(ctx context.Context) ([]types.TariffContract, error) {
	args := m.Called(ctx)
	if len(args) > 0 {
		return args.Get(0).([]types.TariffContract), args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
