package backend

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mercator-hq/costtrack/pkg/cost/consumption"
	"mercator-hq/costtrack/pkg/money"
	"mercator-hq/costtrack/pkg/scope"
)

var vm = scope.ResourceInfo{ID: "vm1", Type: "openstack.instance", SPL: "spl1"}

func TestRegistry_GetConsumables(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry()

	_, err := reg.GetConsumables(ctx, vm)
	assert.ErrorIs(t, err, ErrNotRegistered)

	cores := consumption.Item{Type: consumption.ItemCores, Key: "1 core"}
	a := NewStaticAdapter()
	a.Set("vm1", consumption.Usage{cores: 4})
	reg.Register(vm.Type, a)

	usage, err := reg.GetConsumables(ctx, vm)
	require.NoError(t, err)
	assert.Equal(t, int64(4), usage[cores])
	assert.False(t, reg.IsAuthoritative(vm.Type))
	assert.Equal(t, []string{"openstack.instance"}, reg.Types())

	a.Forget("vm1")
	_, err = reg.GetConsumables(ctx, vm)
	var ae *AdapterError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "consumables", ae.Op)
}

func TestRegistry_RejectsNegativeUsage(t *testing.T) {
	reg := NewRegistry()
	reg.Register(vm.Type, AdapterFunc(func(context.Context, scope.ResourceInfo) (consumption.Usage, error) {
		return consumption.Usage{{Type: consumption.ItemRAM, Key: "1 MB"}: -1}, nil
	}))

	_, err := reg.GetConsumables(context.Background(), vm)
	assert.ErrorIs(t, err, consumption.ErrNegativeUsage)
}

func TestRegistry_MonthlyCost(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry()

	_, ok, err := reg.MonthlyCost(ctx, vm)
	require.NoError(t, err)
	assert.False(t, ok)

	a := NewAuthoritativeAdapter()
	reg.Register(vm.Type, a)
	assert.True(t, reg.IsAuthoritative(vm.Type))

	_, ok, err = reg.MonthlyCost(ctx, vm)
	assert.True(t, ok)
	assert.Error(t, err)

	a.SetMonthlyCost("vm1", 42*money.One)
	total, ok, err := reg.MonthlyCost(ctx, vm)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 42*money.One, total)
}
