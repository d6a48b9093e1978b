package pricing

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mercator-hq/costtrack/pkg/cost/consumption"
	"mercator-hq/costtrack/pkg/money"
)

var (
	storageMB = consumption.Item{Type: consumption.ItemStorage, Key: "1 MB"}
	cores     = consumption.Item{Type: consumption.ItemCores, Key: "1 core"}
	license   = consumption.Item{Type: consumption.ItemLicenseOS, Key: "windows"}
)

var errNoPrice = errors.New("no price")

func rates(item consumption.Item) (money.Rate, error) {
	switch item {
	case storageMB:
		return 50, nil
	case cores:
		return 100, nil
	}
	return 0, errNoPrice
}

func TestCostOfItem(t *testing.T) {
	assert.Equal(t, money.One, CostOfItem(100, 1, 60))
	assert.Equal(t, money.Amount(0), CostOfItem(100, 0, 60))
}

func TestCostOfConfiguration_SkipsUnpriced(t *testing.T) {
	total, warnings := CostOfConfiguration(rates, consumption.Usage{cores: 2, license: 1}, 60)

	assert.Equal(t, 2*money.One, total)
	require.Len(t, warnings, 1)
	assert.Equal(t, license, warnings[0].Item)
	assert.ErrorIs(t, warnings[0].Err, errNoPrice)
}

func TestProjectMonthlyEstimate_Create(t *testing.T) {
	m := consumption.NewManager(time.UTC)
	d := m.Open("vm1", "vm", "s1", consumption.Usage{storageMB: 20480}, time.Date(2016, 8, 8, 11, 0, 0, 0, time.UTC))

	total, warnings := ProjectMonthlyEstimate(rates, m, d)
	assert.Empty(t, warnings)
	// 20480 MB * 0.50/h * 33899 min / 60 = 5785429.33333
	assert.Equal(t, money.Amount(578542933333), total)
	assert.Equal(t, "5785429.33", total.String())
}

func TestProjectMonthlyEstimate_Resize(t *testing.T) {
	m := consumption.NewManager(time.UTC)
	d := m.Open("vm1", "vm", "s1", consumption.Usage{storageMB: 20480}, time.Date(2016, 8, 8, 11, 0, 0, 0, time.UTC))
	_, err := m.Update(d, consumption.Usage{storageMB: 40960}, time.Date(2016, 8, 15, 11, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	total, _ := ProjectMonthlyEstimate(rates, m, d)
	// (20480*10080 + 40960*23819) cent-minutes * 50/3
	want := money.Cost(50, 20480*10080+40960*23819)
	assert.Equal(t, want, total)
	assert.Equal(t, "9850538.67", total.String())
}

func TestProjectMonthlyEstimate_WarnsOncePerItem(t *testing.T) {
	m := consumption.NewManager(time.UTC)
	d := m.Open("vm1", "vm", "s1", consumption.Usage{license: 1}, time.Date(2016, 8, 1, 0, 0, 0, 0, time.UTC))
	_, err := m.Update(d, consumption.Usage{license: 1}, time.Date(2016, 8, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	total, warnings := ProjectMonthlyEstimate(rates, m, d)
	assert.Equal(t, money.Amount(0), total)
	assert.Len(t, warnings, 1)
}

func TestConsumedUntil(t *testing.T) {
	m := consumption.NewManager(time.UTC)
	d := m.Open("vm1", "vm", "s1", consumption.Usage{cores: 1}, time.Date(2016, 8, 1, 0, 0, 0, 0, time.UTC))

	total, _, err := ConsumedUntil(rates, m, d, time.Date(2016, 8, 1, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 10*money.One, total)

	_, _, err = ConsumedUntil(rates, m, d, time.Date(2016, 7, 31, 0, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, consumption.ErrClockWentBackwards)
}
