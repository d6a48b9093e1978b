package consumption

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mercator-hq/costtrack/pkg/period"
)

var storageMB = Item{Type: ItemStorage, Key: "1 MB"}

func TestManager_OpenProjectsToMonthEnd(t *testing.T) {
	m := NewManager(time.UTC)
	at := time.Date(2016, 8, 8, 11, 0, 30, 0, time.UTC)

	d := m.Open("vm1", "openstack.instance", "s1", Usage{storageMB: 20480}, at)

	assert.Equal(t, period.New(2016, time.August), d.Month)
	assert.Equal(t, time.Date(2016, 8, 8, 11, 0, 0, 0, time.UTC), d.LastUpdateTime)
	assert.Equal(t, int64(33899), m.RemainingMinutes(d))
	assert.Equal(t, Usage{storageMB: 20480 * 33899}, m.ProjectedFullMonth(d))
}

func TestManager_UpdateFoldsElapsedMinutes(t *testing.T) {
	m := NewManager(time.UTC)
	d := m.Open("vm1", "", "", Usage{storageMB: 20480}, time.Date(2016, 8, 8, 11, 0, 0, 0, time.UTC))

	delta, err := m.Update(d, Usage{storageMB: 40960}, time.Date(2016, 8, 15, 11, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	// Seven days at the old size are consumed; 23819 remaining minutes at the new one.
	assert.Equal(t, Usage{storageMB: 20480 * 10080}, d.ConsumedBeforeUpdate)
	assert.Equal(t, Usage{storageMB: 40960}, d.Configuration)
	assert.Equal(t, Usage{storageMB: 20480 * 23819}, delta)
	assert.Equal(t, Usage{storageMB: 20480*10080 + 40960*23819}, m.ProjectedFullMonth(d))
}

func TestManager_UpdateToEmptyFreezes(t *testing.T) {
	m := NewManager(time.UTC)
	d := m.Open("vm1", "", "", Usage{storageMB: 100}, time.Date(2016, 8, 1, 0, 0, 0, 0, time.UTC))

	_, err := m.Update(d, Usage{}, time.Date(2016, 8, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.Equal(t, Usage{storageMB: 100 * 1440}, m.ProjectedFullMonth(d))
	consumed, err := m.Consumed(d, time.Date(2016, 8, 20, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, m.ProjectedFullMonth(d), consumed)
}

func TestManager_UpdateErrors(t *testing.T) {
	m := NewManager(time.UTC)
	d := m.Open("vm1", "", "", Usage{storageMB: 1}, time.Date(2016, 8, 10, 0, 0, 0, 0, time.UTC))

	_, err := m.Update(d, Usage{}, time.Date(2016, 9, 1, 0, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, ErrUpdatePastMonth)

	_, err = m.Update(d, Usage{}, time.Date(2016, 8, 9, 0, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, ErrClockWentBackwards)

	// Nothing changed on failure.
	assert.Equal(t, Usage{storageMB: 1}, d.Configuration)
	assert.Empty(t, d.ConsumedBeforeUpdate)
}

func TestManager_SameMinuteUpdateIsFree(t *testing.T) {
	m := NewManager(time.UTC)
	at := time.Date(2016, 8, 10, 12, 0, 5, 0, time.UTC)
	d := m.Open("vm1", "", "", Usage{storageMB: 1}, at)

	_, err := m.Update(d, Usage{storageMB: 2}, at.Add(40*time.Second))
	require.NoError(t, err)
	assert.Empty(t, d.ConsumedBeforeUpdate)
}

func TestManager_ConsumedClampsToMonthEnd(t *testing.T) {
	m := NewManager(time.UTC)
	d := m.Open("vm1", "", "", Usage{storageMB: 1}, time.Date(2016, 8, 31, 23, 0, 0, 0, time.UTC))

	consumed, err := m.Consumed(d, time.Date(2016, 9, 5, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, Usage{storageMB: 59}, consumed)
}

func TestManager_CarryOver(t *testing.T) {
	m := NewManager(time.UTC)
	prev := m.Open("vm1", "openstack.instance", "s1", Usage{storageMB: 4}, time.Date(2016, 8, 3, 0, 0, 0, 0, time.UTC))

	next := m.CarryOver(prev, period.New(2016, time.September))

	assert.Equal(t, time.Date(2016, 9, 1, 0, 0, 0, 0, time.UTC), next.LastUpdateTime)
	assert.Equal(t, "s1", next.Service)
	assert.Equal(t, Usage{storageMB: 4}, next.Configuration)
	assert.Equal(t, Usage{storageMB: 4 * 43199}, m.ProjectedFullMonth(next))
}

func TestManager_OpenBeforeMonthStart(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	m := NewManager(loc)

	d := m.OpenAt("vm1", "", "", period.New(2016, time.September), Usage{storageMB: 1}, time.Date(2016, 8, 1, 0, 0, 0, 0, time.UTC))
	assert.True(t, d.LastUpdateTime.Equal(time.Date(2016, 9, 1, 0, 0, 0, 0, loc)))
}

func TestUsage_JSON(t *testing.T) {
	u := Usage{
		storageMB:                         1024,
		{Type: ItemFlavor, Key: "m1.small"}: 1,
	}
	data, err := json.Marshal(u)
	require.NoError(t, err)
	assert.JSONEq(t, `[
		{"item_type":"flavor","key":"m1.small","usage":1},
		{"item_type":"storage","key":"1 MB","usage":1024}
	]`, string(data))

	var back Usage
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, u.Equal(back))

	err = json.Unmarshal([]byte(`[{"item_type":"ram","key":"1 MB","usage":1},{"item_type":"ram","key":"1 MB","usage":2}]`), &back)
	assert.ErrorIs(t, err, ErrInvalidItem)
}

func TestUsage_Validate(t *testing.T) {
	assert.NoError(t, Usage{storageMB: 0}.Validate())
	assert.ErrorIs(t, Usage{storageMB: -1}.Validate(), ErrNegativeUsage)
	assert.ErrorIs(t, Usage{{Type: "gpu", Key: "a100"}: 1}.Validate(), ErrInvalidItem)
	assert.ErrorIs(t, Usage{{Type: ItemRAM, Key: ""}: 1}.Validate(), ErrInvalidItem)
}

func TestUsage_Sub(t *testing.T) {
	cores := Item{Type: ItemCores, Key: "1"}
	a := Usage{storageMB: 10, cores: 2}
	b := Usage{storageMB: 4, {Type: ItemRAM, Key: "1 MB"}: 3, cores: 2}

	assert.Equal(t, Usage{storageMB: 6, {Type: ItemRAM, Key: "1 MB"}: -3}, a.Sub(b))
}
