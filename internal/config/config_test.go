package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddressList_SingleValues(t *testing.T) {
	got, err := ParseAddressList("1,2,3")
	require.NoError(t, err)
	assert.Equal(t, []uint16{1, 2, 3}, got)
}

func TestParseAddressList_Ranges(t *testing.T) {
	got, err := ParseAddressList("0-3,10")
	require.NoError(t, err)
	assert.Equal(t, []uint16{0, 1, 2, 3, 10}, got)
}

func TestParseAddressList_Empty(t *testing.T) {
	got, err := ParseAddressList("")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestParseAddressList_InvalidRange(t *testing.T) {
	_, err := ParseAddressList("5-2")
	assert.Error(t, err)
}

func TestParseAddressList_InvalidNumber(t *testing.T) {
	_, err := ParseAddressList("abc")
	assert.Error(t, err)
}

func TestValidate_RejectsOutOfRangeUnitID(t *testing.T) {
	cfg := Defaults()
	cfg.UnitID = 0
	assert.Error(t, Validate(&cfg))
}

func TestValidate_RejectsOutOfRangePort(t *testing.T) {
	cfg := Defaults()
	cfg.Port = 70000
	assert.Error(t, Validate(&cfg))
}

func TestValidate_RejectsZeroIntervalWhenEnabled(t *testing.T) {
	cfg := Defaults()
	cfg.HoldingAuto = AutoIncrement{Enabled: true, Addresses: []uint16{0}}
	assert.Error(t, Validate(&cfg))
}

func TestValidate_RejectsAddressOutOfBankRange(t *testing.T) {
	cfg := Defaults()
	cfg.BankSizes.Holding = 10
	cfg.HoldingAuto = AutoIncrement{Enabled: true, Addresses: []uint16{20}, IntervalMs: 100, Increment: 1, Max: 10}
	assert.Error(t, Validate(&cfg))
}

func TestValidate_ClampsIncrementToMax(t *testing.T) {
	cfg := Defaults()
	cfg.HoldingAuto = AutoIncrement{Enabled: true, Addresses: []uint16{0}, IntervalMs: 100, Increment: 50, Max: 10}
	require.NoError(t, Validate(&cfg))
	assert.Equal(t, uint16(10), cfg.HoldingAuto.Increment)
}

func TestLoad_DefaultsWithNoFile(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, byte(1), cfg.UnitID)
	assert.Equal(t, 502, cfg.Port)
	assert.Equal(t, 100, cfg.BankSizes.Coils)
}

func TestLoad_OverridesWinOverDefaults(t *testing.T) {
	cfg, err := Load("", map[string]any{"port": 1502, "unit_id": 7})
	require.NoError(t, err)
	assert.Equal(t, 1502, cfg.Port)
	assert.Equal(t, byte(7), cfg.UnitID)
}
