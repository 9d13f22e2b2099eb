package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPriceIDs(t *testing.T) {
	got := loadPriceIDs([]string{
		"STRIPE_PRICE_PRO=price_pro",
		"STRIPE_PRICE_TOPUP_60= price_t60 ",
		"STRIPE_PRICE_BUSINESS=",
		"STRIPE_SECRET_KEY=sk_test",
		"PATH=/usr/bin",
	})

	assert.Equal(t, map[string]string{
		"pro":      "price_pro",
		"topup_60": "price_t60",
	}, got)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("RECONCILE_CRON", "")
	t.Setenv("RATE_LIMIT_DEBIT_RATE", "nope")

	cfg := Load()
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "@every 15m", cfg.ReconcileCron)
	assert.Equal(t, float64(2), cfg.RateLimit.DebitRate)
}

func TestPlanQuotaHolderReadsFile(t *testing.T) {
	dir := t.TempDir()
	body := "plans:\n  quotaMinutes:\n    Pro: 2000\n    business: 7000\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plans.yml"), []byte(body), 0o600))

	holder, err := NewPlanQuotaHolder(Config{PlansConfigDir: dir})
	require.NoError(t, err)

	minutes, ok := holder.Get().Minutes("pro")
	assert.True(t, ok)
	assert.Equal(t, int64(2000), minutes)

	_, ok = holder.Get().Minutes("free")
	assert.False(t, ok)
}

func TestPlanQuotaHolderRejectsNegative(t *testing.T) {
	dir := t.TempDir()
	body := "plans:\n  quotaMinutes:\n    pro: -1\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plans.yml"), []byte(body), 0o600))

	_, err := NewPlanQuotaHolder(Config{PlansConfigDir: dir})
	assert.Error(t, err)
}

func TestStaticPlanQuotaHolder(t *testing.T) {
	holder := NewStaticPlanQuotaHolder(PlanQuotas{QuotaMinutes: map[string]int64{" PRO ": 10}})
	minutes, ok := holder.Get().Minutes("pro")
	assert.True(t, ok)
	assert.Equal(t, int64(10), minutes)

	var nilHolder *PlanQuotaHolder
	_, ok = nilHolder.Get().Minutes("pro")
	assert.False(t, ok)
}
