package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskID(t *testing.T) {
	assert.Equal(t, "", MaskID("  "))
	assert.Equal(t, "pi_****wxyz", MaskID("pi_3Nx8abcdwxyz"))
	assert.Equal(t, "cus_****", MaskID("cus_ab"))
	assert.Equal(t, "****7890", MaskID("1234567890"))
}

func TestMaskMetadata(t *testing.T) {
	got := MaskMetadata(map[string]any{
		"external_payment_id": "pi_1234567890",
		"topup_id":            "topup_60",
		"minutes":             60,
		" ":                   "dropped",
	})
	assert.Equal(t, map[string]any{
		"external_payment_id": "pi_****7890",
		"topup_id":            "topup_60",
		"minutes":             60,
	}, got)
	assert.Nil(t, MaskMetadata(nil))
}
