package destinations

import (
	"testing"

	"github.com/candree7-rgb/Systemic.Systems/models"
)

func TestTriggerPrice(t *testing.T) {
	tests := []struct {
		name   string
		side   models.Side
		entry  float64
		buffer float64
		want   float64
	}{
		{"long_below_entry", models.SideLong, 100, 2, 98},
		{"short_above_entry", models.SideShort, 100, 2, 102},
		{"zero_buffer_is_entry", models.SideLong, 50000, 0, 50000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TriggerPrice(tt.side, tt.entry, tt.buffer); got != tt.want {
				t.Errorf("TriggerPrice = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStopPrice(t *testing.T) {
	if got := StopPrice(models.SideLong, 100, 19); got != 81 {
		t.Errorf("long stop = %v, want 81", got)
	}
	if got := StopPrice(models.SideShort, 100, 19); got != 119 {
		t.Errorf("short stop = %v, want 119", got)
	}
}

func TestExpirePrice(t *testing.T) {
	t.Run("disabled_when_zero", func(t *testing.T) {
		if _, ok := ExpirePrice(models.SideLong, 100, 0); ok {
			t.Error("expected disabled expiration")
		}
	})
	t.Run("profit_direction", func(t *testing.T) {
		if got, ok := ExpirePrice(models.SideLong, 100, 5); !ok || got != 105 {
			t.Errorf("long expire = %v ok=%v, want 105", got, ok)
		}
		if got, ok := ExpirePrice(models.SideShort, 100, 5); !ok || got != 95 {
			t.Errorf("short expire = %v ok=%v, want 95", got, ok)
		}
	})
}

func TestInstrument(t *testing.T) {
	if got := Instrument("BTC", "USDT", ".P"); got != "BTCUSDT.P" {
		t.Errorf("Instrument = %q", got)
	}
	if got := Instrument("ETH", "USDT", ""); got != "ETHUSDT" {
		t.Errorf("Instrument = %q", got)
	}
}

func TestFormatPrice(t *testing.T) {
	if got := FormatPrice(50000, 8); got != "50000.00000000" {
		t.Errorf("FormatPrice = %q", got)
	}
	if got := FormatPrice(48500.5, 6); got != "48500.500000" {
		t.Errorf("FormatPrice = %q", got)
	}
}
