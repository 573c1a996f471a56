package config

import (
	"testing"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func TestNewTokenPolicyHolderDefaults(t *testing.T) {
	holder, err := NewTokenPolicyHolder(zap.NewNop())
	if err != nil {
		t.Fatalf("new holder: %v", err)
	}
	if got := holder.Current(); got != DefaultTokenPolicy() {
		t.Fatalf("expected default policy, got %+v", got)
	}
}

func TestTokenPolicyReloadClampsNegatives(t *testing.T) {
	v := viper.New()
	v.Set("tokens.demoAllotment", -3)
	v.Set("tokens.lowBalanceThreshold", -1)
	v.Set("tokens.maxUnitsPerConsume", 10)

	holder := &TokenPolicyHolder{}
	if err := holder.reload(v); err != nil {
		t.Fatalf("reload: %v", err)
	}

	policy := holder.Current()
	if policy.DemoAllotment != DefaultTokenPolicy().DemoAllotment {
		t.Fatalf("expected default allotment, got %d", policy.DemoAllotment)
	}
	if policy.LowBalanceThreshold != 0 {
		t.Fatalf("expected threshold clamped to 0, got %d", policy.LowBalanceThreshold)
	}
	if policy.MaxUnitsPerConsume != 10 {
		t.Fatalf("expected cap 10, got %d", policy.MaxUnitsPerConsume)
	}
}
