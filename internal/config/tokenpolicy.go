package config

import (
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// TokenPolicy is the platform-wide token accounting policy. It is read from a
// volume-mounted YAML file so operators can adjust allotments without a
// redeploy; the balances themselves always live in the database.
type TokenPolicy struct {
	// DemoAllotment seeds demo_tokens on every new grant.
	DemoAllotment int64 `mapstructure:"demoAllotment"`
	// LowBalanceThreshold is the combined balance at which responses start
	// carrying a low-balance warning message.
	LowBalanceThreshold int64 `mapstructure:"lowBalanceThreshold"`
	// MaxUnitsPerConsume caps a single consume call; zero means uncapped.
	MaxUnitsPerConsume int64 `mapstructure:"maxUnitsPerConsume"`
}

// DefaultTokenPolicy mirrors the defaults the platform shipped with.
func DefaultTokenPolicy() TokenPolicy {
	return TokenPolicy{
		DemoAllotment:       5,
		LowBalanceThreshold: 2,
		MaxUnitsPerConsume:  0,
	}
}

// TokenPolicyHolder keeps the current policy behind an atomic value and
// refreshes it when the config file changes on disk.
type TokenPolicyHolder struct {
	current atomic.Value // holds TokenPolicy
}

// NewTokenPolicyHolder loads the token policy and starts watching for changes.
func NewTokenPolicyHolder(log *zap.Logger) (*TokenPolicyHolder, error) {
	v := viper.New()

	v.SetConfigName("tokens")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/zimmer/config")
	v.AddConfigPath("/etc/zimmer")
	v.AddConfigPath(".")

	v.SetEnvPrefix("ZIMMER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultTokenPolicy()
	v.SetDefault("tokens.demoAllotment", defaults.DemoAllotment)
	v.SetDefault("tokens.lowBalanceThreshold", defaults.LowBalanceThreshold)
	v.SetDefault("tokens.maxUnitsPerConsume", defaults.MaxUnitsPerConsume)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	holder := &TokenPolicyHolder{}
	if err := holder.reload(v); err != nil {
		return nil, err
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if err := holder.reload(v); err != nil {
			log.Warn("token policy reload failed",
				zap.String("file", e.Name),
				zap.Error(err),
			)
		}
	})
	v.WatchConfig()

	return holder, nil
}

// NewStaticTokenPolicyHolder returns a holder pinned to a fixed policy,
// bypassing the file watcher.
func NewStaticTokenPolicyHolder(policy TokenPolicy) *TokenPolicyHolder {
	holder := &TokenPolicyHolder{}
	holder.current.Store(policy)
	return holder
}

// Current returns the active policy.
func (h *TokenPolicyHolder) Current() TokenPolicy {
	if value, ok := h.current.Load().(TokenPolicy); ok {
		return value
	}
	return DefaultTokenPolicy()
}

func (h *TokenPolicyHolder) reload(v *viper.Viper) error {
	var policy TokenPolicy
	if err := v.UnmarshalKey("tokens", &policy); err != nil {
		return err
	}
	if policy.DemoAllotment < 0 {
		policy.DemoAllotment = DefaultTokenPolicy().DemoAllotment
	}
	if policy.LowBalanceThreshold < 0 {
		policy.LowBalanceThreshold = 0
	}
	h.current.Store(policy)
	return nil
}
