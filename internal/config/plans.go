package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// PlanQuotas is the operator-tunable quota table read from plans.yml:
//
//	plans:
//	  quotaMinutes:
//	    pro: 2000
type PlanQuotas struct {
	QuotaMinutes map[string]int64 `mapstructure:"quotaMinutes"`
}

// Minutes returns the configured minutes for code, if any.
func (p PlanQuotas) Minutes(code string) (int64, bool) {
	if p.QuotaMinutes == nil {
		return 0, false
	}
	v, ok := p.QuotaMinutes[strings.ToLower(strings.TrimSpace(code))]
	return v, ok
}

type PlanQuotaHolder struct {
	current atomic.Value // holds PlanQuotas
}

// NewStaticPlanQuotaHolder returns a holder that never reloads.
func NewStaticPlanQuotaHolder(q PlanQuotas) *PlanQuotaHolder {
	h := &PlanQuotaHolder{}
	h.current.Store(normalizePlanQuotas(q))
	return h
}

func NewPlanQuotaHolder(cfg Config) (*PlanQuotaHolder, error) {
	v := viper.New()

	v.SetConfigName("plans")
	v.SetConfigType("yml")
	if cfg.PlansConfigDir != "" {
		v.AddConfigPath(cfg.PlansConfigDir)
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("LUISTERSLIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	holder := &PlanQuotaHolder{}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// no file: the dynamic source stays empty and the catalog decides
		holder.current.Store(PlanQuotas{})
		return holder, nil
	}

	var q PlanQuotas
	if err := v.UnmarshalKey("plans", &q); err != nil {
		return nil, err
	}
	if err := validatePlanQuotas(q); err != nil {
		return nil, err
	}
	holder.current.Store(normalizePlanQuotas(q))

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PlanQuotas
		if err := v.UnmarshalKey("plans", &updated); err != nil {
			log.Printf("[plans-config] reload failed: %v", err)
			return
		}
		if err := validatePlanQuotas(updated); err != nil {
			log.Printf("[plans-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(normalizePlanQuotas(updated))
		log.Printf("[plans-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *PlanQuotaHolder) Get() PlanQuotas {
	if h == nil {
		return PlanQuotas{}
	}
	q, _ := h.current.Load().(PlanQuotas)
	return q
}

func validatePlanQuotas(q PlanQuotas) error {
	for code, minutes := range q.QuotaMinutes {
		if strings.TrimSpace(code) == "" {
			return errors.New("plans.quotaMinutes contains an empty plan code")
		}
		if minutes < 0 {
			return fmt.Errorf("plans.quotaMinutes.%s cannot be negative", code)
		}
	}
	return nil
}

func normalizePlanQuotas(q PlanQuotas) PlanQuotas {
	out := PlanQuotas{QuotaMinutes: make(map[string]int64, len(q.QuotaMinutes))}
	for code, minutes := range q.QuotaMinutes {
		out.QuotaMinutes[strings.ToLower(strings.TrimSpace(code))] = minutes
	}
	return out
}
