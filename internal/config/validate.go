package config

import (
	"log"
	"sort"
)

// Validate warns about unrecognized fields. Unknown fields never fail the
// load; configs written against other versions must still start the service.
func Validate(cfg *Config) {
	warnOverflow("config", cfg.Overflow)
	warnOverflow("server", cfg.Server.Overflow)
	warnOverflow("database", cfg.Database.Overflow)
	if cfg.Redis != nil {
		warnOverflow("redis", cfg.Redis.Overflow)
	}
	warnOverflow("queue", cfg.Queue.Overflow)
	warnOverflow("batch", cfg.Batch.Overflow)
	warnOverflow("provider", cfg.Provider.Overflow)
	warnOverflow("prompt", cfg.Prompt.Overflow)
	warnOverflow("scheduler", cfg.Scheduler.Overflow)
}

func warnOverflow(section string, overflow map[string]any) {
	if len(overflow) == 0 {
		return
	}
	keys := make([]string, 0, len(overflow))
	for k := range overflow {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		log.Printf("warn: config: unrecognized field %s.%s ignored", section, k)
	}
}
