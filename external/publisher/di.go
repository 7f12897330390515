package publisher

import (
	"fmt"

	"github.com/foxseedlab/kikitori/internal/config"
	"github.com/foxseedlab/kikitori/internal/publisher"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (publisher.Publisher, error) {
		c := do.MustInvoke[*config.Config](i)
		opts, err := redis.ParseURL(c.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
		return NewRedisPublisher(redis.NewClient(opts), c.RedisChannelPrefix), nil
	})
}
