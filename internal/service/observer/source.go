package observer

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/oshokin/alarm-bridge/internal/api/grpc/bridge"
	"github.com/oshokin/alarm-bridge/internal/config"
	"github.com/oshokin/alarm-bridge/internal/logger"
	"github.com/oshokin/alarm-bridge/internal/repository/alarms"
	"github.com/oshokin/alarm-bridge/internal/session"
)

// source is an opened alarm authority.
type source struct {
	// reader is observed by the session.
	reader session.Source
	// controller accepts alarm actions; nil for read-only sources.
	controller bridge.Controller
	// run drives background work of the source, if any.
	run func(ctx context.Context)
	// close releases connections.
	close func() error
}

// openSource builds the authority selected in settings.
func openSource(ctx context.Context, settings config.Source) (*source, error) {
	switch settings.Kind {
	case config.SourceMemory:
		memory := alarms.NewMemory(alarms.WithSnoozeDuration(settings.SnoozeDuration))

		return &source{
			reader:     memory,
			controller: memory,
			run: func(ctx context.Context) {
				memory.Run(ctx, settings.FireCheckInterval)
			},
		}, nil
	case config.SourceFile:
		return &source{reader: alarms.NewFile(settings.File)}, nil
	case config.SourceRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     settings.Redis.Addr,
			Password: settings.Redis.Password,
			DB:       settings.Redis.DB,
		})

		return &source{
			reader: alarms.NewRedis(client, settings.Redis.Key, settings.Redis.Channel),
			close:  client.Close,
		}, nil
	case config.SourceSQL:
		db, err := alarms.OpenSQL(ctx, settings.SQL.Driver, settings.SQL.DSN)
		if err != nil {
			return nil, err
		}

		store := alarms.NewSQL(db, settings.SQL.Driver)

		if settings.SQL.CreateSchema {
			if err = store.CreateSchema(ctx); err != nil {
				_ = db.Close()
				return nil, err
			}
		}

		logger.InfoKV(ctx, "SQL alarm source opened", "driver", settings.SQL.Driver)

		return &source{reader: store, close: db.Close}, nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", settings.Kind)
	}
}

// Close releases the source.
func (s *source) Close() error {
	if s.close == nil {
		return nil
	}

	if err := s.close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}

	return nil
}
