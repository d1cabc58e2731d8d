// Command api-server serves the ByteKart order API.
package main

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	bytekart "github.com/xenking/bytekart/internal/app"
)

func main() {
	app.Run(func(ctx context.Context, lg *zap.Logger, m *app.Telemetry) error {
		cfg, err := bytekart.LoadConfig()
		if err != nil {
			return errors.Wrap(err, "config")
		}
		return bytekart.Run(ctx, lg, m, cfg)
	})
}
