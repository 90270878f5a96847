package main

import (
	"go.uber.org/fx"

	"github.com/andrasnagy-data/gatekeep/internal/components/admin"
	"github.com/andrasnagy-data/gatekeep/internal/components/auth"
	"github.com/andrasnagy-data/gatekeep/internal/components/credential"
	"github.com/andrasnagy-data/gatekeep/internal/components/password"
	"github.com/andrasnagy-data/gatekeep/internal/components/ratelimit"
	"github.com/andrasnagy-data/gatekeep/internal/components/session"
	"github.com/andrasnagy-data/gatekeep/internal/server"
	"github.com/andrasnagy-data/gatekeep/internal/shared/config"
	"github.com/andrasnagy-data/gatekeep/internal/shared/database"
	"github.com/andrasnagy-data/gatekeep/internal/shared/logging"
	"github.com/andrasnagy-data/gatekeep/internal/shared/metrics"
)

func main() {
	fx.New(app()).Run()
}

func app() fx.Option {
	return fx.Options(
		fx.Provide(
			config.NewConfig,
			logging.NewLogger,
			metrics.New,
			database.NewPgxPool,
			database.NewSQLiteDB,
			credential.NewStore,
			password.NewHasher,
			ratelimit.NewLimiter,
			session.NewIssuer,
			server.NewServer,
			server.NewHealthSrvc,
			server.NewHealthHandler,
			auth.NewAuthService,
			fx.Annotate(auth.NewRouter, fx.ResultTags(`name:"authRouter"`)),
			admin.NewGatewayService,
			fx.Annotate(admin.NewRouter, fx.ResultTags(`name:"adminRouter"`)),
		),
		fx.Invoke(
			database.ClosePoolOnStop,
			(*server.Server).Start,
		),
	)
}
