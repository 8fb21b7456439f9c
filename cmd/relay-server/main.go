package main

import (
	"log"

	"github.com/joho/godotenv"
	"github.com/roomloop/relay/internal/registry"
	"github.com/roomloop/relay/internal/room"
	"github.com/roomloop/relay/internal/signal"
	"github.com/roomloop/relay/pkg/protocol"
	"github.com/roomloop/relay/pkg/service"
	"go.uber.org/fx"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file, using process environment")
	}

	fx.New(
		fx.Provide(
			registry.NewRegistry,
			room.NewRoomService,
			room.NewRoomNotifier,
			signal.NewRelay,

			protocol.AsHttpController(room.NewRelayController),
		),

		service.LoggerModule,
		service.HttpModule,
	).Run()
}
