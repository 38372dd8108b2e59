package main

import (
	"context"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	app := mustBootstrapDeliveryAPI()
	defer app.Close()

	if err := app.Run(); err != nil && err != context.Canceled {
		panic(err)
	}
}
