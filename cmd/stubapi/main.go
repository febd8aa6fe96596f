package main

import (
	"context"

	"github.com/dmitrijs2005/medscribe/internal/stubapi"
	"github.com/dmitrijs2005/medscribe/internal/stubapi/config"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()

	app := stubapi.NewApp(cfg, stubapi.DefaultSeedUsers)
	app.Run(ctx)

}
