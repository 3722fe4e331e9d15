package main

import (
	"context"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/Akintomiwa200/aagc-sub000/internal/app"
	"github.com/Akintomiwa200/aagc-sub000/internal/buildinfo"
	"github.com/Akintomiwa200/aagc-sub000/internal/config"
)

func main() {

	buildinfo.PrintBuildData(os.Stdout)

	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, continuing with environment")
	}

	ctx := context.Background()
	cfg := config.LoadConfig()

	a, err := app.NewApp(ctx, cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}

	if err := a.Run(ctx); err != nil {
		log.Fatalf("%v", err)
	}
}
