package main

import (
	"context"
	"log"
	"os"

	"github.com/BartekS5/bulkmigrate/internal/cli"
	"github.com/BartekS5/bulkmigrate/pkg/logger"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	rootCmd := cli.NewRootCmd()
	err := rootCmd.ExecuteContext(context.Background())
	logger.Close()
	if err != nil {
		os.Exit(1)
	}
}
