package main

import (
	_ "github.com/otic-labs/vision-backend/docs"
	"github.com/otic-labs/vision-backend/internal/bootstrap"
)

// @title Vision Backend API
// @version 1.0.0
// @description Visual product recognition for multi-tenant point-of-sale deployments

// @host api.vision.example.com
// @BasePath /v1

func main() {
	bootstrap.Run()
}
