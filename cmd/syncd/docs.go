package main

//go:generate swag init -g cmd/syncd/main.go -o docs

// @title           CRM Sync API
// @version         0.1.0
// @description     Bidirectional CRM sync runs, sync errors and webhook ingestion.
// @host            localhost:8080
// @BasePath        /
// @schemes         http
