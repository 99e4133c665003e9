package main

import "embed"

//go:embed config/migrations
var embedMigrations embed.FS
