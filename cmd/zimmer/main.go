package main

import (
	"go.uber.org/fx"

	"github.com/zimmerhq/zimmer/internal/server"
)

func main() {
	fx.New(server.Module).Run()
}
