package main

import (
	"context"

	"github.com/kvnovik/relcore/cmd/relcore/app"
)

func main() {
	app.MustExecute(context.Background())
}
