package main

import (
	"log"

	"github.com/akinsuyitaiwo/financial-management-system/cmd/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
