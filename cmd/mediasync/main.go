package main

import "github.com/hitoshi/mediasync/internal/app"

func main() {
	app.Execute()
}
