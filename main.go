package main

import "github.com/felo/mailstore/internal/app"

func main() {
	app.Execute()
}
