// Command ordering-service запускает HTTP API заказов и реакции на исходы участников.
package main

import "github.com/vladislavdragonenkov/orderflow/internal/app"

func main() {
	app.Main("ordering-service", app.RunOrdering)
}
