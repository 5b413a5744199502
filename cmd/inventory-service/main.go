// Command inventory-service запускает участника хореографии inventory.
package main

import (
	"github.com/vladislavdragonenkov/orderflow/internal/app"
	"github.com/vladislavdragonenkov/orderflow/internal/participant"
)

func main() {
	app.Main("inventory-service", app.ParticipantMain(participant.InventoryQueue))
}
