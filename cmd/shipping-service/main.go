// Command shipping-service запускает участника хореографии shipping.
package main

import (
	"github.com/vladislavdragonenkov/orderflow/internal/app"
	"github.com/vladislavdragonenkov/orderflow/internal/participant"
)

func main() {
	app.Main("shipping-service", app.ParticipantMain(participant.ShippingQueue))
}
