// Command payment-service запускает участника хореографии payment.
package main

import (
	"github.com/vladislavdragonenkov/orderflow/internal/app"
	"github.com/vladislavdragonenkov/orderflow/internal/participant"
)

func main() {
	app.Main("payment-service", app.ParticipantMain(participant.PaymentQueue))
}
