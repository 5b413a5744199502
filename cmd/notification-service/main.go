// Command notification-service запускает участника хореографии notification.
package main

import (
	"github.com/vladislavdragonenkov/orderflow/internal/app"
	"github.com/vladislavdragonenkov/orderflow/internal/participant"
)

func main() {
	app.Main("notification-service", app.ParticipantMain(participant.NotificationQueue))
}
