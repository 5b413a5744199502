package domain

import "time"

// TimelineEvent: запись истории заказа, одна на опубликованное событие.
// EventID совпадает с идентификатором доменного события и делает запись
// повторяемой: второй Append того же события ничего не меняет.
type TimelineEvent struct {
	EventID  string
	OrderID  string
	Type     string
	Reason   string
	Occurred time.Time
}

// TimelineEventFrom строит запись истории из доменного события.
func TimelineEventFrom(event DomainEvent) TimelineEvent {
	entry := TimelineEvent{
		EventID:  event.EventID(),
		OrderID:  event.AggregateID(),
		Type:     string(event.Type()),
		Occurred: event.OccurredOn(),
	}
	if cancelled, ok := event.(*OrderCancelled); ok {
		entry.Reason = cancelled.Reason
	}
	return entry
}
