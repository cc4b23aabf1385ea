package models

// All lists every persisted model, in dependency order, for AutoMigrate and schema loading.
func All() []any {
	return []any{
		&Person{},
		&Partner{},
		&Event{},
		&TicketType{},
		&EventPromo{},
		&TicketTypePromo{},
		&Payment{},
		&PaymentLine{},
		&Reservation{},
		&PromoRedemption{},
		&PaymentIntent{},
		&PaymentIntentLine{},
		&Ticket{},
		&TicketScan{},
		&JobTask{},
		&Notification{},
		&PaymentTransactionLog{},
		&OptIn{},
		&EventReminder{},
		&PartnerPromotion{},
	}
}
