package domain

import "time"

// Requester is a party registered on first interaction with the bot.
type Requester struct {
	ID           PartyID
	Name         string
	Username     string
	RegisteredAt time.Time
}
