package domain

import "time"

// Parcel status values. Transitions are monotone: PENDING may become
// RECEIVED or be deleted outright; PENDING or RECEIVED may become
// PICKED_UP; PICKED_UP is terminal.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusReceived Status = "RECEIVED"
	StatusPickedUp Status = "PICKED_UP"
)

// Represents a single parcel held in the queue area.
// TrackingNumber is the globally unique natural key; QueueNumber is the
// formatted ticket assigned at check-in, unique among live parcels.
type Parcel struct {
	ID             int64
	TrackingNumber string
	Carrier        string
	QueueNumber    string
	Status         Status
	RecipientName  string
	RecipientPhone string
	CreatedAt      time.Time
}

// Only provisional parcels may be deleted one at a time; deleting a
// PENDING parcel returns its ticket to the recycle pool.
func (p *Parcel) Deletable() bool {
	return p.Status == StatusPending
}
