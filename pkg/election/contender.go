package election

// Contender is one entry in the live election roster.
type Contender struct {
	// ID is the contender's registered identity.
	ID string `json:"id"`
	// Leader is true when this contender currently holds the campaign slot.
	Leader bool `json:"leader"`
}
