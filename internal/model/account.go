package model

// Account ties a login email to the set of owned plant ids. The core only
// ever adds or removes an id as a side effect of plant add/delete.
type Account struct {
	Email       string   `json:"email"`
	OwnedPlants []string `json:"ownedPlants"`
}
