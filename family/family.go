// Package family defines the documents stored by the tutorial: a Family with
// its parents, children, pets and address.
//
// Field names double as document attribute names. The store encodes documents
// with the same json tags, so a Family reads the same in the console and in
// the table.
package family

import "encoding/json"

// PartitionKeyPath is the document path families are partitioned by.
const PartitionKeyPath = "/LastName"

// Family is a household record, partitioned by LastName.
type Family struct {
	ID           string   `json:"id"`
	LastName     string   `json:"LastName"`
	Parents      []Parent `json:"Parents"`
	Children     []Child  `json:"Children"`
	Address      Address  `json:"Address"`
	IsRegistered bool     `json:"IsRegistered"`
}

// Parent is a parent in a family.
type Parent struct {
	FamilyName string `json:"FamilyName,omitempty"`
	FirstName  string `json:"FirstName"`
}

// Child is a child in a family.
type Child struct {
	FamilyName string `json:"FamilyName,omitempty"`
	FirstName  string `json:"FirstName"`
	Gender     string `json:"Gender"`
	Grade      int    `json:"Grade"`
	Pets       []Pet  `json:"Pets,omitempty"`
}

// Pet is a child's pet.
type Pet struct {
	GivenName string `json:"GivenName"`
}

// Address is where a family lives.
type Address struct {
	State  string `json:"State"`
	County string `json:"County"`
	City   string `json:"City"`
}

// String renders the family as compact JSON.
func (f Family) String() string {
	b, err := json.Marshal(f)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Adamski returns the Adamski sample family.
func Adamski() Family {
	return Family{
		ID:       "Adamski.1",
		LastName: "Adamski",
		Parents: []Parent{
			{FirstName: "Victor"},
			{FirstName: "Cynthia"},
		},
		Children: []Child{
			{
				FirstName: "James Thomas",
				Gender:    "male",
				Grade:     5,
				Pets:      []Pet{{GivenName: "Snickers"}},
			},
		},
		Address:      Address{State: "IL", County: "Kane", City: "Carpentersville"},
		IsRegistered: false,
	}
}

// Orlando returns the Orlando sample family.
func Orlando() Family {
	return Family{
		ID:       "Orlando.1983",
		LastName: "Orlando",
		Parents: []Parent{
			{FamilyName: "Camel", FirstName: "Nancy"},
			{FamilyName: "Orlando", FirstName: "Mark"},
		},
		Children: []Child{
			{
				FamilyName: "Orlando",
				FirstName:  "Megan",
				Gender:     "female",
				Grade:      8,
				Pets:       []Pet{{GivenName: "Blue"}, {GivenName: "Max"}},
			},
			{
				FamilyName: "Orlando",
				FirstName:  "Nicholas",
				Gender:     "male",
				Grade:      1,
			},
		},
		Address:      Address{State: "IL", County: "DuPage", City: "Villa Park"},
		IsRegistered: true,
	}
}
