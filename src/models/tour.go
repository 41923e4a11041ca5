package models

import "tourbook/src/types"

// Tour is the catalog's read model. Prices are minor units.
type Tour struct {
	ID            uint            `gorm:"primarykey" json:"id"`
	Name          string          `json:"name"`
	PricePerAdult int64           `json:"pricePerAdult"`
	PricePerChild int64           `json:"pricePerChild"`
	Currency      string          `gorm:"size:3" json:"currency"`
	MaxCapacity   int             `json:"maxCapacity"`
	StartTime     string          `gorm:"size:5;default:'09:00'" json:"startTime"`
	AddOns        types.AddOnList `json:"addOns"`
	Active        bool            `gorm:"default:true" json:"active"`

	types.Timestamps
}

func (t *Tour) AddOn(id string) (types.AddOn, bool) {
	for _, a := range t.AddOns {
		if a.ID == id {
			return a, true
		}
	}
	return types.AddOn{}, false
}
