package model

import "time"

// City is the authoritative snapshot owned by the city service.
type City struct {
	ID        int64     `db:"id"         json:"id"`
	Name      string    `db:"name"       json:"name"`
	Code      string    `db:"code"       json:"code"`
	Country   string    `db:"country"    json:"country"`
	Timezone  string    `db:"timezone"   json:"timezone"`
	Latitude  float64   `db:"latitude"   json:"latitude"`
	Longitude float64   `db:"longitude"  json:"longitude"`
	IsActive  bool      `db:"is_active"  json:"isActive"`
	Version   int64     `db:"version"    json:"version"`
	Sequence  int64     `db:"sequence"   json:"sequence"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

type CityKey struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Code     string `json:"code"`
	IsActive bool   `json:"isActive"`
}

func (c City) Key() CityKey {
	return CityKey{ID: c.ID, Name: c.Name, Code: c.Code, IsActive: c.IsActive}
}

// Diff lists the business fields that differ between before and c.
func (c City) Diff(before City) []FieldChange {
	var out []FieldChange
	add := func(field string, oldV, newV any) {
		if oldV != newV {
			out = append(out, FieldChange{Field: field, OldValue: oldV, NewValue: newV})
		}
	}
	add("name", before.Name, c.Name)
	add("code", before.Code, c.Code)
	add("country", before.Country, c.Country)
	add("timezone", before.Timezone, c.Timezone)
	add("latitude", before.Latitude, c.Latitude)
	add("longitude", before.Longitude, c.Longitude)
	add("isActive", before.IsActive, c.IsActive)
	return out
}
