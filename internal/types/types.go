// README: Common identifier and coordinate value objects used across modules.
package types

type ID string

type Point struct {
	Lat float64
	Lng float64
}

type Gender string

const (
	GenderMale   Gender = "MALE"
	GenderFemale Gender = "FEMALE"
	GenderOther  Gender = "OTHER"
)
