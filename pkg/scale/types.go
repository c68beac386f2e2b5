package scale

import (
	"errors"
	"time"
)

// ErrNotConnected is returned by driver operations that require a live connection
var ErrNotConnected = errors.New("scale not connected")

// Unit denotes the unit of the weight measurement
type Unit string

const (

	// UnitUnknown denotes an unknown / invalid unit
	UnitUnknown Unit = "--"

	// UnitGrams denotes metric units
	UnitGrams Unit = "g"

	// UnitOz denotes imperial units
	UnitOz Unit = "oz"
)

// DataPoint denotes a weight measurement at a certain point in time
type DataPoint struct {
	TimeStamp time.Time `json:"timestamp"`
	Unit      Unit      `json:"unit"`
	Weight    float64   `json:"weight"`
}
