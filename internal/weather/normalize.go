package weather

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/i474232898/weather-quilt/internal/common"
)

// Outcome classifies a normalized upstream day.
type Outcome int

const (
	// OutcomeValid carries an Observation ready for reconciliation.
	OutcomeValid Outcome = iota
	// OutcomeSkip drops the day by policy (missing temperature, unparseable field).
	OutcomeSkip
	// OutcomeFatal drops the day because its date cannot be read.
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeValid:
		return "valid"
	case OutcomeSkip:
		return "skip"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Sentinel markers used by the upstream API in place of numbers.
const (
	SentinelMissing = "M"
	SentinelTrace   = "T"
)

// Record positions consumed from a RawDayRecord.
const (
	posDate    = 0
	posMaxTemp = 1
	posMinTemp = 2
	posPrecip  = 7
)

var tracePrecipitation = decimal.New(1, -2)

// Normalized is the result of normalizing one RawDayRecord.
// Observation is only meaningful when Outcome is OutcomeValid; it has no City or StationID.
type Normalized struct {
	Outcome     Outcome
	Day         string // raw date label, for logging
	Observation Observation
	Reason      string
	Err         error
}

// NormalizeDay converts one upstream day into an Observation or a skip/fatal decision.
// It never panics on malformed input.
func NormalizeDay(rec RawDayRecord) Normalized {
	if len(rec) == 0 {
		return Normalized{Outcome: OutcomeFatal, Reason: "empty record", Err: errors.New("empty record")}
	}

	var label string
	if err := json.Unmarshal(rec[posDate], &label); err != nil {
		return Normalized{Outcome: OutcomeFatal, Day: string(rec[posDate]), Reason: "unreadable date", Err: err}
	}
	day, err := common.ParseDay(label)
	if err != nil {
		return Normalized{Outcome: OutcomeFatal, Day: label, Reason: "malformed date", Err: err}
	}

	skip := func(reason string, err error) Normalized {
		return Normalized{Outcome: OutcomeSkip, Day: label, Reason: reason, Err: err}
	}

	if len(rec) <= posPrecip {
		return skip("short record", fmt.Errorf("record has %d fields, want at least %d", len(rec), posPrecip+1))
	}

	maxRaw, err := firstValue(rec[posMaxTemp])
	if err != nil {
		return skip("unreadable max temperature", err)
	}
	minRaw, err := firstValue(rec[posMinTemp])
	if err != nil {
		return skip("unreadable min temperature", err)
	}
	if maxRaw == SentinelMissing || minRaw == SentinelMissing {
		return skip("missing temperature data", nil)
	}

	maxTemp, err := strconv.Atoi(maxRaw)
	if err != nil {
		return skip("invalid max temperature", err)
	}
	minTemp, err := strconv.Atoi(minRaw)
	if err != nil {
		return skip("invalid min temperature", err)
	}

	precipRaw, err := firstValue(rec[posPrecip])
	if err != nil {
		return skip("unreadable precipitation", err)
	}
	precip, err := parsePrecipitation(precipRaw)
	if err != nil {
		return skip("invalid precipitation", err)
	}

	return Normalized{
		Outcome: OutcomeValid,
		Day:     label,
		Observation: Observation{
			Date:          day,
			MinTemp:       minTemp,
			MaxTemp:       maxTemp,
			Precipitation: precip,
		},
	}
}

// parsePrecipitation maps trace to 0.01, missing to 0.00, and rounds anything else to hundredths.
func parsePrecipitation(s string) (decimal.Decimal, error) {
	switch s {
	case SentinelTrace:
		return tracePrecipitation, nil
	case SentinelMissing:
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	return d.Round(2), nil
}

// firstValue returns the first element of an upstream element array ([value, flags...]),
// or the scalar itself when the element was requested without additional fields.
func firstValue(raw json.RawMessage) (string, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err == nil {
		if len(arr) == 0 {
			return "", errors.New("empty element")
		}
		raw = arr[0]
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("unexpected element value %s", raw)
}
