package weather

import (
	"encoding/json"
	"fmt"
	"testing"
)

// rawDay builds an upstream day record in the shape returned by StnData with "add":"t".
func rawDay(t *testing.T, date, maxT, minT, precip string) RawDayRecord {
	t.Helper()
	body := fmt.Sprintf(`[%q,[%q,"0"],[%q,"0"],["21","0"],["-1.5","0"],["44","0"],["0","0"],[%q,"0"],["0.0","0"],["5","0"]]`,
		date, maxT, minT, precip)
	var rec RawDayRecord
	if err := json.Unmarshal([]byte(body), &rec); err != nil {
		t.Fatalf("build raw day: %v", err)
	}
	return rec
}

func rawJSON(t *testing.T, body string) RawDayRecord {
	t.Helper()
	var rec RawDayRecord
	if err := json.Unmarshal([]byte(body), &rec); err != nil {
		t.Fatalf("build raw day: %v", err)
	}
	return rec
}
