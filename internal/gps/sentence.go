package gps

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// sentence is one checksum-validated, comma-split NMEA line.
type sentence struct {
	typ    string
	fields []string
}

// parseSentence validates the leading '$' and trailing XOR checksum, then
// splits the payload on commas. typ is the sentence's last three letters
// (RMC, GGA, ...), normalized for any talker prefix (GN, GP, ...).
func parseSentence(line string) (sentence, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return sentence{}, fmt.Errorf("gps: sentence missing '$'")
	}
	star := strings.LastIndexByte(line, '*')
	if star == -1 {
		return sentence{}, fmt.Errorf("gps: sentence missing checksum")
	}
	payload := line[1:star]
	ckHex := strings.TrimSpace(line[star+1:])
	if len(ckHex) < 2 {
		return sentence{}, fmt.Errorf("gps: short checksum")
	}
	want, err := hex.DecodeString(ckHex[:2])
	if err != nil || len(want) != 1 {
		return sentence{}, fmt.Errorf("gps: malformed checksum")
	}
	var got byte
	for i := 0; i < len(payload); i++ {
		got ^= payload[i]
	}
	if got != want[0] {
		return sentence{}, fmt.Errorf("gps: checksum mismatch")
	}

	fields := strings.Split(payload, ",")
	if len(fields) == 0 || len(fields[0]) < 3 {
		return sentence{}, fmt.Errorf("gps: empty or short sentence type")
	}
	typ := fields[0]
	if len(typ) > 3 {
		typ = typ[len(typ)-3:]
	}
	return sentence{typ: strings.ToUpper(typ), fields: fields}, nil
}

func parseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// parseLatLon decodes an NMEA ddmm.mmmm (latitude) or dddmm.mmmm
// (longitude) coordinate plus its hemisphere letter into signed degrees.
func parseLatLon(v, hemi string) (float64, bool) {
	v = strings.TrimSpace(v)
	hemi = strings.ToUpper(strings.TrimSpace(hemi))
	if v == "" || (hemi != "N" && hemi != "S" && hemi != "E" && hemi != "W") {
		return 0, false
	}

	intPart := v
	if dot := strings.IndexByte(v, '.'); dot != -1 {
		intPart = v[:dot]
	}
	if len(intPart) < 3 {
		return 0, false
	}

	degStr := intPart[:len(intPart)-2]
	minStr := v[len(intPart)-2:]

	deg, err := strconv.Atoi(degStr)
	if err != nil {
		return 0, false
	}
	mins, err := strconv.ParseFloat(minStr, 64)
	if err != nil {
		return 0, false
	}

	dec := float64(deg) + mins/60.0
	if hemi == "S" || hemi == "W" {
		dec = -dec
	}
	return dec, true
}
