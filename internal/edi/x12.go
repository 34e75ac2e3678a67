package edi

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	elementSeparator    = "*"
	segmentTerminator   = "~"
	componentSeparator  = ":"
	repetitionSeparator = "^"

	implementationRef = "005010X222A1"
)

var sanitizer = strings.NewReplacer(
	elementSeparator, " ",
	segmentTerminator, " ",
	componentSeparator, " ",
	repetitionSeparator, " ",
	"\n", " ",
	"\r", " ",
)

// Envelope carries the identifiers written into the ISA, GS and submitter
// loops.
type Envelope struct {
	SenderID         string
	ReceiverID       string
	OrganizationName string
	NPI              string
	TaxID            string
	UsageIndicator   string
	ControlNumber    int64
	Reference        string
	CreatedAt        time.Time
}

// ServiceLine is one SV1 line of a claim.
type ServiceLine struct {
	ProcedureCode string
	ChargeCents   int64
	Units         float64
	ServiceDate   time.Time
}

// ClaimRecord is one CLM loop.
type ClaimRecord struct {
	ClaimNumber      string
	PatientName      string
	PatientBillingID string
	TotalCents       int64
	Lines            []ServiceLine
}

// segmentWriter accumulates X12 segments and counts those inside the
// current transaction set.
type segmentWriter struct {
	b     strings.Builder
	inSet int
}

func (w *segmentWriter) segment(id string, elements ...string) {
	w.b.WriteString(id)
	for _, e := range elements {
		w.b.WriteString(elementSeparator)
		w.b.WriteString(e)
	}
	w.b.WriteString(segmentTerminator)
	w.b.WriteString("\n")
	w.inSet++
}

// Build renders an 837P style interchange with one CLM loop per claim.
func Build(env Envelope, claims []ClaimRecord) string {
	w := &segmentWriter{}
	at := env.CreatedAt.UTC()
	control := fmt.Sprintf("%09d", env.ControlNumber)
	group := strconv.FormatInt(env.ControlNumber, 10)
	usage := env.UsageIndicator
	if usage == "" {
		usage = "T"
	}

	w.segment("ISA",
		"00", pad("", 10),
		"00", pad("", 10),
		"ZZ", pad(clean(env.SenderID), 15),
		"ZZ", pad(clean(env.ReceiverID), 15),
		at.Format("060102"), at.Format("1504"),
		repetitionSeparator, "00501", control, "0", usage, componentSeparator,
	)
	w.segment("GS", "HC", clean(env.SenderID), clean(env.ReceiverID), at.Format("20060102"), at.Format("1504"), group, "X", implementationRef)

	w.inSet = 0
	w.segment("ST", "837", "0001", implementationRef)
	w.segment("BHT", "0019", "00", clean(env.Reference), at.Format("20060102"), at.Format("1504"), "CH")
	w.segment("NM1", "41", "2", clean(env.OrganizationName), "", "", "", "", "46", clean(env.SenderID))
	w.segment("NM1", "40", "2", clean(env.ReceiverID), "", "", "", "", "46", clean(env.ReceiverID))
	w.segment("HL", "1", "", "20", "1")
	w.segment("NM1", "85", "2", clean(env.OrganizationName), "", "", "", "", "XX", clean(env.NPI))
	w.segment("REF", "EI", clean(env.TaxID))

	hl := 1
	for _, c := range claims {
		hl++
		last, first := splitName(c.PatientName)
		w.segment("HL", strconv.Itoa(hl), "1", "22", "0")
		w.segment("SBR", "P", "18", "", "", "", "", "", "", "MC")
		w.segment("NM1", "IL", "1", last, first, "", "", "", "MI", clean(c.PatientBillingID))
		w.segment("CLM", clean(c.ClaimNumber), money(c.TotalCents), "", "", "12"+componentSeparator+"B"+componentSeparator+"1", "Y", "A", "Y", "Y")
		for i, line := range c.Lines {
			w.segment("LX", strconv.Itoa(i+1))
			w.segment("SV1",
				"HC"+componentSeparator+clean(line.ProcedureCode),
				money(line.ChargeCents), "UN", units(line.Units), "", "", "1")
			w.segment("DTP", "472", "D8", line.ServiceDate.UTC().Format("20060102"))
		}
	}

	w.segment("SE", strconv.Itoa(w.inSet+1), "0001")
	w.segment("GE", "1", group)
	w.segment("IEA", "1", control)
	return w.b.String()
}

// FileName is the download name of a batch file.
func FileName(reference string) string {
	return "837P_" + reference + ".x12"
}

func clean(s string) string {
	return strings.TrimSpace(sanitizer.Replace(s))
}

func pad(s string, n int) string {
	if len(s) >= n {
		return s[:n]
	}
	return s + strings.Repeat(" ", n-len(s))
}

func money(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

func units(u float64) string {
	return strconv.FormatFloat(u, 'f', -1, 64)
}

func splitName(name string) (last, first string) {
	parts := strings.Fields(clean(name))
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	}
	return parts[len(parts)-1], strings.Join(parts[:len(parts)-1], " ")
}
