// Package vcard builds the contact exchange document for a completed cohort.
// Build is a pure function: the same cards in the same order always produce
// byte-identical output, which keeps artifact generation idempotent.
package vcard

import (
	"fmt"
	"regexp"
	"strings"
)

// FallbackTag is appended to the formatted name when a member does not expose
// a profession.
const FallbackTag = "(Member)"

// Card is one member's slice of profile data rendered into the document.
type Card struct {
	Nickname          string
	Profession        string
	DisplayProfession bool
	Phone             string
}

// Build renders one VCARD 3.0 block per card, concatenated in input order
// with trailing whitespace trimmed.
func Build(cards []Card) string {
	var b strings.Builder
	for _, c := range cards {
		name := FormattedName(c)
		b.WriteString("BEGIN:VCARD\n")
		b.WriteString("VERSION:3.0\n")
		fmt.Fprintf(&b, "FN:%s\n", name)
		fmt.Fprintf(&b, "N:%s;;;;\n", name)
		if showProfession(c) {
			fmt.Fprintf(&b, "ORG:%s\n", strings.TrimSpace(c.Profession))
		}
		if phone := strings.TrimSpace(c.Phone); phone != "" {
			fmt.Fprintf(&b, "TEL;TYPE=CELL:%s\n", phone)
		}
		b.WriteString("END:VCARD\n")
	}
	return strings.TrimRight(b.String(), " \t\n")
}

// FormattedName renders "{nickname} ({profession})" for members exposing a
// non-empty profession and "{nickname} (Member)" otherwise.
func FormattedName(c Card) string {
	nick := strings.TrimSpace(c.Nickname)
	if showProfession(c) {
		return fmt.Sprintf("%s (%s)", nick, strings.TrimSpace(c.Profession))
	}
	return fmt.Sprintf("%s %s", nick, FallbackTag)
}

func showProfession(c Card) bool {
	return c.DisplayProfession && strings.TrimSpace(c.Profession) != ""
}

// FileName produces the persisted artifact name for a cluster. The short id
// makes retried generations distinguishable in storage.
func FileName(clusterID, shortID string) string {
	return fmt.Sprintf("Cluster_Contacts_C_%s_%s.vcf", clusterID, shortID)
}

var fileNamePattern = regexp.MustCompile(`^Cluster_Contacts_C_([^_]+)_([0-9a-fA-F]+)\.vcf$`)

// ParseFileName extracts the cluster id from an artifact file name.
func ParseFileName(name string) (clusterID string, ok bool) {
	m := fileNamePattern.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}
	return m[1], true
}
