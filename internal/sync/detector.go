package sync

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/lawble/courtsync/internal/portal"
)

// Snapshot is the canonical normalized form of a case's remote data.
// Field order is fixed by the struct and map keys are sorted by
// encoding/json, so marshaling the same content always yields the same
// bytes and therefore the same hash.
type Snapshot struct {
	CaseID          string            `json:"case_id"`
	Basic           map[string]string `json:"basic"`
	Hearings        []Hearing         `json:"hearings"`
	Progress        []ProgressEntry   `json:"progress"`
	Documents       []Document        `json:"documents"`
	Parties         []Party           `json:"parties"`
	Representatives []Party           `json:"representatives"`
}

type Hearing struct {
	Date     string `json:"date"`
	Time     string `json:"time"`
	Type     string `json:"type"`
	Location string `json:"location"`
	Result   string `json:"result"`
}

type ProgressEntry struct {
	Date    string `json:"date"`
	Content string `json:"content"`
	Result  string `json:"result"`
}

type Document struct {
	Date  string `json:"date"`
	Title string `json:"title"`
	Party string `json:"party"`
}

type Party struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

var (
	dateDigits = regexp.MustCompile(`^\d{8}$`)
	dateSep    = regexp.MustCompile(`^(\d{4})[.\-/]\s?(\d{1,2})[.\-/]\s?(\d{1,2})\.?$`)
	timeDigits = regexp.MustCompile(`^(\d{2})(\d{2})(\d{2})?$`)
	timeColon  = regexp.MustCompile(`^(\d{1,2}):(\d{2})(?::\d{2})?$`)
)

// Normalize converts a raw portal payload into the canonical snapshot.
// Absent lists become empty slices and absent maps become empty maps so
// "field present but empty" and "field absent" hash identically.
func Normalize(caseID string, raw *portal.RawCasePayload) Snapshot {
	snap := Snapshot{
		CaseID:          caseID,
		Basic:           map[string]string{},
		Hearings:        []Hearing{},
		Progress:        []ProgressEntry{},
		Documents:       []Document{},
		Parties:         []Party{},
		Representatives: []Party{},
	}
	if raw == nil {
		return snap
	}

	for k, v := range raw.Basic {
		snap.Basic[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}

	for _, h := range raw.Hearings {
		snap.Hearings = append(snap.Hearings, Hearing{
			Date:     NormalizeDate(h.Date),
			Time:     NormalizeTime(h.Time),
			Type:     strings.TrimSpace(h.Type),
			Location: strings.TrimSpace(h.Location),
			Result:   strings.TrimSpace(h.Result),
		})
	}
	sort.Slice(snap.Hearings, func(i, j int) bool {
		a, b := snap.Hearings[i], snap.Hearings[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.Time != b.Time {
			return a.Time < b.Time
		}
		return a.Type < b.Type
	})

	for _, p := range raw.Progress {
		snap.Progress = append(snap.Progress, ProgressEntry{
			Date:    NormalizeDate(p.Date),
			Content: strings.TrimSpace(p.Content),
			Result:  strings.TrimSpace(p.Result),
		})
	}
	sort.Slice(snap.Progress, func(i, j int) bool {
		a, b := snap.Progress[i], snap.Progress[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		return a.Content < b.Content
	})

	for _, d := range raw.Documents {
		snap.Documents = append(snap.Documents, Document{
			Date:  NormalizeDate(d.Date),
			Title: strings.TrimSpace(d.Title),
			Party: strings.TrimSpace(d.Party),
		})
	}
	sort.Slice(snap.Documents, func(i, j int) bool {
		a, b := snap.Documents[i], snap.Documents[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		return a.Title < b.Title
	})

	snap.Parties = normalizeParties(raw.Parties)
	snap.Representatives = normalizeParties(raw.Representatives)

	return snap
}

func normalizeParties(raw []portal.RawParty) []Party {
	parties := []Party{}
	for _, p := range raw {
		parties = append(parties, Party{
			Name: strings.TrimSpace(p.Name),
			Role: strings.TrimSpace(p.Role),
		})
	}
	sort.Slice(parties, func(i, j int) bool {
		a, b := parties[i], parties[j]
		if a.Role != b.Role {
			return a.Role < b.Role
		}
		return a.Name < b.Name
	})
	return parties
}

// NormalizeDate canonicalizes portal date strings to YYYY.MM.DD.
// Unrecognized values pass through trimmed so they at least hash
// stably.
func NormalizeDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	compact := strings.ReplaceAll(s, " ", "")
	if dateDigits.MatchString(compact) {
		return fmt.Sprintf("%s.%s.%s", compact[0:4], compact[4:6], compact[6:8])
	}

	if m := dateSep.FindStringSubmatch(compact); m != nil {
		return fmt.Sprintf("%s.%s.%s", m[1], pad2(m[2]), pad2(m[3]))
	}

	return s
}

// NormalizeTime canonicalizes portal time strings to HH:MM.
func NormalizeTime(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	compact := strings.ReplaceAll(s, " ", "")
	if m := timeDigits.FindStringSubmatch(compact); m != nil {
		return fmt.Sprintf("%s:%s", m[1], m[2])
	}

	if m := timeColon.FindStringSubmatch(compact); m != nil {
		return fmt.Sprintf("%s:%s", pad2(m[1]), m[2])
	}

	return s
}

func pad2(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}

// Hash computes the deterministic content hash of a snapshot.
func Hash(snap Snapshot) string {
	data, err := json.Marshal(snap)
	if err != nil {
		// A snapshot of plain strings cannot fail to marshal.
		panic(fmt.Sprintf("snapshot marshal: %v", err))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HasChanged reports whether the new snapshot differs from the stored
// hash. An absent old hash always counts as changed.
func HasChanged(oldHash string, snap Snapshot) bool {
	if oldHash == "" {
		return true
	}
	return Hash(snap) != oldHash
}
