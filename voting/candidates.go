package voting

import (
	"regexp"
	"strings"
)

// CandidateHeader is the header row of the candidates export.
var CandidateHeader = []string{"Name", "Surname", "Gender", "Constituency", "Party", "Primaries"}

var (
	// options are written as "Party: Surname, Name"
	candidateOptionRe = regexp.MustCompile(`^(.+): (.+), (.+)$`)
	// votings are named after their constituency, e.g. "Votación Senado Sevilla"
	constituencyRe = regexp.MustCompile(`(?i)senado (.+)$`)
)

// Candidates returns one row per option of every voting that follows the
// candidate naming convention, preceded by CandidateHeader.
func (m *Manager) Candidates() ([][]string, error) {
	votings, err := m.Votings()
	if err != nil {
		return nil, err
	}
	rows := [][]string{CandidateHeader}
	for _, v := range votings {
		constituency := strings.TrimSpace(v.Name)
		if match := constituencyRe.FindStringSubmatch(v.Name); match != nil {
			constituency = strings.TrimSpace(match[1])
		}
		for _, o := range v.Question.Options {
			match := candidateOptionRe.FindStringSubmatch(o.Option)
			if match == nil {
				continue
			}
			rows = append(rows, []string{
				strings.TrimSpace(match[3]),
				strings.TrimSpace(match[2]),
				string(o.Gender),
				constituency,
				strings.TrimSpace(match[1]),
				"yes",
			})
		}
	}
	return rows, nil
}
