package council

import (
	"sort"
	"strings"
)

// Advisor is one council participant.
type Advisor struct {
	ID         string   `yaml:"id" json:"id"`
	Name       string   `yaml:"name" json:"name"`
	Title      string   `yaml:"title" json:"title"`
	Persona    string   `yaml:"persona" json:"persona"`
	Keywords   []string `yaml:"keywords" json:"keywords"`
	Generalist bool     `yaml:"generalist" json:"generalist"`
}

// SuggestTeam picks the default participants for topic.
//
// Expectations:
//   - Generalists are always included
//   - Specialists are ranked by how many of their keywords occur in the topic (case-insensitive)
//   - Ties keep roster order
//   - Unmatched specialists pad the team (roster order) up to size
//   - Never returns more than max advisors (max <= 0 means no cap)
func SuggestTeam(topic string, roster []Advisor, size, max int) []string {
	t := strings.ToLower(topic)
	type scored struct {
		idx   int
		score int
	}
	var generalists []string
	var specialists []scored
	for i, a := range roster {
		if a.Generalist {
			generalists = append(generalists, a.ID)
			continue
		}
		s := 0
		for _, kw := range a.Keywords {
			if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" && strings.Contains(t, kw) {
				s++
			}
		}
		specialists = append(specialists, scored{idx: i, score: s})
	}
	sort.SliceStable(specialists, func(i, j int) bool { return specialists[i].score > specialists[j].score })

	team := append([]string(nil), generalists...)
	for _, s := range specialists {
		if len(team) >= size && s.score == 0 {
			break
		}
		team = append(team, roster[s.idx].ID)
	}
	if max > 0 && len(team) > max {
		team = team[:max]
	}
	return team
}
