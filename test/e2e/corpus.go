// Package e2e provides end-to-end tests with a generated grievance corpus and routing queries.
package e2e

import (
	"fmt"
	"strconv"
)

// Grievance is one dataset row of the generated corpus.
type Grievance struct {
	Text           string
	Department     string
	Solution       string
	Location       string
	ResolutionDays int
}

// QueryTestCase defines a citizen query and the department it must be routed to.
type QueryTestCase struct {
	Query              string
	ExpectedDepartment string
	Description        string
}

// Corpus holds grievances and query test cases for E2E tests.
type Corpus struct {
	Grievances   []Grievance
	TestCases    []QueryTestCase
	Departments  int
	TotalQueries int
}

type topic struct {
	department string
	phrase     string
	solution   string
	days       int
	query      string
}

var topics = []topic{
	{"Water Board", "no drinking water supply from municipal tap", "Contact BWSSB ward engineer and request a tanker", 3, "drinking water supply stopped from the municipal tap"},
	{"Solid Waste Management", "garbage pile not cleared by collection truck", "Register with the ward garbage contractor for daily pickup", 2, "garbage truck has not cleared the pile"},
	{"Electricity", "street light bulb fused near junction", "Raise a BESCOM streetlight ticket with the pole number", 4, "street light bulb fused at our junction"},
	{"Roads", "deep pothole damaging vehicles on carriageway", "Report to the ward road engineer for pothole filling", 7, "deep pothole on the carriageway damaging vehicles"},
	{"Stormwater Drains", "drain overflowing sewage onto footpath", "Request desilting of the stormwater drain from the division office", 5, "sewage drain overflowing onto the footpath"},
	{"Parks", "fallen tree branch blocking park walkway", "Ask the horticulture wing to clear the fallen branch", 3, "tree branch fell and blocks the park walkway"},
	{"Health", "mosquito breeding in stagnant puddles", "Request fogging from the ward health inspector", 4, "mosquito breeding in stagnant puddles nearby"},
	{"Animal Control", "stray dog pack chasing children", "Request sterilization drive from the animal husbandry unit", 6, "pack of stray dogs chasing children"},
}

var areas = []string{"Rajajinagar", "Jayanagar", "Indiranagar", "Malleshwaram", "Koramangala", "Yelahanka"}

// BuildCorpus returns perTopic grievances for each department, interleaved as a real export would be,
// and one routing query per department.
func BuildCorpus(perTopic int) *Corpus {
	var grievances []Grievance
	for i := 0; i < perTopic; i++ {
		for j, tp := range topics {
			area := areas[(i+j)%len(areas)]
			grievances = append(grievances, Grievance{
				Text:           fmt.Sprintf("%s in %s ward %d", tp.phrase, area, 100+i),
				Department:     tp.department,
				Solution:       tp.solution,
				Location:       area,
				ResolutionDays: tp.days,
			})
		}
	}
	cases := make([]QueryTestCase, 0, len(topics))
	for _, tp := range topics {
		cases = append(cases, QueryTestCase{
			Query:              tp.query,
			ExpectedDepartment: tp.department,
			Description:        "routes to " + tp.department,
		})
	}
	return &Corpus{
		Grievances:   grievances,
		TestCases:    cases,
		Departments:  len(topics),
		TotalQueries: len(cases),
	}
}

// Header is the dataset header row.
var Header = []string{"text", "department", "solution", "location", "resolution_days"}

// Rows returns the corpus as dataset rows without the header.
func (c *Corpus) Rows() [][]string {
	rows := make([][]string, 0, len(c.Grievances))
	for _, g := range c.Grievances {
		rows = append(rows, []string{g.Text, g.Department, g.Solution, g.Location, strconv.Itoa(g.ResolutionDays)})
	}
	return rows
}
