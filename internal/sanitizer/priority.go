package sanitizer

// DefaultPriority is the priority of any classification missing from the
// table. It ranks below every built-in label.
const DefaultPriority = 99

var defaultPriorities = map[string]int{
	"aadhar_num":      1,
	"email":           2,
	"full_name":       3,
	"phone_number":    4,
	"credit_debit_no": 5,
	"cvv_no":          6,
	"expiry_no":       7,
	"dob":             8,
}

// PriorityTable maps a classification to its rank in overlap tie-breaks;
// lower wins. A table is never modified after construction.
type PriorityTable struct {
	byLabel map[string]int
}

func DefaultPriorities() PriorityTable {
	return NewPriorityTable(nil)
}

// NewPriorityTable layers overrides on top of the built-in ranks.
func NewPriorityTable(overrides map[string]int) PriorityTable {
	byLabel := make(map[string]int, len(defaultPriorities)+len(overrides))
	for k, v := range defaultPriorities {
		byLabel[k] = v
	}
	for k, v := range overrides {
		byLabel[k] = v
	}
	return PriorityTable{byLabel: byLabel}
}

func (p PriorityTable) Priority(classification string) int {
	if v, ok := p.byLabel[classification]; ok {
		return v
	}
	return DefaultPriority
}

// Snapshot returns a copy of the table.
func (p PriorityTable) Snapshot() map[string]int {
	out := make(map[string]int, len(p.byLabel))
	for k, v := range p.byLabel {
		out[k] = v
	}
	return out
}
