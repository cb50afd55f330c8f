package grid

// Operator is the comparison a Filter applies to a column's field
type Operator string

const (
	OperatorEQ        Operator = "eq"
	OperatorGTE       Operator = "gte"
	OperatorLTE       Operator = "lte"
	OperatorSubstring Operator = "like"
	OperatorRegexp    Operator = "regexp"
)

// Connection tells how the filters of one column combine
type Connection int

const (
	Conjunction Connection = iota
	Disjunction
)

func (c Connection) String() string {
	if c == Disjunction {
		return "OR"
	}
	return "AND"
}

// Filter is one predicate against one column. It is immutable.
type Filter struct {
	operator Operator
	value    string
}

func NewFilter(operator Operator, value string) Filter {
	return Filter{operator: operator, value: value}
}

func (f Filter) Operator() Operator { return f.operator }

func (f Filter) Value() string { return f.value }
