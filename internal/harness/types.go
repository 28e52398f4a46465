package harness

// Assertion types.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertTraceAbsent   = "trace_absent"
	AssertStored        = "stored"
)

// Assertion checks the trace, or the store once every step has run.
//
//	- type: trace_contains   # line appears (substring match)
//	  line: "open + [chores dishes]"
//	- type: trace_order      # lines appear in this order, gaps allowed
//	  lines: ["open + [chores dishes]", "open - [chores dishes]"]
//	- type: trace_count      # exactly count lines contain line
//	  line: "open +"
//	  count: 2
//	- type: trace_absent     # no line contains line
//	  line: "laundryDone"
//	- type: stored           # every listed fact is in the store
//	  facts: [alice, chores]
type Assertion struct {
	Type  string   `yaml:"type"`
	Line  string   `yaml:"line,omitempty"`
	Lines []string `yaml:"lines,omitempty"`
	Count int      `yaml:"count,omitempty"`
	Facts []string `yaml:"facts,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step behaved as declared and every
	// expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace is one line per observed event, in order.
	Trace []string `json:"trace"`

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []string{},
		Errors: []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends lines to the trace.
func (r *Result) AddTrace(lines ...string) {
	r.Trace = append(r.Trace, lines...)
}
