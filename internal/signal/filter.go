package signal

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nmxmxh/coreruntime/internal/coreerr"
)

// CompareOp is one of the numeric/string comparison operators a
// Condition may use.
type CompareOp int

const (
	OpEq CompareOp = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpIn
	OpNin
)

// ConditionKind selects which Condition shape a ConditionSpec encodes.
type ConditionKind int

const (
	CondEventType ConditionKind = iota
	CondNumericU8
	CondNumericI16
	CondNumericF32
	CondContains
	CondRegex
)

// ConditionSpec is the structured, uncompiled description of one leaf
// condition in a SubscriptionFilter.
type ConditionSpec struct {
	Kind    ConditionKind
	Field   string // dot-path, e.g. "energy.urgency"; unused for CondEventType
	Op      CompareOp
	Value   float64   // for numeric ops
	Set     []float64 // for OpIn/OpNin
	Token   string    // for CondContains
	Pattern string    // wildcard (CondEventType) or regex source (CondRegex)
}

// LogicOp composes FilterSpec nodes.
type LogicOp int

const (
	LogicAnd LogicOp = iota
	LogicOr
	LogicNot
)

// FilterSpec is the structured, uncompiled description of a
// SubscriptionFilter: either a logic node over children, or a leaf
// Condition.
type FilterSpec struct {
	Logic     *LogicOp
	Children  []FilterSpec
	Condition *ConditionSpec
}

// matchFunc is a precompiled, allocation-free matcher.
type matchFunc func(*SignalEvent) bool

// CompiledFilter is a compiled SubscriptionFilter: matching has no
// per-call allocation and costs O(conditions).
type CompiledFilter struct {
	match matchFunc
}

// Matches reports whether event satisfies the compiled filter.
func (f *CompiledFilter) Matches(event *SignalEvent) bool {
	return f.match(event)
}

// numericAccessor resolves a dot-path field to a float64 view of a
// SignalEvent for numeric comparison.
type numericAccessor func(*SignalEvent) (float64, bool)

// stringAccessor resolves a dot-path field to a string/[]string view.
type stringAccessor func(*SignalEvent) (string, bool)
type stringListAccessor func(*SignalEvent) []string

var numericFields = map[string]numericAccessor{
	"priority":          func(e *SignalEvent) (float64, bool) { return float64(e.Priority), true },
	"routing.priority":   func(e *SignalEvent) (float64, bool) { return float64(e.Priority), true },
	"energy.confidence":  func(e *SignalEvent) (float64, bool) { return float64(e.Energy.Confidence), true },
	"energy.urgency":     func(e *SignalEvent) (float64, bool) { return float64(e.Energy.Urgency), true },
	"energy.magnitude":   func(e *SignalEvent) (float64, bool) { return float64(e.Energy.Magnitude), true },
	"energy.valence":     func(e *SignalEvent) (float64, bool) { return float64(e.Energy.Valence), true },
	"energy.arousal":     func(e *SignalEvent) (float64, bool) { return float64(e.Energy.Arousal), true },
	"temporal.neuro_tick": func(e *SignalEvent) (float64, bool) { return float64(e.Temporal.NeuroTick), true },
	"routing.ttl_ms": func(e *SignalEvent) (float64, bool) { return float64(e.Routing.TTL.Milliseconds()), true },
	"layer.physical":  layerField(0),
	"layer.l2":        layerField(1),
	"layer.l3":        layerField(2),
	"layer.emotional": layerField(3),
	"layer.l5":        layerField(4),
	"layer.l6":        layerField(5),
	"layer.l7":        layerField(6),
	"layer.abstract":  layerField(7),
}

func layerField(idx int) numericAccessor {
	return func(e *SignalEvent) (float64, bool) {
		if e.LayerAffinities == nil {
			return 0, false
		}
		return float64(e.LayerAffinities[idx]), true
	}
}

var stringFields = map[string]stringAccessor{
	"routing.correlation_id": func(e *SignalEvent) (string, bool) { return e.Routing.CorrelationID, true },
}

var stringListFields = map[string]stringListAccessor{
	"routing.tags": func(e *SignalEvent) []string { return e.Routing.Tags },
}

// Compile validates spec against the known field registry and
// produces an allocation-free CompiledFilter. Unknown fields are a
// compile-time error.
func Compile(spec FilterSpec) (*CompiledFilter, error) {
	m, err := compileNode(spec)
	if err != nil {
		return nil, err
	}
	return &CompiledFilter{match: m}, nil
}

func compileNode(spec FilterSpec) (matchFunc, error) {
	if spec.Logic != nil {
		children := make([]matchFunc, 0, len(spec.Children))
		for _, c := range spec.Children {
			cm, err := compileNode(c)
			if err != nil {
				return nil, err
			}
			children = append(children, cm)
		}
		switch *spec.Logic {
		case LogicAnd:
			return func(e *SignalEvent) bool {
				for _, c := range children {
					if !c(e) {
						return false
					}
				}
				return true
			}, nil
		case LogicOr:
			return func(e *SignalEvent) bool {
				for _, c := range children {
					if c(e) {
						return true
					}
				}
				return false
			}, nil
		case LogicNot:
			if len(children) != 1 {
				return nil, coreerr.New(coreerr.Validation, "signal.compile.not_arity")
			}
			child := children[0]
			return func(e *SignalEvent) bool { return !child(e) }, nil
		default:
			return nil, coreerr.New(coreerr.Validation, "signal.compile.unknown_logic")
		}
	}
	if spec.Condition == nil {
		return nil, coreerr.New(coreerr.Validation, "signal.compile.empty_node")
	}
	return compileCondition(*spec.Condition)
}

func compileCondition(c ConditionSpec) (matchFunc, error) {
	switch c.Kind {
	case CondEventType:
		if strings.Contains(c.Pattern, "*") {
			re, err := globToRegexp(c.Pattern)
			if err != nil {
				return nil, coreerr.Wrap(coreerr.Validation, "signal.compile.event_type_wildcard", err)
			}
			return func(e *SignalEvent) bool { return re.MatchString(e.EventType) }, nil
		}
		want := c.Pattern
		return func(e *SignalEvent) bool { return e.EventType == want }, nil

	case CondNumericU8, CondNumericI16, CondNumericF32:
		accessor, ok := numericFields[c.Field]
		if !ok {
			return nil, coreerr.New(coreerr.Validation, fmt.Sprintf("signal.compile.unknown_field:%s", c.Field))
		}
		op := c.Op
		value := c.Value
		set := c.Set
		return func(e *SignalEvent) bool {
			v, ok := accessor(e)
			if !ok {
				return false
			}
			return applyNumericOp(op, v, value, set)
		}, nil

	case CondContains:
		if acc, ok := stringListFields[c.Field]; ok {
			token := c.Token
			return func(e *SignalEvent) bool {
				for _, s := range acc(e) {
					if s == token {
						return true
					}
				}
				return false
			}, nil
		}
		if acc, ok := stringFields[c.Field]; ok {
			token := c.Token
			return func(e *SignalEvent) bool {
				s, ok := acc(e)
				return ok && strings.Contains(s, token)
			}, nil
		}
		return nil, coreerr.New(coreerr.Validation, fmt.Sprintf("signal.compile.unknown_field:%s", c.Field))

	case CondRegex:
		acc, ok := stringFields[c.Field]
		if !ok {
			return nil, coreerr.New(coreerr.Validation, fmt.Sprintf("signal.compile.unknown_field:%s", c.Field))
		}
		re, err := regexp.Compile(c.Pattern)
		if err != nil {
			return nil, coreerr.Wrap(coreerr.Validation, "signal.compile.regex", err)
		}
		return func(e *SignalEvent) bool {
			s, ok := acc(e)
			return ok && re.MatchString(s)
		}, nil

	default:
		return nil, coreerr.New(coreerr.Validation, "signal.compile.unknown_condition_kind")
	}
}

func applyNumericOp(op CompareOp, v, value float64, set []float64) bool {
	switch op {
	case OpEq:
		return v == value
	case OpNe:
		return v != value
	case OpLt:
		return v < value
	case OpLe:
		return v <= value
	case OpGt:
		return v > value
	case OpGe:
		return v >= value
	case OpIn:
		for _, s := range set {
			if v == s {
				return true
			}
		}
		return false
	case OpNin:
		for _, s := range set {
			if v == s {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// globToRegexp translates a glob pattern where '*' matches any
// sequence including dots into an anchored, precompiled regexp.
func globToRegexp(pattern string) (*regexp.Regexp, error) {
	parts := strings.Split(pattern, "*")
	var b strings.Builder
	b.WriteString("^")
	for i, part := range parts {
		b.WriteString(regexp.QuoteMeta(part))
		if i < len(parts)-1 {
			b.WriteString("(?s).*")
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}
