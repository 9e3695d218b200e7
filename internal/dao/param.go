package dao

import (
	"fmt"
	"sort"
	"sync"
)

type ParamType string

const (
	ParamString     ParamType = "TP_STRING"
	ParamInt        ParamType = "TP_INT"
	ParamIntArray   ParamType = "TP_INTARRAY"
	ParamFloat      ParamType = "TP_FLOAT"
	ParamFloatArray ParamType = "TP_FLOATARRAY"
)

var (
	paramVariantsMu sync.RWMutex
	// tag -> value field
	paramVariants = map[string]string{
		string(ParamString):     "value_string",
		string(ParamInt):        "value_int",
		string(ParamIntArray):   "value_int_array",
		string(ParamFloat):      "value_float",
		string(ParamFloatArray): "value_float_array",
	}
)

// RegisterParamType adds a parameter tag stored in an existing value field.
func RegisterParamType(tag ParamType, field string) error {
	paramVariantsMu.Lock()
	defer paramVariantsMu.Unlock()
	valid := false
	for _, f := range paramVariants {
		if f == field {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("unknown value field %q", field)
	}
	paramVariants[string(tag)] = field
	return nil
}

func ParamTypes() []ParamType {
	paramVariantsMu.RLock()
	defer paramVariantsMu.RUnlock()
	tags := make([]ParamType, 0, len(paramVariants))
	for tag := range paramVariants {
		tags = append(tags, ParamType(tag))
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}

// TaskParam is a named value whose type tag selects the populated value field.
type TaskParam struct {
	Type            ParamType `json:"type" validate:"required"`
	Name            string    `json:"name" validate:"required"`
	ValueString     *string   `json:"value_string,omitempty"`
	ValueInt        *int32    `json:"value_int,omitempty"`
	ValueIntArray   []int32   `json:"value_int_array,omitempty"`
	ValueFloat      *float64  `json:"value_float,omitempty"`
	ValueFloatArray []float64 `json:"value_float_array,omitempty"`
}

func (p *TaskParam) Discriminator() string {
	return "type"
}

func (p *TaskParam) Variants() map[string]string {
	paramVariantsMu.RLock()
	defer paramVariantsMu.RUnlock()
	variants := make(map[string]string, len(paramVariants))
	for k, v := range paramVariants {
		variants[k] = v
	}
	return variants
}

func StringParam(name, v string) TaskParam {
	return TaskParam{Type: ParamString, Name: name, ValueString: &v}
}

func IntParam(name string, v int32) TaskParam {
	return TaskParam{Type: ParamInt, Name: name, ValueInt: &v}
}

func IntArrayParam(name string, v ...int32) TaskParam {
	if v == nil {
		v = []int32{}
	}
	return TaskParam{Type: ParamIntArray, Name: name, ValueIntArray: v}
}

func FloatParam(name string, v float64) TaskParam {
	return TaskParam{Type: ParamFloat, Name: name, ValueFloat: &v}
}

func FloatArrayParam(name string, v ...float64) TaskParam {
	if v == nil {
		v = []float64{}
	}
	return TaskParam{Type: ParamFloatArray, Name: name, ValueFloatArray: v}
}

// IntValue looks up a TP_INT parameter by name.
func IntValue(params []TaskParam, name string) (int32, bool) {
	for _, p := range params {
		if p.Name == name && p.Type == ParamInt && p.ValueInt != nil {
			return *p.ValueInt, true
		}
	}
	return 0, false
}

func FloatValue(params []TaskParam, name string) (float64, bool) {
	for _, p := range params {
		if p.Name == name && p.Type == ParamFloat && p.ValueFloat != nil {
			return *p.ValueFloat, true
		}
	}
	return 0, false
}
