package engine

import "fmt"

// TableParseError wraps a failure to decode a binary neuron table loaded
// into an Engine.
type TableParseError struct {
	Op  string
	Err error
}

func (e *TableParseError) Error() string {
	return fmt.Sprintf("engine: table parse: %s: %v", e.Op, e.Err)
}

func (e *TableParseError) Unwrap() error {
	return e.Err
}

func tableParseErr(op string, err error) error {
	return &TableParseError{Op: op, Err: err}
}

// InvalidParameterError reports an out-of-range engine or neuron parameter,
type InvalidParameterError struct {
	Param string
	Value interface{}
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("engine: invalid parameter %s = %v", e.Param, e.Value)
}

func invalidParamErr(param string, value interface{}) error {
	return &InvalidParameterError{Param: param, Value: value}
}
