/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: errors.go
Description: Contract violations. Structural mismatches are data and never reach here;
these errors mean a generator or parser broke its own interface and abort the run.
*/

package inference

import (
	"errors"
	"fmt"
)

// ErrContractViolation is matched by every ContractViolationError
var ErrContractViolation = errors.New("inference: contract violation")

// Stage names where a violation can occur
const (
	StageGenerate = "generate"
	StageParse    = "parse"
	StageVerify   = "verify"
	StageExtract  = "extract"
)

// ContractViolationError describes a plugin that broke its interface
type ContractViolationError struct {
	Stage  string // One of the Stage constants
	Plugin string // Generator or parser name, when known
	Key    string // Hypothesis key, when known
	Depth  int
	Err    error
}

func (e *ContractViolationError) Error() string {
	msg := fmt.Sprintf("inference: contract violation at depth %d during %s", e.Depth, e.Stage)
	if e.Plugin != "" {
		msg += " by " + e.Plugin
	}
	if e.Key != "" {
		msg += " for " + e.Key
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ContractViolationError) Unwrap() error {
	return e.Err
}

// Is matches ErrContractViolation
func (e *ContractViolationError) Is(target error) bool {
	return target == ErrContractViolation
}
