// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package errs defines the error type shared by every layer of the recovery
// client. Errors carry a Kind so callers can tell "need more participants"
// apart from "configuration is invalid" or "data is corrupted".
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind discriminates errors. Kind values implement error so that
// errors.Is(err, errs.ThresholdNotMet) works on any wrapped *Error.
type Kind int

const (
	// Other is an error of no particular kind.
	Other Kind = iota
	// Configuration reports invalid threshold or group parameters.
	Configuration
	// Crypto reports key length mismatches and encryption or decryption failures.
	Crypto
	// SecretSharing reports oversized secrets, malformed headers and shard mismatches.
	SecretSharing
	// ThresholdNotMet reports that too few groups or members were available.
	ThresholdNotMet
	// Transport reports a failed call to a node.
	Transport
	// NotFound reports a shard slot absent from a node.
	NotFound
)

func (k Kind) String() string {
	switch k {
	case Configuration:
		return "configuration error"
	case Crypto:
		return "crypto error"
	case SecretSharing:
		return "secret sharing error"
	case ThresholdNotMet:
		return "threshold not met"
	case Transport:
		return "transport error"
	case NotFound:
		return "not found"
	default:
		return "error"
	}
}

func (k Kind) Error() string { return k.String() }

// Module tags the layer an error originated in.
type Module string

// Module tags.
const (
	Secret      Module = "secret"
	CryptoLayer Module = "crypto"
	Node        Module = "node"
	Coordinator Module = "coordinator"
	Zaturn      Module = "zaturn"
	Identity    Module = "identity"
	Keystore    Module = "keystore"
)

// Error is the structured error returned across package boundaries.
type Error struct {
	Kind   Kind
	Module Module

	// NodeID and Slot locate the failing branch of a fan-out, when known.
	// Slot is -1 when the error is not tied to one slot.
	NodeID string
	Slot   int

	// Satisfied and Required are set for ThresholdNotMet.
	Satisfied int
	Required  int

	Msg string
	Err error
}

// E builds an *Error. Arguments are applied by type:
//
//	Kind, Module   set the corresponding field
//	string         sets Msg
//	error          sets Err
//	Locator        sets NodeID and Slot
//	Counts         sets Satisfied and Required
//
// Unknown argument types panic, as they indicate a programming error.
func E(args ...any) error {
	e := &Error{Slot: -1}
	for _, arg := range args {
		switch a := arg.(type) {
		case Kind:
			e.Kind = a
		case Module:
			e.Module = a
		case string:
			e.Msg = a
		case Locator:
			e.NodeID = a.NodeID
			e.Slot = a.Slot
		case Counts:
			e.Satisfied = a.Satisfied
			e.Required = a.Required
		case error:
			e.Err = a
		case nil:
		default:
			panic(fmt.Sprintf("errs.E: bad argument of type %T", arg))
		}
	}
	return e
}

// Errorf is shorthand for E(kind, module, fmt.Sprintf(format, args...)).
func Errorf(kind Kind, module Module, format string, args ...any) error {
	return E(kind, module, fmt.Sprintf(format, args...))
}

// Locator identifies a node and slot in a fan-out.
type Locator struct {
	NodeID string
	Slot   int
}

// At returns a Locator for the given node and slot.
func At(nodeID string, slot int) Locator { return Locator{NodeID: nodeID, Slot: slot} }

// Counts holds the observed and required counts of a threshold check.
type Counts struct {
	Satisfied int
	Required  int
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Module != "" {
		b.WriteString(string(e.Module))
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.NodeID != "" {
		fmt.Fprintf(&b, " (node %s", e.NodeID)
		if e.Slot >= 0 {
			fmt.Fprintf(&b, ", slot %d", e.Slot)
		}
		b.WriteString(")")
	}
	if e.Kind == ThresholdNotMet {
		fmt.Fprintf(&b, " (%d/%d)", e.Satisfied, e.Required)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is this error's Kind, or an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case Kind:
		return e.Kind == t && t != Other
	case *Error:
		return e.Kind == t.Kind && t.Kind != Other
	}
	return false
}

// KindOf returns the Kind of the outermost *Error in err's chain that has one,
// or Other.
func KindOf(err error) Kind {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return Other
		}
		if e.Kind != Other {
			return e.Kind
		}
		err = e.Err
	}
	return Other
}
